// Package remote holds the HTTP clients for the external answer sources: a
// chat-completions style QA API and a web abstract search.
//
// Both clients return an error for every failure mode (transport, timeout,
// non-2xx, malformed payload, empty answer). Callers treat any error as "no
// result"; Reason maps an error to a metrics label.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/onnwee/renai/telemetry"
)

// ErrEmpty is returned when the service answered but carried no usable text.
var ErrEmpty = errors.New("remote: empty answer")

// StatusError is returned for a non-2xx response.
type StatusError struct {
	Service string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Service, e.Code, e.Body)
}

// Reason classifies err for failure counters.
func Reason(err error) string {
	var se *StatusError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrEmpty):
		return "empty"
	case errors.As(err, &se):
		return "status"
	case errors.Is(err, errDecode):
		return "decode"
	default:
		return "transport"
	}
}

var errDecode = errors.New("malformed payload")

// do executes req and returns the body of a 2xx response. Latency and failures
// are recorded under service.
func do(hc *http.Client, service string, req *http.Request) (body []byte, err error) {
	start := time.Now()
	defer func() {
		telemetry.ObserveRemote(service, time.Since(start))
		if err != nil {
			telemetry.IncRemoteFailure(service, Reason(err))
		}
	}()

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("failed to close response body", slog.Any("err", cerr), slog.String("service", service))
		}
	}()
	body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := string(body)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, &StatusError{Service: service, Code: resp.StatusCode, Body: snippet}
	}
	return body, nil
}
