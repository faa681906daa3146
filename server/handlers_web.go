package server

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/onnwee/renai/router"
	"github.com/onnwee/renai/speech"
	"github.com/onnwee/renai/telemetry"
)

//go:embed index.html
var defaultIndex []byte

type generateRequest struct {
	Prompt string `json:"prompt"`
}

type generateResponse struct {
	Text      string  `json:"text"`
	Seq       uint64  `json:"seq"`
	Timestamp float64 `json:"timestamp"`
}

type ttsRequest struct {
	Text string `json:"text"`
}

// HandleIndex serves the chat page and marks the UI as loaded, which enables
// the auto-conversation scheduler.
func (h *Handlers) HandleIndex(w http.ResponseWriter, r *http.Request) {
	h.State.MarkLoaded()
	page := defaultIndex
	if h.Config.IndexPath != "" {
		if b, err := os.ReadFile(h.Config.IndexPath); err == nil {
			page = b
		} else if !os.IsNotExist(err) {
			slog.Warn("index page unreadable, serving built-in page", slog.String("path", h.Config.IndexPath), slog.Any("err", err))
		}
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

// HandleGenerate resolves a web prompt through the router and waits for the
// answer.
func (h *Handlers) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		respondError(w, http.StatusBadRequest, "Empty query")
		return
	}
	h.State.UserActivity(h.Now())

	resp, err := h.submit(r.Context(), webAuthor, prompt)
	if err != nil {
		h.respondSubmitError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, generateResponse{Text: resp.Text, Seq: resp.Seq, Timestamp: resp.Timestamp})
}

// submit queues a web prompt and waits for its response or the deadline.
func (h *Handlers) submit(ctx context.Context, author, text string) (router.Response, error) {
	ticket, err := h.Router.Submit(router.Message{
		Author: author,
		Text:   text,
		Source: router.SourceWeb,
		CorrID: telemetry.GetCorrelation(ctx),
	})
	if err != nil {
		return router.Response{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, h.GenerateTimeout)
	defer cancel()
	select {
	case resp, ok := <-ticket:
		if !ok {
			return router.Response{}, router.ErrStopped
		}
		return resp, nil
	case <-ctx.Done():
		return router.Response{}, ctx.Err()
	}
}

func (h *Handlers) respondSubmitError(w http.ResponseWriter, r *http.Request, err error) {
	logger := telemetry.LoggerWithCorr(r.Context())
	switch {
	case errors.Is(err, router.ErrStopped):
		respondError(w, http.StatusServiceUnavailable, "resolver worker is stopped")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("generate timed out", slog.String("component", "http"))
		respondError(w, http.StatusGatewayTimeout, "timed out waiting for a response")
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		logger.Error("generate failed", slog.Any("err", err), slog.String("component", "http"))
		respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// HandleTTS renders text to the shared audio file.
func (h *Handlers) HandleTTS(w http.ResponseWriter, r *http.Request) {
	var req ttsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text is required")
		return
	}
	h.State.UserActivity(h.Now())

	url, err := h.Speech.Synthesize(r.Context(), req.Text)
	if err != nil {
		if errors.Is(err, speech.ErrDisabled) {
			respondError(w, http.StatusServiceUnavailable, "text-to-speech is not configured")
			return
		}
		telemetry.LoggerWithCorr(r.Context()).Error("tts failed", slog.Any("err", err), slog.String("component", "http"))
		respondError(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"audio_url": url})
}

// HandleMessages returns retained responses newer than the "after" watermark
// (unix seconds). Polling never consumes responses. An optional "source"
// parameter (web or chat) filters by origin.
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	after := parseFloat64Query(r, "after", 0)
	out := h.Router.ResponsesAfter(after)
	if s := r.URL.Query().Get("source"); s != "" {
		var want router.Source
		if err := want.UnmarshalText([]byte(s)); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		filtered := out[:0]
		for _, resp := range out {
			if resp.OriginalSource == want {
				filtered = append(filtered, resp)
			}
		}
		out = filtered
	}
	if out == nil {
		out = []router.Response{}
	}
	respondJSON(w, http.StatusOK, out)
}

// HandleStop records user activity and pauses the auto-conversation. The page
// calls it before every prompt and when the user silences playback.
func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.State.UserActivity(h.Now())
	respondJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleResume unpauses the auto-conversation.
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.State.Resume(h.Now())
	respondJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// HandleResetTimer restarts the idle clock and unpauses.
func (h *Handlers) HandleResetTimer(w http.ResponseWriter, r *http.Request) {
	h.State.Resume(h.Now())
	respondJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// HandleState reports the conversation flags and queue depth.
func (h *Handlers) HandleState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"conversation":   h.State.Snapshot(),
		"queue_length":   h.Router.QueueLen(),
		"worker_stopped": h.Router.Stopped(),
	})
}
