package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onnwee/renai/testutil"
)

func TestQAClientAsk(t *testing.T) {
	srv := testutil.NewMockAPIServer(t)
	var gotBody completionRequest
	srv.Handlers["/v1/chat/completions"] = func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(b, &gotBody)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Paris"}}]}`))
	}

	c := NewQAClient("secret", srv.URLFor("/v1/chat/completions"), "")
	got, err := c.Ask(context.Background(), "Capital of France?")
	require.NoError(t, err)
	assert.Equal(t, "Paris", got)
	assert.Equal(t, DefaultQAModel, gotBody.Model)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	assert.Equal(t, "Capital of France?", gotBody.Messages[0].Content)
}

func TestQAClientFailures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*testutil.MockAPIServer)
		reason string
	}{
		{"non-2xx", func(m *testutil.MockAPIServer) { m.MockStatus("/qa", http.StatusBadGateway) }, "status"},
		{"empty content", func(m *testutil.MockAPIServer) { m.MockCompletion("/qa", "  ") }, "empty"},
		{"malformed", func(m *testutil.MockAPIServer) {
			m.Handlers["/qa"] = func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("{not json")) }
		}, "decode"},
		{"timeout", func(m *testutil.MockAPIServer) { m.MockSlow("/qa", 2*time.Second) }, "timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewMockAPIServer(t)
			tt.setup(srv)
			c := NewQAClient("k", srv.URLFor("/qa"), "m")
			c.Timeout = 100 * time.Millisecond

			got, err := c.Ask(context.Background(), "q")
			require.Error(t, err)
			assert.Empty(t, got)
			assert.Equal(t, tt.reason, Reason(err))
		})
	}
}

func TestSearchClientAbstractThenRelated(t *testing.T) {
	srv := testutil.NewMockAPIServer(t)
	srv.MockAbstract("/", "Paris is the capital of France.")
	c := NewSearchClient(srv.URLFor("/"))

	got, err := c.Search(context.Background(), "capital of france")
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", got)

	req := srv.LastRequest("/")
	require.NotNil(t, req)
	q := req.URL.Query()
	assert.Equal(t, "capital of france", q.Get("q"))
	assert.Equal(t, "json", q.Get("format"))
	assert.Equal(t, "1", q.Get("no_html"))
	assert.Equal(t, "1", q.Get("skip_disambig"))

	srv.MockAbstract("/", "", "First topic", "Second topic")
	got, err = c.Search(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "First topic", got)
}

func TestSearchClientNoAbstract(t *testing.T) {
	srv := testutil.NewMockAPIServer(t)
	srv.MockAbstract("/", "")
	c := NewSearchClient(srv.URLFor("/"))

	_, err := c.Search(context.Background(), "nothing")
	assert.True(t, errors.Is(err, ErrEmpty))
	assert.Equal(t, "empty", Reason(err))
}

func TestReasonTransport(t *testing.T) {
	c := NewSearchClient("http://127.0.0.1:1/")
	_, err := c.Search(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, "transport", Reason(err))
	assert.Equal(t, "", Reason(nil))
}
