package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockAPIServer is a test server standing in for the QA, search and Twitch
// token endpoints. Handlers are keyed by URL path; calls are counted per path.
type MockAPIServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	calls map[string]int
	last  map[string]*http.Request
}

// NewMockAPIServer creates a new mock API server.
func NewMockAPIServer(t *testing.T) *MockAPIServer {
	t.Helper()
	m := &MockAPIServer{
		Handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
		last:     make(map[string]*http.Request),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		m.mu.Lock()
		m.calls[key]++
		m.last[key] = r.Clone(r.Context())
		handler, ok := m.Handlers[key]
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Calls returns how many requests hit path.
func (m *MockAPIServer) Calls(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

// LastRequest returns the most recent request to path, or nil.
func (m *MockAPIServer) LastRequest(path string) *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last[path]
}

// URLFor returns the absolute URL for path on this server.
func (m *MockAPIServer) URLFor(path string) string { return m.Server.URL + path }

func (m *MockAPIServer) set(path string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[path] = h
	m.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockCompletion answers chat-completion requests on path with content.
func (m *MockAPIServer) MockCompletion(path, content string) {
	m.set(path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
		})
	})
}

// MockStatus answers path with status and a small JSON error body.
func (m *MockAPIServer) MockStatus(path string, status int) {
	m.set(path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		writeJSON(w, map[string]string{"error": http.StatusText(status)})
	})
}

// MockSlow delays the response on path by d, or until the client gives up.
func (m *MockAPIServer) MockSlow(path string, d time.Duration) {
	m.set(path, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(d):
		case <-r.Context().Done():
			return
		}
		writeJSON(w, map[string]any{})
	})
}

// MockAbstract answers search requests on path with an Abstract and optional
// related topic texts.
func (m *MockAPIServer) MockAbstract(path, abstract string, related ...string) {
	m.set(path, func(w http.ResponseWriter, r *http.Request) {
		topics := make([]map[string]string, 0, len(related))
		for _, t := range related {
			topics = append(topics, map[string]string{"Text": t})
		}
		writeJSON(w, map[string]any{"Abstract": abstract, "RelatedTopics": topics})
	})
}

// MockTokenValidate answers the Twitch token validation endpoint on path.
func (m *MockAPIServer) MockTokenValidate(path, login string) {
	m.set(path, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{
			"client_id":  "test-client",
			"login":      login,
			"user_id":    "12345",
			"scopes":     []string{"chat:read", "chat:edit"},
			"expires_in": 3600,
		})
	})
}
