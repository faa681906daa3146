package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/onnwee/renai/cache"
	"github.com/onnwee/renai/persona"
)

// HandleAdminPersonaReload re-reads the persona file. A failed reload keeps
// the previous traits.
func (h *Handlers) HandleAdminPersonaReload(w http.ResponseWriter, r *http.Request) {
	if h.Persona == nil {
		respondError(w, http.StatusServiceUnavailable, "persona not configured")
		return
	}
	if err := h.Persona.Reload(); err != nil {
		if errors.Is(err, persona.ErrNoSource) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		slog.Warn("persona reload failed", slog.Any("err", err), slog.String("component", "http"))
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "path": h.Persona.Path()})
}

// HandleAdminCache lists cached prompts in store order. "q" filters by a
// case-insensitive substring of the prompt; "limit" caps the result.
func (h *Handlers) HandleAdminCache(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		respondError(w, http.StatusServiceUnavailable, "cache not configured")
		return
	}
	entries := h.Cache.Entries(r.Context())
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	limit := int(parseUintQuery(r, "limit", 0))

	out := make([]cache.Entry, 0, len(entries))
	for _, e := range entries {
		if q != "" && !strings.Contains(strings.ToLower(e.Prompt), q) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"total": len(entries), "entries": out})
}

// HandleAdminWorkerStop stops the resolver worker after the item in progress.
// Queued prompts are abandoned and later submissions fail.
func (h *Handlers) HandleAdminWorkerStop(w http.ResponseWriter, r *http.Request) {
	h.Router.Stop()
	respondJSON(w, http.StatusAccepted, map[string]any{"status": "stopping", "queued": h.Router.QueueLen()})
}
