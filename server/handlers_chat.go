package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// sseHeartbeat is how often an idle event stream sends a comment line so
// proxies keep the connection open.
var sseHeartbeat = 15 * time.Second

// HandleEvents streams chat events as Server-Sent Events. Each event carries
// its sequence number as the SSE id; "after" (or Last-Event-ID) resumes from a
// sequence, otherwise only new events are sent.
func (h *Handlers) HandleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	log := h.Router.Events()
	cursor := log.Cursor()
	if id := r.Header.Get("Last-Event-ID"); id != "" {
		var n uint64
		if _, err := fmt.Sscanf(id, "%d", &n); err == nil {
			cursor = n
		}
	}
	cursor = parseUintQuery(r, "after", cursor)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		waitCtx, waitCancel := context.WithTimeout(ctx, sseHeartbeat)
		events, next, err := log.Wait(waitCtx, cursor)
		waitCancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
			continue
		}
		for _, ev := range events {
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("failed to marshal chat event", slog.Any("err", err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.Seq, data); err != nil {
				slog.Debug("sse client gone", slog.Any("err", err), slog.String("component", "http"))
				return
			}
		}
		flusher.Flush()
		cursor = next
	}
}
