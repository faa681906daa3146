package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onnwee/renai/router"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

type wsInbound struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

type wsOutbound struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// HandleWebSocket upgrades to a websocket that pushes every new response
// ("response") and chat event ("chat") and accepts {"prompt": "..."} frames.
// Prompts are attributed to "ws:<client id>" so a client can pick out its own
// answers by original_user.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", slog.Any("err", err), slog.String("component", "http"))
		return
	}
	defer func() { _ = conn.Close() }()

	id := uuid.NewString()
	logger := slog.Default().With(slog.String("component", "ws"), slog.String("client", id))
	logger.Debug("websocket connected")

	// hijacked connections outlive the request context, so follow the server's
	ctx, cancel := context.WithCancel(h.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	respCursor := h.Router.Responses().Cursor()
	eventCursor := h.Router.Events().Cursor()
	out := make(chan wsOutbound, 32)
	out <- wsOutbound{Type: "connected", ID: id, Timestamp: h.Now().Unix()}

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		h.wsWriter(ctx, conn, out, logger)
		cancel()
	}()
	go func() {
		defer wg.Done()
		cursor := respCursor
		for {
			items, next, err := h.Router.Responses().Wait(ctx, cursor)
			if err != nil {
				return
			}
			for _, item := range items {
				if !h.wsSend(ctx, out, wsOutbound{Type: "response", Data: item}) {
					return
				}
			}
			cursor = next
		}
	}()
	go func() {
		defer wg.Done()
		cursor := eventCursor
		for {
			items, next, err := h.Router.Events().Wait(ctx, cursor)
			if err != nil {
				return
			}
			for _, item := range items {
				if !h.wsSend(ctx, out, wsOutbound{Type: "chat", Data: item}) {
					return
				}
			}
			cursor = next
		}
	}()

	h.wsReadLoop(ctx, conn, out, "ws:"+id, logger)
	cancel()
	wg.Wait()
	logger.Debug("websocket closed")
}

func (h *Handlers) wsSend(ctx context.Context, out chan<- wsOutbound, msg wsOutbound) bool {
	if msg.Timestamp == 0 {
		msg.Timestamp = h.Now().Unix()
	}
	select {
	case out <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// wsWriter is the only goroutine writing to conn.
func (h *Handlers) wsWriter(ctx context.Context, conn *websocket.Conn, out <-chan wsOutbound, logger *slog.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case msg := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("websocket write failed", slog.Any("err", err))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				logger.Debug("websocket ping failed", slog.Any("err", err))
				return
			}
		}
	}
}

func (h *Handlers) wsReadLoop(ctx context.Context, conn *websocket.Conn, out chan<- wsOutbound, author string, logger *slog.Logger) {
	conn.SetReadLimit(maxBodyBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg wsInbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.Debug("websocket read error", slog.Any("err", err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		if msg.Type != "" && msg.Type != "prompt" {
			h.wsSend(ctx, out, wsOutbound{Type: "error", Error: "unknown message type " + msg.Type})
			continue
		}
		prompt := strings.TrimSpace(msg.Prompt)
		if prompt == "" {
			h.wsSend(ctx, out, wsOutbound{Type: "error", Error: "Empty query"})
			continue
		}
		h.State.UserActivity(h.Now())
		err := h.Router.Enqueue(router.Message{Author: author, Text: prompt, Source: router.SourceWeb})
		if errors.Is(err, router.ErrStopped) {
			h.wsSend(ctx, out, wsOutbound{Type: "error", Error: "resolver worker is stopped"})
		}
	}
}
