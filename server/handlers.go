// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onnwee/renai/cache"
	"github.com/onnwee/renai/chat"
	"github.com/onnwee/renai/config"
	"github.com/onnwee/renai/persona"
	"github.com/onnwee/renai/router"
	"github.com/onnwee/renai/speech"
)

const (
	// DefaultGenerateTimeout bounds how long /generate waits for the worker.
	DefaultGenerateTimeout = 60 * time.Second

	// webAuthor is the author recorded for prompts typed into the web UI.
	webAuthor = "web"
)

// Deps holds the collaborators the HTTP surface drives. Router, State and
// Config are required; the rest may be nil.
type Deps struct {
	Config  *config.Config
	Router  *router.Router
	State   *chat.State
	Persona *persona.Persona
	Cache   *cache.Cache
	Speech  speech.Synthesizer
	DB      *sql.DB // readiness pings it when set

	Now             func() time.Time
	GenerateTimeout time.Duration
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	Deps
	ctx      context.Context // server lifetime; ends long-lived streams on shutdown
	upgrader websocket.Upgrader
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(ctx context.Context, deps Deps) *Handlers {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.GenerateTimeout <= 0 {
		deps.GenerateTimeout = DefaultGenerateTimeout
	}
	if deps.Speech == nil {
		deps.Speech = speech.Disabled{}
	}
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	h := &Handlers{Deps: deps, ctx: ctx}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin applies the CORS policy to websocket upgrades.
func (h *Handlers) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.Config.CORSPermissive {
		return true
	}
	if isOriginAllowed(origin, h.Config.CORSOrigins) {
		return true
	}
	// same host is always fine
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}
