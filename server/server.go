// Package server exposes the HTTP API used by the chat page: prompt
// resolution, speech, response polling, chat event streams (SSE and
// websocket), conversation control, health, metrics and admin endpoints.
// It injects correlation IDs into request contexts for consistent logging.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/renai/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine and any
// long-lived streams.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	h := NewHandlers(ctx, deps)
	authCfg := loadAuthConfig(h.Config)
	rateLimiter := newIPRateLimiter(ctx, loadRateLimiterConfig(h.Config))
	corsCfg := loadCORSConfig(h.Config)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(withCorrelation)
	r.Use(func(next http.Handler) http.Handler { return withCORSConfig(next, corsCfg) })

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	// Page and assets
	r.Get("/", h.HandleIndex)
	staticDir := h.Config.StaticDir
	if staticDir == "" {
		staticDir = "static"
	}
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	// Conversation
	r.Post("/generate", h.HandleGenerate)
	r.Post("/tts", h.HandleTTS)
	r.Get("/messages", h.HandleMessages)
	r.Get("/get_messages", h.HandleMessages)
	r.Get("/events", h.HandleEvents)
	r.Get("/ws", h.HandleWebSocket)
	r.Post("/stop", h.HandleStop)
	r.Post("/resume", h.HandleResume)
	r.Post("/reset_timer", h.HandleResetTimer)
	r.Get("/state", h.HandleState)

	// Health, readiness and metrics
	r.Get("/healthz", h.HandleHealthz)
	r.Get("/readyz", h.HandleReadyz)
	r.Handle("/metrics", promhttp.Handler())

	// Admin endpoints: auth first, then rate limiting
	r.Route("/admin", func(ar chi.Router) {
		ar.Use(func(next http.Handler) http.Handler {
			return adminAuth(rateLimitMiddleware(next, rateLimiter), authCfg)
		})
		ar.Post("/persona/reload", h.HandleAdminPersonaReload)
		ar.Get("/cache", h.HandleAdminCache)
		ar.Post("/worker/stop", h.HandleAdminWorkerStop)
	})
	return r
}

// withCorrelation reuses X-Correlation-ID or the chi request id, starts a
// server span and records the response status on it.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = middleware.GetReqID(r.Context())
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			span.SetName(r.Method + " " + rctx.RoutePattern())
			span.SetAttributes(telemetry.HTTPRouteAttr(rctx.RoutePattern()))
		}
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets websocket upgrades through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer %T does not support hijacking", r.ResponseWriter)
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
// Responses carry no write deadline: /events and /ws stream until the client
// or ctx goes away.
func Start(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
