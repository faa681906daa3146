// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	Resolutions          *prometheus.CounterVec // by tier
	RemoteFailures       *prometheus.CounterVec // by service, reason
	CacheErrors          *prometheus.CounterVec // by op
	AutoMessagesSent     *prometheus.CounterVec // by category
	ChatMessagesReceived prometheus.Counter
	ChatSendFailures     prometheus.Counter
	RateLimited          prometheus.Counter

	// Histograms (seconds)
	ResolveDuration prometheus.Observer
	RemoteDuration  *prometheus.HistogramVec // by service

	// Gauges
	InboundDepthGauge prometheus.Gauge
	OutboundLogGauge  prometheus.Gauge
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		Resolutions = promauto.NewCounterVec(prometheus.CounterOpts{Name: "renai_resolutions_total", Help: "Resolved prompts by answering tier"}, []string{"tier"})
		RemoteFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "renai_remote_failures_total", Help: "Failed remote QA/search calls"}, []string{"service", "reason"})
		CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "renai_cache_errors_total", Help: "Response cache load/store failures"}, []string{"op"})
		AutoMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "renai_auto_messages_total", Help: "Auto-conversation triggers sent"}, []string{"category"})
		ChatMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "renai_chat_messages_received_total", Help: "Chat messages received from IRC"})
		ChatSendFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "renai_chat_send_failures_total", Help: "Chat lines that could not be written"})
		RateLimited = promauto.NewCounter(prometheus.CounterOpts{Name: "renai_http_rate_limited_total", Help: "Requests rejected by the rate limiter"})
		ResolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "renai_resolve_duration_seconds", Help: "End-to-end prompt resolution seconds", Buckets: prometheus.DefBuckets})
		RemoteDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "renai_remote_duration_seconds", Help: "Remote QA/search call seconds", Buckets: prometheus.DefBuckets}, []string{"service"})
		InboundDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "renai_inbound_queue_depth", Help: "Messages waiting for the resolver"})
		OutboundLogGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "renai_outbound_log_size", Help: "Resolved responses retained for pollers"})
	})
}

// IncResolution counts one prompt answered by tier.
func IncResolution(tier string) {
	if Resolutions != nil {
		Resolutions.WithLabelValues(tier).Inc()
	}
}

// IncRemoteFailure counts a failed remote call.
func IncRemoteFailure(service, reason string) {
	if RemoteFailures != nil {
		RemoteFailures.WithLabelValues(service, reason).Inc()
	}
}

// ObserveRemote records remote call latency.
func ObserveRemote(service string, d time.Duration) {
	if RemoteDuration != nil {
		RemoteDuration.WithLabelValues(service).Observe(d.Seconds())
	}
}

// IncCacheError counts a cache failure for op (load or store).
func IncCacheError(op string) {
	if CacheErrors != nil {
		CacheErrors.WithLabelValues(op).Inc()
	}
}

// IncAutoMessage counts a trigger sent by the auto-conversation loop.
func IncAutoMessage(category string) {
	if AutoMessagesSent != nil {
		AutoMessagesSent.WithLabelValues(category).Inc()
	}
}

// IncChatReceived counts an inbound chat message.
func IncChatReceived() {
	if ChatMessagesReceived != nil {
		ChatMessagesReceived.Inc()
	}
}

// IncChatSendFailure counts a dropped outbound chat line.
func IncChatSendFailure() {
	if ChatSendFailures != nil {
		ChatSendFailures.Inc()
	}
}

// IncRateLimited counts a rejected HTTP request.
func IncRateLimited() {
	if RateLimited != nil {
		RateLimited.Inc()
	}
}

// SetInboundDepth records the current inbound queue length.
func SetInboundDepth(n int) {
	if InboundDepthGauge != nil {
		InboundDepthGauge.Set(float64(n))
	}
}

// SetOutboundLogSize records the retained response count.
func SetOutboundLogSize(n int) {
	if OutboundLogGauge != nil {
		OutboundLogGauge.Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
