package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestInitIdempotent(t *testing.T) {
	Init()
	first := Resolutions
	Init()
	if Resolutions != first {
		t.Error("Init re-registered Resolutions")
	}
	if ResolveDuration == nil || RemoteDuration == nil {
		t.Error("histograms not initialized")
	}
}

func TestHelpersCountByLabel(t *testing.T) {
	Init()

	before := testutil.ToFloat64(Resolutions.WithLabelValues("exact_cache"))
	IncResolution("exact_cache")
	IncResolution("exact_cache")
	if got := testutil.ToFloat64(Resolutions.WithLabelValues("exact_cache")) - before; got != 2 {
		t.Errorf("exact_cache resolutions delta = %v, want 2", got)
	}

	beforeFail := testutil.ToFloat64(RemoteFailures.WithLabelValues("qa", "timeout"))
	IncRemoteFailure("qa", "timeout")
	if got := testutil.ToFloat64(RemoteFailures.WithLabelValues("qa", "timeout")) - beforeFail; got != 1 {
		t.Errorf("qa timeout failures delta = %v, want 1", got)
	}

	SetInboundDepth(7)
	if got := testutil.ToFloat64(InboundDepthGauge); got != 7 {
		t.Errorf("inbound depth = %v, want 7", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Errorf("empty context correlation = %q", got)
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("correlation = %q, want abc-123", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
