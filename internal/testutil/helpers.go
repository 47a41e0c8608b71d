package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/observability"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTimeout provides a standard timeout for test contexts
const TestTimeout = 5 * time.Second

// NewTestContext creates a context with standard test timeout
func NewTestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), TestTimeout)
	t.Cleanup(cancel)
	return ctx
}

// NewTestSession creates a pending research session
func NewTestSession(id, topic string, providers ...domain.ProviderID) *domain.ResearchSession {
	now := time.Now()
	return &domain.ResearchSession{
		ID:        id,
		Topic:     topic,
		Providers: providers,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// FixedClock returns a clock that always reports t
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// SetupTestTelemetry creates test telemetry with span recorder and metric reader.
// Nothing is registered globally.
func SetupTestTelemetry(spanRecorder *tracetest.SpanRecorder, metricReader metric.Reader) *observability.Telemetry {
	tracerProvider := trace.NewTracerProvider(
		trace.WithSpanProcessor(spanRecorder),
	)
	meterProvider := metric.NewMeterProvider(
		metric.WithReader(metricReader),
	)
	return observability.NewTelemetryFromProviders("test-service", tracerProvider, meterProvider)
}

// NewTestMetrics creates metrics backed by the telemetry's meter
func NewTestMetrics(t *testing.T, telemetry *observability.Telemetry) *observability.Metrics {
	t.Helper()
	metrics, err := observability.NewMetrics(telemetry.Meter())
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}
	return metrics
}
