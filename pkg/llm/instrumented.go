package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/observability"
)

// InstrumentedGateway wraps a gateway with tracing and metrics
type InstrumentedGateway struct {
	gateway   domain.ProviderGateway
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
}

// NewInstrumentedGateway creates a new instrumented gateway
func NewInstrumentedGateway(gateway domain.ProviderGateway, telemetry *observability.Telemetry, metrics *observability.Metrics) (*InstrumentedGateway, error) {
	if gateway == nil {
		return nil, fmt.Errorf("gateway is required")
	}
	if telemetry == nil {
		return nil, fmt.Errorf("telemetry is required")
	}
	if metrics == nil {
		var err error
		metrics, err = observability.NewMetrics(telemetry.Meter())
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
	}

	return &InstrumentedGateway{
		gateway:   gateway,
		telemetry: telemetry,
		metrics:   metrics,
	}, nil
}

// ID returns the wrapped gateway's provider
func (g *InstrumentedGateway) ID() domain.ProviderID {
	return g.gateway.ID()
}

// Generate performs an instrumented generate call
func (g *InstrumentedGateway) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	var result *domain.GenerateResult
	start := time.Now()
	err := g.telemetry.InstrumentProviderCall(ctx, string(g.gateway.ID()), req.Model, req.MaxOutputTokens,
		func(ctx context.Context) (int, error) {
			var err error
			result, err = g.gateway.Generate(ctx, req)
			if err != nil {
				return 0, err
			}
			return len(result.Content), nil
		})
	g.metrics.RecordProviderCall(ctx, string(g.gateway.ID()), string(req.Mode), err, time.Since(start))
	if err != nil {
		return nil, err
	}
	return result, nil
}
