package workflow

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// ModelResolver supplies per-provider defaults
type ModelResolver interface {
	DefaultModel(provider domain.ProviderID) string
	ClampTokens(model string, tokens int) int
}

// OrchestratorConfig holds orchestrator configuration
type OrchestratorConfig struct {
	Store            domain.SessionStore
	Runner           *TaskRunner
	Models           ModelResolver
	DefaultMaxTokens int
	// MaxConcurrentProviders limits runners per session; 0 means unbounded
	MaxConcurrentProviders int
	Telemetry              *observability.Telemetry
	Metrics                *observability.Metrics
}

// Orchestrator fans a session out to its providers and aggregates the outcome
type Orchestrator struct {
	store            domain.SessionStore
	runner           *TaskRunner
	models           ModelResolver
	defaultMaxTokens int
	maxConcurrent    int
	telemetry        *observability.Telemetry
	metrics          *observability.Metrics
	logger           *observability.StructuredLogger
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("task runner is required")
	}
	if cfg.Models == nil {
		return nil, fmt.Errorf("model resolver is required")
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 8000
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = observability.NewNoopTelemetry()
	}
	if cfg.Metrics == nil {
		metrics, err := observability.NewMetrics(cfg.Telemetry.Meter())
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics: %w", err)
		}
		cfg.Metrics = metrics
	}

	return &Orchestrator{
		store:            cfg.Store,
		runner:           cfg.Runner,
		models:           cfg.Models,
		defaultMaxTokens: cfg.DefaultMaxTokens,
		maxConcurrent:    cfg.MaxConcurrentProviders,
		telemetry:        cfg.Telemetry,
		metrics:          cfg.Metrics,
		logger:           observability.NewStructuredLogger("orchestrator"),
	}, nil
}

// Resolve turns requested providers into assignments. Duplicates are
// ignored and providers without a resolvable model are skipped.
func (o *Orchestrator) Resolve(sessionID, topic string, providers []domain.ProviderID, settings map[domain.ProviderID]domain.ProviderSettings) []Assignment {
	seen := make(map[domain.ProviderID]struct{}, len(providers))
	assignments := make([]Assignment, 0, len(providers))

	for _, provider := range providers {
		if _, dup := seen[provider]; dup {
			continue
		}
		seen[provider] = struct{}{}

		override := settings[provider]
		model := override.Model
		if model == "" {
			model = o.models.DefaultModel(provider)
		}
		if model == "" {
			o.logger.Warn(context.Background(), "No model for provider, skipping", map[string]interface{}{
				"session_id": sessionID,
				"provider":   string(provider),
			})
			continue
		}

		maxTokens := override.MaxTokens
		if maxTokens <= 0 {
			maxTokens = o.defaultMaxTokens
		}

		assignments = append(assignments, Assignment{
			SessionID: sessionID,
			Topic:     topic,
			Provider:  provider,
			Model:     model,
			MaxTokens: o.models.ClampTokens(model, maxTokens),
		})
	}
	return assignments
}

// StartResearch runs every resolvable provider concurrently and waits for
// all of them to finish. One provider's failure never stops another.
// The aggregate session status is written to the store before returning.
func (o *Orchestrator) StartResearch(ctx context.Context, sessionID, topic string, providers []domain.ProviderID, settings map[domain.ProviderID]domain.ProviderSettings) ([]domain.RunResult, error) {
	names := make([]string, len(providers))
	for i, p := range providers {
		names[i] = string(p)
	}
	ctx, span := o.telemetry.StartResearchSession(ctx, sessionID, topic, names)
	defer span.End()

	bookkeeping := context.WithoutCancel(ctx)
	if err := o.store.UpdateSessionStatus(bookkeeping, sessionID, domain.StatusInProgress); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	assignments := o.Resolve(sessionID, topic, providers, settings)
	start := time.Now()
	o.metrics.RecordSessionStarted(bookkeeping, len(assignments))

	o.logger.Info(ctx, "Research session started", map[string]interface{}{
		"session_id": sessionID,
		"providers":  len(assignments),
	})

	results := make([]domain.RunResult, len(assignments))
	g := new(errgroup.Group)
	if o.maxConcurrent > 0 {
		g.SetLimit(o.maxConcurrent)
	}
	for i, a := range assignments {
		g.Go(func() error {
			results[i] = o.runProvider(ctx, a)
			return nil
		})
	}
	_ = g.Wait()

	status := AggregateStatus(results)
	if err := o.store.UpdateSessionStatus(bookkeeping, sessionID, status); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return results, fmt.Errorf("failed to record session status: %w", err)
	}

	o.metrics.RecordSessionFinished(bookkeeping, string(status), time.Since(start))
	span.SetAttributes(attribute.String("session.status", string(status)))
	if status == domain.StatusCompleted {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, "one or more providers failed")
	}

	o.logger.Info(bookkeeping, "Research session finished", map[string]interface{}{
		"session_id": sessionID,
		"status":     string(status),
		"duration":   time.Since(start).String(),
	})

	return results, nil
}

// runProvider converts a panic anywhere in the runner into a FAILED result
// so sibling providers keep running.
func (o *Orchestrator) runProvider(ctx context.Context, a Assignment) (result domain.RunResult) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error(ctx, "Provider runner panic recovered", fmt.Errorf("%v", p), map[string]interface{}{
				"session_id": a.SessionID,
				"provider":   string(a.Provider),
				"stack":      string(debug.Stack()),
			})
			result = o.runner.Abandon(ctx, a, fmt.Sprintf("provider panic: %v", p))
		}
	}()
	return o.runner.Run(ctx, a)
}

// AggregateStatus is COMPLETED only when at least one provider ran and
// every provider completed.
func AggregateStatus(results []domain.RunResult) domain.Status {
	if len(results) == 0 {
		return domain.StatusFailed
	}
	for _, r := range results {
		if r.Status != domain.StatusCompleted {
			return domain.StatusFailed
		}
	}
	return domain.StatusCompleted
}
