package workflow

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// previewLength bounds the content preview carried by a completed event
const previewLength = 500

var (
	// ErrProviderTimeout is recorded when a provider exceeds its deadline
	ErrProviderTimeout = errors.New("timeout")
	// ErrProviderCancelled is recorded when the session is cancelled mid-call
	ErrProviderCancelled = errors.New("cancelled")
)

// Assignment is one provider's share of a session
type Assignment struct {
	SessionID string
	Topic     string
	Provider  domain.ProviderID
	Model     string
	MaxTokens int
}

// TaskRunnerConfig holds the runner's collaborators
type TaskRunnerConfig struct {
	Registry domain.ProviderRegistry
	Store    domain.SessionStore
	Notifier domain.ProgressNotifier
	// Timeout bounds one provider call; zero means no deadline
	Timeout   time.Duration
	Telemetry *observability.Telemetry
	Metrics   *observability.Metrics
	Now       func() time.Time
}

// TaskRunner drives one provider task from PENDING to a terminal state
type TaskRunner struct {
	registry  domain.ProviderRegistry
	store     domain.SessionStore
	notifier  domain.ProgressNotifier
	timeout   time.Duration
	telemetry *observability.Telemetry
	metrics   *observability.Metrics
	logger    *observability.StructuredLogger
	now       func() time.Time
}

// NewTaskRunner creates a task runner
func NewTaskRunner(cfg TaskRunnerConfig) (*TaskRunner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = domain.NotifierFunc(func(context.Context, domain.ProgressEvent) {})
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
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &TaskRunner{
		registry:  cfg.Registry,
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		timeout:   cfg.Timeout,
		telemetry: cfg.Telemetry,
		metrics:   cfg.Metrics,
		logger:    observability.NewStructuredLogger("task_runner"),
		now:       cfg.Now,
	}, nil
}

// Run executes the assignment and always returns a terminal result.
// Exactly one completed or failed event is emitted per call.
func (r *TaskRunner) Run(ctx context.Context, a Assignment) domain.RunResult {
	ctx, span := r.telemetry.StartSpan(ctx, "provider_task.run",
		trace.WithAttributes(
			attribute.String("session.id", a.SessionID),
			attribute.String("provider.id", string(a.Provider)),
			attribute.String("provider.model", a.Model),
		),
	)
	defer span.End()

	// Records and events must land even when the session is cancelled.
	bookkeeping := context.WithoutCancel(ctx)
	start := time.Now()
	r.metrics.ProviderTaskStarted(bookkeeping, string(a.Provider))

	r.emit(bookkeeping, a, domain.ProgressStarting, domain.ProgressValueStarting, "", "")

	err := r.store.UpdateProviderTask(bookkeeping, a.SessionID, a.Provider, func(task *domain.ProviderTask) error {
		if a.Model != "" {
			task.Model = a.Model
		}
		return task.Transition(domain.StatusInProgress)
	})
	if err != nil {
		message := fmt.Sprintf("failed to start provider task: %v", err)
		if errors.Is(err, domain.ErrTaskNotFound) || errors.Is(err, domain.ErrSessionNotFound) {
			message = domain.ErrTaskNotFound.Error()
		}
		r.logger.Error(bookkeeping, "Provider task could not start", err, map[string]interface{}{
			"session_id": a.SessionID,
			"provider":   string(a.Provider),
		})
		return r.finishFailed(bookkeeping, span, a, start, message, false)
	}

	r.emit(bookkeeping, a, domain.ProgressInProgress, domain.ProgressValueInProgress, "", "")

	result, err := r.generate(ctx, a)
	if err != nil {
		r.logger.Warn(bookkeeping, "Provider task failed", map[string]interface{}{
			"session_id": a.SessionID,
			"provider":   string(a.Provider),
			"error":      err.Error(),
		})
		return r.finishFailed(bookkeeping, span, a, start, err.Error(), true)
	}

	r.emit(bookkeeping, a, domain.ProgressProcessing, domain.ProgressValueProcessing, "", "")

	err = r.store.UpdateProviderTask(bookkeeping, a.SessionID, a.Provider, func(task *domain.ProviderTask) error {
		return task.Complete(result.Content, result.Thinking)
	})
	if err != nil {
		return r.finishFailed(bookkeeping, span, a, start, fmt.Sprintf("failed to record report: %v", err), true)
	}

	duration := time.Since(start)
	r.metrics.RecordProviderTask(bookkeeping, string(a.Provider), string(domain.StatusCompleted), duration)
	r.metrics.RecordReportWords(bookkeeping, string(a.Provider), len(strings.Fields(result.Content)))
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.Int("report.length", len(result.Content)))

	r.emit(bookkeeping, a, domain.ProgressCompleted, domain.ProgressValueDone, Preview(result.Content), "")

	r.logger.Info(bookkeeping, "Provider task completed", map[string]interface{}{
		"session_id":     a.SessionID,
		"provider":       string(a.Provider),
		"content_length": len(result.Content),
		"duration":       duration.String(),
	})

	return domain.RunResult{
		Provider:      a.Provider,
		Status:        domain.StatusCompleted,
		ContentLength: len(result.Content),
	}
}

// finishFailed records the failure and emits the terminal failed event.
// The store write is skipped when the task never reached IN_PROGRESS.
func (r *TaskRunner) finishFailed(ctx context.Context, span trace.Span, a Assignment, start time.Time, message string, persist bool) domain.RunResult {
	if persist {
		err := r.store.UpdateProviderTask(ctx, a.SessionID, a.Provider, func(task *domain.ProviderTask) error {
			return task.Fail(message)
		})
		if err != nil {
			r.logger.Error(ctx, "Failed to record provider failure", err, map[string]interface{}{
				"session_id": a.SessionID,
				"provider":   string(a.Provider),
			})
		}
	}

	r.metrics.RecordProviderTask(ctx, string(a.Provider), string(domain.StatusFailed), time.Since(start))
	span.SetStatus(codes.Error, message)

	r.emit(ctx, a, domain.ProgressFailed, domain.ProgressValueDone, "", message)

	return domain.RunResult{
		Provider: a.Provider,
		Status:   domain.StatusFailed,
		Error:    message,
	}
}

// Abandon settles a task whose Run panicked. A task that already reached a
// terminal state keeps it; anything else is failed with message. Each step
// is best-effort and a panicking collaborator is recovered.
func (r *TaskRunner) Abandon(ctx context.Context, a Assignment, message string) domain.RunResult {
	ctx = context.WithoutCancel(ctx)
	result := domain.RunResult{Provider: a.Provider, Status: domain.StatusFailed, Error: message}

	var settled *domain.ProviderTask
	r.guard(ctx, a, func() {
		err := r.store.UpdateProviderTask(ctx, a.SessionID, a.Provider, func(task *domain.ProviderTask) error {
			if task.Status == domain.StatusPending {
				if err := task.Transition(domain.StatusInProgress); err != nil {
					return err
				}
			}
			if !task.Status.IsTerminal() {
				if err := task.Fail(message); err != nil {
					return err
				}
			}
			settled = task.Clone()
			return nil
		})
		if err != nil {
			settled = nil
			r.logger.Error(ctx, "Failed to settle abandoned provider task", err, map[string]interface{}{
				"session_id": a.SessionID,
				"provider":   string(a.Provider),
			})
		}
	})

	if settled != nil && settled.Status == domain.StatusCompleted {
		r.guard(ctx, a, func() {
			r.emit(ctx, a, domain.ProgressCompleted, domain.ProgressValueDone, Preview(settled.Content), "")
		})
		return domain.RunResult{
			Provider:      a.Provider,
			Status:        domain.StatusCompleted,
			ContentLength: len(settled.Content),
		}
	}
	if settled != nil && settled.Error != "" {
		result.Error = settled.Error
	}

	r.guard(ctx, a, func() {
		r.metrics.RecordProviderTask(ctx, string(a.Provider), string(domain.StatusFailed), 0)
	})
	r.guard(ctx, a, func() {
		r.emit(ctx, a, domain.ProgressFailed, domain.ProgressValueDone, "", result.Error)
	})
	return result
}

func (r *TaskRunner) guard(ctx context.Context, a Assignment, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error(ctx, "Panic recovered while settling provider task", fmt.Errorf("%v", p), map[string]interface{}{
				"session_id": a.SessionID,
				"provider":   string(a.Provider),
			})
		}
	}()
	fn()
}

type generateOutcome struct {
	result *domain.GenerateResult
	err    error
}

// generate calls the provider under the configured deadline.
// A stuck call is abandoned once the deadline passes.
func (r *TaskRunner) generate(ctx context.Context, a Assignment) (*domain.GenerateResult, error) {
	gateway, err := r.registry.Get(a.Provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if r.timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
	}
	defer cancel()

	done := make(chan generateOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error(ctx, "Provider panic recovered", fmt.Errorf("%v", p), map[string]interface{}{
					"provider": string(a.Provider),
					"stack":    string(debug.Stack()),
				})
				done <- generateOutcome{err: fmt.Errorf("provider panic: %v", p)}
			}
		}()
		result, err := gateway.Generate(callCtx, domain.GenerateRequest{
			Topic:           a.Topic,
			Model:           a.Model,
			MaxOutputTokens: a.MaxTokens,
			Mode:            domain.ModeResearch,
		})
		done <- generateOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if callCtx.Err() != nil {
				return nil, contextFailure(ctx)
			}
			return nil, out.err
		}
		if out.result == nil || strings.TrimSpace(out.result.Content) == "" {
			return nil, domain.ErrEmptyProviderReply
		}
		return out.result, nil
	case <-callCtx.Done():
		return nil, contextFailure(ctx)
	}
}

// contextFailure distinguishes a cancelled session from an expired deadline
func contextFailure(parent context.Context) error {
	if parent.Err() != nil {
		return ErrProviderCancelled
	}
	return ErrProviderTimeout
}

func (r *TaskRunner) emit(ctx context.Context, a Assignment, status domain.ProgressStatus, progress float64, content, errText string) {
	r.metrics.RecordProgressEvent(ctx, string(a.Provider), string(status))
	r.notifier.Notify(ctx, domain.ProgressEvent{
		Type:      domain.EventTypeResearchUpdate,
		SessionID: a.SessionID,
		Provider:  a.Provider,
		Status:    status,
		Content:   content,
		Error:     errText,
		Progress:  progress,
		Timestamp: r.now().UTC(),
	})
}

// Preview returns the first 500 characters of content, marking truncation with "..."
func Preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewLength {
		return content
	}
	return string(runes[:previewLength]) + "..."
}
