// Package notify delivers provider progress events to observers.
package notify

import (
	"context"

	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/observability"
)

// Multi fans one event out to several notifiers in order
type Multi []domain.ProgressNotifier

// Notify implements domain.ProgressNotifier
func (m Multi) Notify(ctx context.Context, event domain.ProgressEvent) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, event)
		}
	}
}

// LogNotifier writes every event to the structured log
type LogNotifier struct {
	logger *observability.StructuredLogger
}

// NewLogNotifier creates a notifier that logs events
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: observability.NewStructuredLogger("progress")}
}

// Notify implements domain.ProgressNotifier
func (l *LogNotifier) Notify(ctx context.Context, event domain.ProgressEvent) {
	attrs := map[string]interface{}{
		"session_id": event.SessionID,
		"provider":   string(event.Provider),
		"status":     string(event.Status),
		"progress":   event.Progress,
	}
	if event.Error != "" {
		attrs["error"] = event.Error
		l.logger.Warn(ctx, "Provider progress", attrs)
		return
	}
	l.logger.Debug(ctx, "Provider progress", attrs)
}
