package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentProviderCall wraps one provider generate call with a span
func (t *Telemetry) InstrumentProviderCall(ctx context.Context, provider, model string, maxTokens int, fn func(context.Context) (contentLen int, err error)) error {
	ctx, span := t.StartSpan(ctx, fmt.Sprintf("provider.%s.generate", provider),
		trace.WithAttributes(
			attribute.String("provider.id", provider),
			attribute.String("provider.model", model),
			attribute.Int("provider.max_tokens", maxTokens),
		),
	)
	defer span.End()

	startTime := time.Now()
	contentLen, err := fn(ctx)
	duration := time.Since(startTime)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
		span.SetAttributes(attribute.Int("provider.content_length", contentLen))
	}

	span.SetAttributes(
		attribute.Float64("duration.seconds", duration.Seconds()),
	)

	return err
}

// InstrumentMergeStage wraps one stage of a report merge with a span
func (t *Telemetry) InstrumentMergeStage(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx, span := t.StartSpan(ctx, fmt.Sprintf("merge.%s", stage),
		trace.WithAttributes(
			attribute.String("merge.stage", stage),
		),
	)
	defer span.End()

	startTime := time.Now()
	err := fn(ctx)
	duration := time.Since(startTime)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}

	span.SetAttributes(
		attribute.String("merge.status", status),
		attribute.Float64("duration.seconds", duration.Seconds()),
	)

	return err
}

// StartResearchSession starts a root span for one session's fan-out
func (t *Telemetry) StartResearchSession(ctx context.Context, sessionID, topic string, providers []string) (context.Context, trace.Span) {
	return t.StartSpan(ctx, "research.session",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("topic.length", len(topic)),
			attribute.StringSlice("session.providers", providers),
		),
	)
}
