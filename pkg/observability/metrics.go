package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all application metrics
type Metrics struct {
	meter metric.Meter

	// Counters
	sessionsStartedTotal  metric.Int64Counter
	sessionsFinishedTotal metric.Int64Counter
	providerTasksTotal    metric.Int64Counter
	progressEventsTotal   metric.Int64Counter
	mergesTotal           metric.Int64Counter
	mergeFallbacksTotal   metric.Int64Counter

	// Histograms
	sessionDuration      metric.Float64Histogram
	providerTaskDuration metric.Float64Histogram
	providerCallDuration metric.Float64Histogram
	mergeDuration        metric.Float64Histogram
	reportWords          metric.Int64Histogram

	// Gauges
	activeProviderTasks metric.Int64UpDownCounter
	queuedSessions      metric.Int64UpDownCounter
}

// NewMetrics creates and initializes all metrics
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{
		meter: meter,
	}

	var err error

	m.sessionsStartedTotal, err = meter.Int64Counter(
		"research_sessions_started_total",
		metric.WithDescription("Total number of research sessions started"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.sessionsFinishedTotal, err = meter.Int64Counter(
		"research_sessions_finished_total",
		metric.WithDescription("Total number of research sessions finished, by aggregate status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.providerTasksTotal, err = meter.Int64Counter(
		"provider_tasks_total",
		metric.WithDescription("Total number of provider tasks finished, by provider and status"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.progressEventsTotal, err = meter.Int64Counter(
		"progress_events_total",
		metric.WithDescription("Total number of progress events emitted"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.mergesTotal, err = meter.Int64Counter(
		"report_merges_total",
		metric.WithDescription("Total number of report merges"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.mergeFallbacksTotal, err = meter.Int64Counter(
		"report_merge_fallbacks_total",
		metric.WithDescription("Total number of deterministic merge fallbacks, by stage"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.sessionDuration, err = meter.Float64Histogram(
		"research_session_duration_seconds",
		metric.WithDescription("Duration of research fan-out in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.providerTaskDuration, err = meter.Float64Histogram(
		"provider_task_duration_seconds",
		metric.WithDescription("Duration of provider tasks from start to terminal state in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.providerCallDuration, err = meter.Float64Histogram(
		"provider_call_duration_seconds",
		metric.WithDescription("Duration of provider generate calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.mergeDuration, err = meter.Float64Histogram(
		"report_merge_duration_seconds",
		metric.WithDescription("Duration of report merges in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.reportWords, err = meter.Int64Histogram(
		"provider_report_words",
		metric.WithDescription("Word count of completed provider reports"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.activeProviderTasks, err = meter.Int64UpDownCounter(
		"provider_tasks_active",
		metric.WithDescription("Number of provider tasks currently running"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.queuedSessions, err = meter.Int64UpDownCounter(
		"research_sessions_queued",
		metric.WithDescription("Number of research sessions waiting in the queue"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordSessionStarted records a session entering fan-out
func (m *Metrics) RecordSessionStarted(ctx context.Context, providers int) {
	m.sessionsStartedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("providers", providers),
	))
}

// RecordSessionFinished records a session's aggregate outcome
func (m *Metrics) RecordSessionFinished(ctx context.Context, status string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.sessionsFinishedTotal.Add(ctx, 1, attrs)
	m.sessionDuration.Record(ctx, duration.Seconds(), attrs)
}

// ProviderTaskStarted increments the active provider task gauge
func (m *Metrics) ProviderTaskStarted(ctx context.Context, provider string) {
	m.activeProviderTasks.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordProviderTask records a provider task reaching a terminal state
func (m *Metrics) RecordProviderTask(ctx context.Context, provider, status string, duration time.Duration) {
	m.activeProviderTasks.Add(ctx, -1, metric.WithAttributes(attribute.String("provider", provider)))
	attrs := metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	)
	m.providerTasksTotal.Add(ctx, 1, attrs)
	m.providerTaskDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordProviderCall records one gateway call, research or synthesis
func (m *Metrics) RecordProviderCall(ctx context.Context, provider, mode string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.providerCallDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("mode", mode),
		attribute.String("status", status),
	))
}

// RecordReportWords records the size of a completed provider report
func (m *Metrics) RecordReportWords(ctx context.Context, provider string, words int) {
	m.reportWords.Record(ctx, int64(words), metric.WithAttributes(attribute.String("provider", provider)))
}

// RecordProgressEvent records an emitted progress event
func (m *Metrics) RecordProgressEvent(ctx context.Context, provider, status string) {
	m.progressEventsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

// RecordMerge records a completed merge
func (m *Metrics) RecordMerge(ctx context.Context, sections int, fallback bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.Bool("fallback", fallback))
	m.mergesTotal.Add(ctx, 1, attrs)
	m.mergeDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.Bool("fallback", fallback),
		attribute.Int("sections", sections),
	))
}

// RecordMergeFallback records a deterministic fallback at a merge stage
func (m *Metrics) RecordMergeFallback(ctx context.Context, stage, reason string) {
	m.mergeFallbacksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.String("reason", reason),
	))
}

// SessionQueued adjusts the queued sessions gauge
func (m *Metrics) SessionQueued(ctx context.Context, delta int64) {
	m.queuedSessions.Add(ctx, delta)
}
