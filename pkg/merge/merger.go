package merge

import (
	"context"
	"strings"
	"time"

	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/observability"
	"golang.org/x/sync/errgroup"
)

const defaultReconcileConcurrency = 4

// Options configures a Merger
type Options struct {
	// Gateway is the merge provider. Nil means every stage uses its
	// deterministic fallback.
	Gateway          domain.ProviderGateway
	Model            string
	SectionMaxTokens int
	ReportMaxTokens  int
	// Concurrency bounds parallel section reconciliation
	Concurrency int
	Now         func() time.Time
	Telemetry   *observability.Telemetry
	Metrics     *observability.Metrics
}

// Merger composes parsing, grouping, reconciliation and assembly
type Merger struct {
	reconciler  *Reconciler
	assembler   *Assembler
	concurrency int
	telemetry   *observability.Telemetry
	metrics     *observability.Metrics
	logger      *observability.StructuredLogger
}

// NewMerger creates a report merger
func NewMerger(opts Options) *Merger {
	if opts.Telemetry == nil {
		opts.Telemetry = observability.NewNoopTelemetry()
	}
	logger := observability.NewStructuredLogger("merger")
	if opts.Metrics == nil {
		metrics, err := observability.NewMetrics(opts.Telemetry.Meter())
		if err != nil {
			logger.Warn(context.Background(), "Merge metrics unavailable, recording nothing", map[string]interface{}{
				"error": err.Error(),
			})
			metrics, _ = observability.NewMetrics(observability.NewNoopTelemetry().Meter())
		}
		opts.Metrics = metrics
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultReconcileConcurrency
	}

	return &Merger{
		reconciler:  NewReconciler(opts.Gateway, opts.Model, opts.SectionMaxTokens),
		assembler:   NewAssembler(opts.Gateway, opts.Model, opts.ReportMaxTokens, opts.Now),
		concurrency: opts.Concurrency,
		telemetry:   opts.Telemetry,
		metrics:     opts.Metrics,
		logger:      logger,
	}
}

// MergeReports builds one master report from completed provider reports.
// It never fails; every failing stage degrades to deterministic output.
func (m *Merger) MergeReports(ctx context.Context, reports []domain.ProviderReport) *domain.MasterReport {
	start := time.Now()

	var sections []domain.Section
	_ = m.telemetry.InstrumentMergeStage(ctx, "parse", func(ctx context.Context) error {
		for _, r := range reports {
			if strings.TrimSpace(r.Content) == "" {
				continue
			}
			parsed := ParseSections(r.Content, r.Provider)
			m.logger.Debug(ctx, "Parsed provider report", map[string]interface{}{
				"provider": string(r.Provider),
				"sections": len(parsed),
			})
			sections = append(sections, parsed...)
		}
		return nil
	})

	groups := GroupSections(sections)

	merged := make([]domain.MergedSection, len(groups))
	_ = m.telemetry.InstrumentMergeStage(ctx, "reconcile", func(ctx context.Context) error {
		g := new(errgroup.Group)
		g.SetLimit(m.concurrency)
		for i, group := range groups {
			g.Go(func() error {
				section, reason := m.reconciler.Reconcile(ctx, group)
				if reason != "" {
					m.metrics.RecordMergeFallback(ctx, "reconcile", reason)
					m.logger.Warn(ctx, "Section reconciliation fell back to attribution", map[string]interface{}{
						"section": section.Title,
						"reason":  reason,
					})
				}
				merged[i] = section
				return nil
			})
		}
		return g.Wait()
	})

	var (
		report *domain.MasterReport
		reason string
	)
	_ = m.telemetry.InstrumentMergeStage(ctx, "assemble", func(ctx context.Context) error {
		report, reason = m.assembler.Assemble(ctx, merged, reports)
		return nil
	})
	if reason != "" {
		m.metrics.RecordMergeFallback(ctx, "assemble", reason)
		m.logger.Warn(ctx, "Master report assembled deterministically", map[string]interface{}{
			"reason": reason,
		})
	}

	m.metrics.RecordMerge(ctx, len(merged), report.Fallback, time.Since(start))
	m.logger.Info(ctx, "Merged provider reports", map[string]interface{}{
		"reports":  len(reports),
		"sections": len(sections),
		"groups":   len(groups),
		"fallback": report.Fallback,
		"duration": time.Since(start).String(),
	})

	return report
}
