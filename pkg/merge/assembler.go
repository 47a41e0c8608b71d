package merge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

const (
	fallbackHeader = "# Master Research Report\n\n" +
		"## Executive Summary\n\n" +
		"This report synthesizes research from multiple AI providers to provide comprehensive insights.\n\n"
	footerTimeLayout = "2006-01-02 15:04:05"
)

// Assembler orders merged sections and produces the master report
type Assembler struct {
	gateway   domain.ProviderGateway
	model     string
	maxTokens int
	now       func() time.Time
}

// NewAssembler creates an assembler. A nil gateway always produces the
// deterministic report.
func NewAssembler(gateway domain.ProviderGateway, model string, maxTokens int, now func() time.Time) *Assembler {
	if maxTokens <= 0 {
		maxTokens = DefaultReportMaxTokens
	}
	if now == nil {
		now = time.Now
	}
	return &Assembler{gateway: gateway, model: model, maxTokens: maxTokens, now: now}
}

// SortSections orders sections by (level, title) ascending
func SortSections(sections []domain.MergedSection) {
	sort.SliceStable(sections, func(i, j int) bool {
		if sections[i].Level != sections[j].Level {
			return sections[i].Level < sections[j].Level
		}
		return sections[i].Title < sections[j].Title
	})
}

// Assemble never fails. The returned reason is non-empty when the
// deterministic report was produced.
func (a *Assembler) Assemble(ctx context.Context, sections []domain.MergedSection, reports []domain.ProviderReport) (*domain.MasterReport, string) {
	ordered := append([]domain.MergedSection(nil), sections...)
	SortSections(ordered)

	report := &domain.MasterReport{
		Sources:   reportSources(reports),
		CreatedAt: a.now().UTC(),
	}
	footer := a.metadataFooter(reports)

	reason := ""
	switch {
	case a.gateway == nil:
		reason = "no merge provider"
	case len(ordered) == 0:
		reason = "no sections to synthesize"
	default:
		result, err := a.gateway.Generate(ctx, domain.GenerateRequest{
			Topic:           masterReportPrompt(ordered),
			Model:           a.model,
			MaxOutputTokens: a.maxTokens,
			Mode:            domain.ModeSynthesis,
		})
		switch {
		case err != nil:
			reason = fmt.Sprintf("merge provider failed: %v", err)
		case result == nil || strings.TrimSpace(result.Content) == "":
			reason = "merge provider returned empty content"
		default:
			report.Content = result.Content + footer
			report.Thinking = result.Thinking
			report.MergeProvider = a.gateway.ID()
			return report, ""
		}
	}

	report.Content = fallbackReport(ordered) + footer
	report.Fallback = true
	return report, reason
}

func fallbackReport(sections []domain.MergedSection) string {
	var b strings.Builder
	b.WriteString(fallbackHeader)
	for _, s := range sections {
		fmt.Fprintf(&b, "%s %s\n\n", strings.Repeat("#", s.Level), s.Title)
		fmt.Fprintf(&b, "%s\n\n", s.Content)
		fmt.Fprintf(&b, "*Sources: %s*\n\n", joinProviders(s.Sources))
	}
	return b.String()
}

func (a *Assembler) metadataFooter(reports []domain.ProviderReport) string {
	var b strings.Builder
	b.WriteString("\n\n---\n\n## Report Metadata\n\n")
	b.WriteString("This master report was generated by merging research from the following providers:\n\n")
	for _, r := range reports {
		fmt.Fprintf(&b, "- **%s**: %d words\n", r.Provider, len(strings.Fields(r.Content)))
	}
	fmt.Fprintf(&b, "\nGenerated on: %s UTC\n", a.now().UTC().Format(footerTimeLayout))
	return b.String()
}

func reportSources(reports []domain.ProviderReport) []domain.ProviderID {
	sources := make([]domain.ProviderID, 0, len(reports))
	for _, r := range reports {
		sources = append(sources, r.Provider)
	}
	return sources
}
