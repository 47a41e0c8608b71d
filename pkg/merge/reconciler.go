package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

// Reconciler merges a group of same-topic sections into one.
type Reconciler struct {
	gateway   domain.ProviderGateway
	model     string
	maxTokens int
}

// NewReconciler creates a reconciler. A nil gateway always falls back to
// attributed concatenation.
func NewReconciler(gateway domain.ProviderGateway, model string, maxTokens int) *Reconciler {
	if maxTokens <= 0 {
		maxTokens = DefaultSectionMaxTokens
	}
	return &Reconciler{gateway: gateway, model: model, maxTokens: maxTokens}
}

// Reconcile never fails. The returned reason is non-empty when the
// attributed-concatenation fallback was used.
func (r *Reconciler) Reconcile(ctx context.Context, group SectionGroup) (domain.MergedSection, string) {
	first := group.Sections[0]
	merged := domain.MergedSection{
		Title:   first.Title,
		Level:   first.Level,
		Sources: sourcesOf(group.Sections),
	}

	if len(group.Sections) == 1 {
		merged.Content = first.Content
		return merged, ""
	}

	unique := dedupeByHash(group.Sections)
	if len(unique) == 1 {
		merged.Content = unique[0].Content
		return merged, ""
	}

	if r.gateway == nil {
		merged.Content = attributedConcat(unique)
		return merged, "no merge provider"
	}

	result, err := r.gateway.Generate(ctx, domain.GenerateRequest{
		Topic:           sectionMergePrompt(first.Title, unique),
		Model:           r.model,
		MaxOutputTokens: r.maxTokens,
		Mode:            domain.ModeSynthesis,
	})
	switch {
	case err != nil:
		merged.Content = attributedConcat(unique)
		return merged, fmt.Sprintf("merge provider failed: %v", err)
	case result == nil || strings.TrimSpace(result.Content) == "":
		merged.Content = attributedConcat(unique)
		return merged, "merge provider returned empty content"
	}

	merged.Content = strings.TrimSpace(result.Content)
	return merged, ""
}

// dedupeByHash keeps the first section for each distinct content hash
func dedupeByHash(sections []domain.Section) []domain.Section {
	seen := make(map[string]struct{}, len(sections))
	unique := make([]domain.Section, 0, len(sections))
	for _, s := range sections {
		hash := s.ContentHash
		if hash == "" {
			hash = ContentHash(s.Content)
		}
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}
		unique = append(unique, s)
	}
	return unique
}

func sourcesOf(sections []domain.Section) []domain.ProviderID {
	seen := make(map[domain.ProviderID]struct{}, len(sections))
	var sources []domain.ProviderID
	for _, s := range sections {
		if _, ok := seen[s.Provider]; ok {
			continue
		}
		seen[s.Provider] = struct{}{}
		sources = append(sources, s.Provider)
	}
	return sources
}

func attributedConcat(sections []domain.Section) string {
	parts := make([]string, len(sections))
	for i, s := range sections {
		parts[i] = fmt.Sprintf("**According to %s:**\n%s", s.Provider, s.Content)
	}
	return strings.Join(parts, "\n\n")
}
