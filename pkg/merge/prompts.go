package merge

import (
	"fmt"
	"strings"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

// Token budgets for merge-provider calls
const (
	DefaultSectionMaxTokens = 2000
	DefaultReportMaxTokens  = 10000
)

func sectionMergePrompt(title string, variants []domain.Section) string {
	var b strings.Builder
	b.WriteString("Merge the following sections, written by different AI providers, into one cohesive section.\n")
	b.WriteString("Please:\n")
	b.WriteString("1. Keep every piece of unique information\n")
	b.WriteString("2. Where the providers disagree, present each position and attribute it to its provider\n")
	b.WriteString("3. Remove redundant statements\n")
	b.WriteString("4. Produce one well-structured section without a heading\n")
	b.WriteString("5. Keep inline citation markers such as [1] attached to the claims they support\n\n")
	fmt.Fprintf(&b, "Section Title: %s\n", title)

	for _, v := range variants {
		fmt.Fprintf(&b, "\n---\nFrom %s:\n%s\n", v.Provider, v.Content)
	}

	b.WriteString("\n---\nRespond with the merged section content only.")
	return b.String()
}

func masterReportPrompt(sections []domain.MergedSection) string {
	var b strings.Builder
	b.WriteString("You are creating a master research report from content produced by several AI providers.\n\n")
	b.WriteString("Merged sections available:\n")
	for _, s := range sections {
		fmt.Fprintf(&b, "- %s (from %s)\n", s.Title, joinProviders(s.Sources))
	}

	b.WriteString("\nPlease write:\n")
	b.WriteString("1. An executive summary of the key findings across all sources\n")
	b.WriteString("2. A cohesive report body that incorporates every merged section\n")
	b.WriteString("3. A conclusion that synthesizes insights from all providers\n")
	b.WriteString("4. Recommendations based on the collective analysis\n")
	b.WriteString("5. A single consolidated ## References section, renumbering inline citations so they stay consistent\n\n")
	b.WriteString("The merged section content follows.\n\n---\n")

	for _, s := range sections {
		fmt.Fprintf(&b, "\n## %s\n%s\n", s.Title, s.Content)
	}

	b.WriteString("\n---\nRespond with the complete master report in markdown.")
	return b.String()
}

func joinProviders(ids []domain.ProviderID) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	return strings.Join(names, ", ")
}
