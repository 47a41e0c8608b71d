package merge

import (
	"context"
	"strings"
	"testing"

	"github.com/ncolesummers/multi-research/internal/testutil"
	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func section(provider domain.ProviderID, title, content string) domain.Section {
	return domain.Section{
		Title:       title,
		Content:     content,
		Level:       2,
		Provider:    provider,
		ContentHash: ContentHash(content),
	}
}

func marketOverviewGroup() SectionGroup {
	return SectionGroup{
		Key: "market overview",
		Sections: []domain.Section{
			section(domain.ProviderOpenAI, "Market Overview", "The market is growing fast."),
			section(domain.ProviderAnthropic, "Market Overview", "Growth is slowing in 2025."),
			section(domain.ProviderXAI, "Market Overview", "Consolidation dominates."),
		},
	}
}

func TestReconcile_SingletonPassesThrough(t *testing.T) {
	gateway := testutil.NewMockGateway(domain.ProviderOpenAI, "should not be used")
	r := NewReconciler(gateway, "gpt-4o", 0)

	group := SectionGroup{Key: "risks", Sections: []domain.Section{
		section(domain.ProviderAnthropic, "Risks", "Supply chain exposure."),
	}}

	merged, reason := r.Reconcile(context.Background(), group)

	assert.Empty(t, reason)
	assert.Equal(t, "Risks", merged.Title)
	assert.Equal(t, 2, merged.Level)
	assert.Equal(t, "Supply chain exposure.", merged.Content)
	assert.Equal(t, []domain.ProviderID{domain.ProviderAnthropic}, merged.Sources)
	assert.Equal(t, 0, gateway.CallCount())
}

func TestReconcile_IdenticalContentCollapses(t *testing.T) {
	gateway := testutil.NewMockGateway(domain.ProviderOpenAI, "should not be used")
	r := NewReconciler(gateway, "gpt-4o", 0)

	group := SectionGroup{Key: "summary", Sections: []domain.Section{
		section(domain.ProviderOpenAI, "Summary", "Identical findings."),
		section(domain.ProviderAnthropic, "summary", "Identical findings."),
	}}

	merged, reason := r.Reconcile(context.Background(), group)

	assert.Empty(t, reason)
	assert.Equal(t, "Summary", merged.Title)
	assert.Equal(t, "Identical findings.", merged.Content)
	assert.Equal(t, []domain.ProviderID{domain.ProviderOpenAI, domain.ProviderAnthropic}, merged.Sources)
	assert.Equal(t, 0, gateway.CallCount())
}

func TestReconcile_NoGatewayFallsBackToAttribution(t *testing.T) {
	r := NewReconciler(nil, "", 0)

	merged, reason := r.Reconcile(context.Background(), marketOverviewGroup())

	assert.NotEmpty(t, reason)
	assert.Equal(t, "Market Overview", merged.Title)
	assert.Equal(t,
		"**According to openai:**\nThe market is growing fast.\n\n"+
			"**According to anthropic:**\nGrowth is slowing in 2025.\n\n"+
			"**According to xai:**\nConsolidation dominates.",
		merged.Content)
	assert.Equal(t, []domain.ProviderID{domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderXAI}, merged.Sources)
}

func TestReconcile_FallbackSkipsDuplicateVariants(t *testing.T) {
	r := NewReconciler(nil, "", 0)

	group := SectionGroup{Key: "outlook", Sections: []domain.Section{
		section(domain.ProviderOpenAI, "Outlook", "Bullish."),
		section(domain.ProviderAnthropic, "Outlook", "Bearish."),
		section(domain.ProviderXAI, "Outlook", "Bullish."),
	}}

	merged, _ := r.Reconcile(context.Background(), group)

	assert.Equal(t, 2, strings.Count(merged.Content, "**According to"))
	assert.NotContains(t, merged.Content, "According to xai")
	assert.Equal(t, []domain.ProviderID{domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderXAI}, merged.Sources)
}

func TestReconcile_UsesMergeProvider(t *testing.T) {
	gateway := testutil.NewMockGateway(domain.ProviderOpenAI, "  A single reconciled view.  ")
	gateway.Thinking = "internal notes"
	r := NewReconciler(gateway, "gpt-4o", 0)

	merged, reason := r.Reconcile(context.Background(), marketOverviewGroup())

	assert.Empty(t, reason)
	assert.Equal(t, "A single reconciled view.", merged.Content)
	assert.NotContains(t, merged.Content, "internal notes")

	requests := gateway.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, "gpt-4o", requests[0].Model)
	assert.Equal(t, DefaultSectionMaxTokens, requests[0].MaxOutputTokens)
	assert.Equal(t, domain.ModeSynthesis, requests[0].Mode)
	assert.Contains(t, requests[0].Topic, "Section Title: Market Overview")
	assert.Contains(t, requests[0].Topic, "From anthropic:\nGrowth is slowing in 2025.")
}

func TestReconcile_MergeProviderFailureFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		gateway *testutil.MockGateway
	}{
		{"error", testutil.NewFailingGateway(domain.ProviderOpenAI, "rate limited")},
		{"empty content", testutil.NewMockGateway(domain.ProviderOpenAI, "   ")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReconciler(tt.gateway, "gpt-4o", 500)

			merged, reason := r.Reconcile(context.Background(), marketOverviewGroup())

			assert.NotEmpty(t, reason)
			assert.True(t, strings.HasPrefix(merged.Content, "**According to openai:**\n"))
			assert.Contains(t, merged.Content, "**According to xai:**\nConsolidation dominates.")
			assert.Equal(t, 500, tt.gateway.Requests()[0].MaxOutputTokens)
		})
	}
}
