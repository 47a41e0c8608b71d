package merge

import (
	"testing"

	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		title    string
		expected string
	}{
		{"Market Overview", "market overview"},
		{"The Market Overview", "market overview"},
		{"Market Overview:", "market overview"},
		{"  Risks   and   Opportunities ", "risks opportunities"},
		{"Pros & Cons", "pros cons"},
		{"Overview of the Market", "overview market"},
		{"Q4-2024 Results", "q42024 results"},
		{"Économie du marché", "économie du marché"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeTitle(tt.title))
		})
	}
}

func TestGroupSections(t *testing.T) {
	sections := []domain.Section{
		{Title: "Market Overview", Provider: domain.ProviderOpenAI},
		{Title: "Risks", Provider: domain.ProviderOpenAI},
		{Title: "The market overview", Provider: domain.ProviderAnthropic},
		{Title: "Conclusion", Provider: domain.ProviderAnthropic},
		{Title: "Market Overview!", Provider: domain.ProviderXAI},
		{Title: "Market Trends", Provider: domain.ProviderXAI},
	}

	groups := GroupSections(sections)

	require.Len(t, groups, 4)
	assert.Equal(t, "market overview", groups[0].Key)
	assert.Len(t, groups[0].Sections, 3)
	assert.Equal(t, "risks", groups[1].Key)
	assert.Equal(t, "conclusion", groups[2].Key)
	assert.Equal(t, "market trends", groups[3].Key)

	providers := make([]domain.ProviderID, 0, 3)
	for _, s := range groups[0].Sections {
		providers = append(providers, s.Provider)
	}
	assert.Equal(t, []domain.ProviderID{domain.ProviderOpenAI, domain.ProviderAnthropic, domain.ProviderXAI}, providers)
}

func TestGroupSections_Empty(t *testing.T) {
	assert.Empty(t, GroupSections(nil))
}
