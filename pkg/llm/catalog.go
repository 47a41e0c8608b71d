package llm

import (
	"sort"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

// ModelConfig describes one model a provider can run
type ModelConfig struct {
	Name            string            `json:"name"`
	Provider        domain.ProviderID `json:"provider"`
	DisplayName     string            `json:"display_name"`
	Description     string            `json:"description"`
	MaxOutputTokens int               `json:"max_output_tokens"`
	MaxInputTokens  int               `json:"max_input_tokens"`
	IsDefault       bool              `json:"is_default"`
}

// ProviderInfo is display metadata for a provider
type ProviderInfo struct {
	ID          domain.ProviderID `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Models      []ModelConfig     `json:"models"`
}

// Catalog is the set of known models, keyed by model name
type Catalog struct {
	models    map[string]ModelConfig
	providers map[domain.ProviderID]ProviderInfo
}

// DefaultCatalog returns the built-in model catalog
func DefaultCatalog() *Catalog {
	c := &Catalog{
		models:    make(map[string]ModelConfig),
		providers: make(map[domain.ProviderID]ProviderInfo),
	}

	c.addProvider(domain.ProviderOpenAI, "OpenAI", "Advanced reasoning and deep research capabilities")
	c.addProvider(domain.ProviderAnthropic, "Anthropic", "Extended thinking for deep insights")
	c.addProvider(domain.ProviderXAI, "xAI", "Technical depth and innovation focus")
	c.addProvider(domain.ProviderOllama, "Ollama", "Local models served by Ollama")

	c.Add(ModelConfig{
		Name: "o3-deep-research-2025-06-26", Provider: domain.ProviderOpenAI,
		DisplayName: "O3 Deep Research", Description: "Autonomous web research with real-time data",
		MaxOutputTokens: 100000, MaxInputTokens: 200000, IsDefault: true,
	})
	c.Add(ModelConfig{
		Name: "o4-mini-deep-research-2025-06-26", Provider: domain.ProviderOpenAI,
		DisplayName: "O4 Mini Deep Research", Description: "Faster research with efficient reasoning",
		MaxOutputTokens: 100000, MaxInputTokens: 200000,
	})
	c.Add(ModelConfig{
		Name: "gpt-5.2-2025-12-11", Provider: domain.ProviderOpenAI,
		DisplayName: "GPT-5.2", Description: "Latest GPT model with enhanced capabilities",
		MaxOutputTokens: 128000, MaxInputTokens: 400000,
	})
	c.Add(ModelConfig{
		Name: "gpt-5.2-pro-2025-12-11", Provider: domain.ProviderOpenAI,
		DisplayName: "GPT-5.2 Pro", Description: "Professional tier with extended context",
		MaxOutputTokens: 128000, MaxInputTokens: 400000,
	})
	c.Add(ModelConfig{
		Name: "claude-sonnet-4-5-20250929", Provider: domain.ProviderAnthropic,
		DisplayName: "Claude Sonnet 4.5", Description: "Balanced performance with extended thinking",
		MaxOutputTokens: 64000, MaxInputTokens: 1000000, IsDefault: true,
	})
	c.Add(ModelConfig{
		Name: "claude-opus-4-5-20251101", Provider: domain.ProviderAnthropic,
		DisplayName: "Claude Opus 4.5", Description: "Most capable model for complex tasks",
		MaxOutputTokens: 64000, MaxInputTokens: 200000,
	})
	c.Add(ModelConfig{
		Name: "grok-4-0709", Provider: domain.ProviderXAI,
		DisplayName: "Grok 4", Description: "Real-time knowledge with wit and depth",
		MaxOutputTokens: 256000, MaxInputTokens: 256000, IsDefault: true,
	})

	return c
}

func (c *Catalog) addProvider(id domain.ProviderID, name, description string) {
	c.providers[id] = ProviderInfo{ID: id, Name: name, Description: description}
}

// Add registers a model. A default model replaces any earlier default of the same provider.
func (c *Catalog) Add(model ModelConfig) {
	if model.IsDefault {
		for name, existing := range c.models {
			if existing.Provider == model.Provider && existing.IsDefault {
				existing.IsDefault = false
				c.models[name] = existing
			}
		}
	}
	c.models[model.Name] = model
	if _, ok := c.providers[model.Provider]; !ok {
		c.addProvider(model.Provider, string(model.Provider), "")
	}
}

// SetDefault marks a model as its provider's default, adding it if unknown
func (c *Catalog) SetDefault(provider domain.ProviderID, model string) {
	if model == "" {
		return
	}
	existing, ok := c.models[model]
	if !ok {
		existing = ModelConfig{Name: model, Provider: provider, DisplayName: model}
	}
	existing.IsDefault = true
	c.Add(existing)
}

// Lookup returns the model configuration by name
func (c *Catalog) Lookup(model string) (ModelConfig, bool) {
	m, ok := c.models[model]
	return m, ok
}

// DefaultModel returns the default model of a provider, or "" when none is known
func (c *Catalog) DefaultModel(provider domain.ProviderID) string {
	for _, m := range c.models {
		if m.Provider == provider && m.IsDefault {
			return m.Name
		}
	}
	return ""
}

// ClampTokens bounds a token budget by the model's output limit.
// Unknown models and non-positive limits leave the budget unchanged.
func (c *Catalog) ClampTokens(model string, tokens int) int {
	m, ok := c.models[model]
	if !ok || m.MaxOutputTokens <= 0 {
		return tokens
	}
	if tokens <= 0 || tokens > m.MaxOutputTokens {
		return m.MaxOutputTokens
	}
	return tokens
}

// Providers returns provider metadata with their models, sorted by id and model name
func (c *Catalog) Providers() []ProviderInfo {
	out := make([]ProviderInfo, 0, len(c.providers))
	for _, info := range c.providers {
		info.Models = nil
		for _, m := range c.models {
			if m.Provider == info.ID {
				info.Models = append(info.Models, m)
			}
		}
		sort.Slice(info.Models, func(i, j int) bool { return info.Models[i].Name < info.Models[j].Name })
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
