package llm

import (
	"context"
	"fmt"

	"github.com/ncolesummers/multi-research/pkg/config"
	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/observability"
)

// BuildRegistry registers a gateway for every configured provider.
// Providers without credentials are skipped. When telemetry is non-nil each
// gateway is instrumented.
func BuildRegistry(cfg *config.Config, catalog *Catalog, telemetry *observability.Telemetry, metrics *observability.Metrics) (*Registry, error) {
	registry := NewRegistry()
	logger := observability.NewStructuredLogger("llm.registry")

	providers := cfg.Providers
	catalog.SetDefault(domain.ProviderOpenAI, providers.OpenAI.DefaultModel)
	catalog.SetDefault(domain.ProviderAnthropic, providers.Anthropic.DefaultModel)
	catalog.SetDefault(domain.ProviderXAI, providers.XAI.DefaultModel)

	var gateways []domain.ProviderGateway

	if providers.OpenAI.Enabled() {
		gw, err := NewOpenAIGateway(gatewayConfig(providers.OpenAI), catalog)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}
	if providers.Anthropic.Enabled() {
		gw, err := NewAnthropicGateway(gatewayConfig(providers.Anthropic), catalog)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}
	if providers.XAI.Enabled() {
		gw, err := NewXAIGateway(gatewayConfig(providers.XAI), catalog)
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, gw)
	}
	if providers.Ollama.Enabled {
		catalog.SetDefault(domain.ProviderOllama, providers.Ollama.Model)
		gateways = append(gateways, NewOllamaGateway(providers.Ollama.BaseURL, providers.Ollama.Model, &OllamaOptions{
			Temperature: providers.Ollama.Temperature,
			Timeout:     cfg.GetDuration(providers.Ollama.Timeout, 0),
		}))
	}

	for _, gw := range gateways {
		if telemetry != nil {
			instrumented, err := NewInstrumentedGateway(gw, telemetry, metrics)
			if err != nil {
				return nil, fmt.Errorf("failed to instrument %s: %w", gw.ID(), err)
			}
			gw = instrumented
		}
		if err := registry.Register(gw); err != nil {
			return nil, err
		}
	}

	logger.Info(context.Background(), "provider registry built", map[string]interface{}{
		"providers": registry.List(),
	})

	return registry, nil
}

func gatewayConfig(p config.ProviderConfig) GatewayConfig {
	return GatewayConfig{
		APIKey:     p.APIKey,
		BaseURL:    p.BaseURL,
		MaxRetries: p.MaxRetries,
	}
}
