package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/observability"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// GatewayConfig configures an SDK-backed gateway
type GatewayConfig struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	Timeout    time.Duration
	HTTPClient *http.Client
}

// OpenAIGateway generates reports through the OpenAI chat completions API.
// xAI exposes the same API and is served by this type with a different base URL.
type OpenAIGateway struct {
	id      domain.ProviderID
	client  openai.Client
	catalog *Catalog
	logger  *observability.StructuredLogger
}

// NewOpenAIGateway creates a gateway for OpenAI
func NewOpenAIGateway(cfg GatewayConfig, catalog *Catalog) (*OpenAIGateway, error) {
	return newChatCompletionsGateway(domain.ProviderOpenAI, cfg, catalog)
}

// NewXAIGateway creates a gateway for xAI's OpenAI-compatible endpoint
func NewXAIGateway(cfg GatewayConfig, catalog *Catalog) (*OpenAIGateway, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.x.ai/v1"
	}
	return newChatCompletionsGateway(domain.ProviderXAI, cfg, catalog)
}

func newChatCompletionsGateway(id domain.ProviderID, cfg GatewayConfig, catalog *Catalog) (*OpenAIGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", id)
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}

	return &OpenAIGateway{
		id:      id,
		client:  openai.NewClient(requestOptions(cfg)...),
		catalog: catalog,
		logger:  observability.NewStructuredLogger("llm." + string(id)),
	}, nil
}

func requestOptions(cfg GatewayConfig) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}
	return opts
}

// ID returns the provider identifier
func (g *OpenAIGateway) ID() domain.ProviderID {
	return g.id
}

// Generate produces a report with a single chat completion
func (g *OpenAIGateway) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	model := req.Model
	if model == "" {
		model = g.catalog.DefaultModel(g.id)
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured for %s", g.id)
	}
	maxTokens := g.catalog.ClampTokens(model, req.MaxOutputTokens)

	params := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt(req.Mode)),
			openai.UserMessage(UserPrompt(req)),
		},
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	start := time.Now()
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", g.id, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", g.id)
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("%s: %w", g.id, domain.ErrEmptyProviderReply)
	}

	g.logger.Debug(ctx, "chat completion finished", map[string]interface{}{
		"model":             model,
		"mode":              string(req.Mode),
		"duration_ms":       time.Since(start).Milliseconds(),
		"prompt_tokens":     resp.Usage.PromptTokens,
		"completion_tokens": resp.Usage.CompletionTokens,
		"finish_reason":     resp.Choices[0].FinishReason,
	})

	return &domain.GenerateResult{Content: content}, nil
}
