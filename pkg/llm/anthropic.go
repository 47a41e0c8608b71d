package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/observability"
)

const minThinkingBudget = 1024

// AnthropicGateway generates reports with Claude, keeping extended thinking
// separate from report content.
type AnthropicGateway struct {
	client  anthropic.Client
	catalog *Catalog
	logger  *observability.StructuredLogger
}

// NewAnthropicGateway creates a gateway for Anthropic
func NewAnthropicGateway(cfg GatewayConfig, catalog *Catalog) (*AnthropicGateway, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if catalog == nil {
		catalog = DefaultCatalog()
	}

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

	return &AnthropicGateway{
		client:  anthropic.NewClient(opts...),
		catalog: catalog,
		logger:  observability.NewStructuredLogger("llm.anthropic"),
	}, nil
}

// ID returns the provider identifier
func (g *AnthropicGateway) ID() domain.ProviderID {
	return domain.ProviderAnthropic
}

// ThinkingBudget returns the extended-thinking budget for a max token budget:
// a quarter of it, or 0 when that leaves less than the API minimum.
func ThinkingBudget(maxTokens int) int {
	budget := maxTokens / 4
	if budget < minThinkingBudget {
		return 0
	}
	return budget
}

// Generate streams a message and splits thinking blocks from text blocks.
// Streaming avoids the SDK's refusal of long non-streaming requests.
func (g *AnthropicGateway) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	model := req.Model
	if model == "" {
		model = g.catalog.DefaultModel(domain.ProviderAnthropic)
	}
	if model == "" {
		return nil, fmt.Errorf("no model configured for anthropic")
	}
	maxTokens := g.catalog.ClampTokens(model, req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 8000
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		System: []anthropic.TextBlockParam{
			{Text: SystemPrompt(req.Mode)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(UserPrompt(req))),
		},
	}
	if budget := ThinkingBudget(maxTokens); budget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{BudgetTokens: int64(budget)},
		}
	}

	start := time.Now()
	stream := g.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		if err := message.Accumulate(stream.Current()); err != nil {
			return nil, fmt.Errorf("anthropic stream accumulate: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic message: %w", err)
	}

	var content, thinking strings.Builder
	for _, block := range message.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "thinking":
			if thinking.Len() > 0 {
				thinking.WriteString("\n\n")
			}
			thinking.WriteString(block.Thinking)
		}
	}

	result := &domain.GenerateResult{
		Content:  strings.TrimSpace(content.String()),
		Thinking: strings.TrimSpace(thinking.String()),
	}
	if result.Content == "" {
		return nil, fmt.Errorf("anthropic: %w", domain.ErrEmptyProviderReply)
	}

	g.logger.Debug(ctx, "message finished", map[string]interface{}{
		"model":         model,
		"mode":          string(req.Mode),
		"duration_ms":   time.Since(start).Milliseconds(),
		"input_tokens":  message.Usage.InputTokens,
		"output_tokens": message.Usage.OutputTokens,
		"stop_reason":   string(message.StopReason),
	})

	return result, nil
}
