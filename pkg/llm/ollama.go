package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ncolesummers/multi-research/pkg/domain"
)

// OllamaGateway generates reports with a locally served Ollama model
type OllamaGateway struct {
	baseURL    string
	model      string
	httpClient *http.Client
	options    OllamaOptions
}

// OllamaOptions configures the Ollama gateway
type OllamaOptions struct {
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	TopK        int           `json:"top_k"`
	Timeout     time.Duration `json:"timeout"`
}

// OllamaRequest represents a request to the Ollama API
type OllamaRequest struct {
	Model    string                 `json:"model"`
	Messages []OllamaMessage        `json:"messages"`
	Options  map[string]interface{} `json:"options,omitempty"`
	Stream   bool                   `json:"stream"`
}

// OllamaMessage represents a message in the Ollama format
type OllamaMessage struct {
	Role     string `json:"role"`
	Content  string `json:"content"`
	Thinking string `json:"thinking,omitempty"`
}

// OllamaResponse represents a response from the Ollama API
type OllamaResponse struct {
	Message         OllamaMessage `json:"message"`
	Done            bool          `json:"done"`
	TotalDuration   int64         `json:"total_duration"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// reasoning models inline their chain of thought in <think> tags
var thinkTagPattern = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// NewOllamaGateway creates a new Ollama gateway
func NewOllamaGateway(baseURL, model string, options *OllamaOptions) *OllamaGateway {
	if options == nil {
		options = &OllamaOptions{
			Temperature: 0.7,
			TopP:        0.9,
			Timeout:     10 * time.Minute,
		}
	}

	return &OllamaGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: options.Timeout,
		},
		options: *options,
	}
}

// ID returns the provider identifier
func (c *OllamaGateway) ID() domain.ProviderID {
	return domain.ProviderOllama
}

// Generate performs a single non-streaming chat completion
func (c *OllamaGateway) Generate(ctx context.Context, req domain.GenerateRequest) (*domain.GenerateResult, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}

	body, err := json.Marshal(OllamaRequest{
		Model: model,
		Messages: []OllamaMessage{
			{Role: "system", Content: SystemPrompt(req.Mode)},
			{Role: "user", Content: UserPrompt(req)},
		},
		Options: c.buildOptions(req.MaxOutputTokens),
		Stream:  false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		"POST",
		fmt.Sprintf("%s/api/chat", c.baseURL),
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var ollamaResp OllamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	content, thinking := splitThinking(ollamaResp.Message.Content)
	if ollamaResp.Message.Thinking != "" {
		thinking = strings.TrimSpace(ollamaResp.Message.Thinking + "\n\n" + thinking)
	}
	if content == "" {
		return nil, fmt.Errorf("ollama: %w", domain.ErrEmptyProviderReply)
	}

	return &domain.GenerateResult{Content: content, Thinking: thinking}, nil
}

// splitThinking separates <think> blocks from the visible answer
func splitThinking(raw string) (content, thinking string) {
	var notes []string
	for _, m := range thinkTagPattern.FindAllStringSubmatch(raw, -1) {
		if note := strings.TrimSpace(m[1]); note != "" {
			notes = append(notes, note)
		}
	}
	content = strings.TrimSpace(thinkTagPattern.ReplaceAllString(raw, ""))
	return content, strings.Join(notes, "\n\n")
}

func (c *OllamaGateway) buildOptions(maxTokens int) map[string]interface{} {
	options := map[string]interface{}{
		"temperature": c.options.Temperature,
	}
	if maxTokens > 0 {
		options["num_predict"] = maxTokens
	}
	if c.options.TopP > 0 {
		options["top_p"] = c.options.TopP
	}
	if c.options.TopK > 0 {
		options["top_k"] = c.options.TopK
	}
	return options
}

// CheckHealth verifies the Ollama service is accessible
func (c *OllamaGateway) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(
		ctx,
		"GET",
		fmt.Sprintf("%s/api/tags", c.baseURL),
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama service unhealthy: status %d", resp.StatusCode)
	}

	return nil
}

// ListModels returns available models from Ollama
func (c *OllamaGateway) ListModels(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(
		ctx,
		"GET",
		fmt.Sprintf("%s/api/tags", c.baseURL),
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(body))
	}

	var modelsResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	models := make([]string, len(modelsResp.Models))
	for i, model := range modelsResp.Models {
		models[i] = model.Name
	}

	return models, nil
}
