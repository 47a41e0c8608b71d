package llm_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ncolesummers/multi-research/pkg/domain"
	"github.com/ncolesummers/multi-research/pkg/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type contentBlock struct {
	kind string
	text string
}

// messageStreamServer answers /v1/messages with a streamed message made of blocks
func messageStreamServer(t *testing.T, blocks []contentBlock, inspect func(body map[string]interface{}, r *http.Request)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)

		var body map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if inspect != nil {
			inspect(body, r)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		write := func(event string, payload map[string]interface{}) {
			data, err := json.Marshal(payload)
			assert.NoError(t, err)
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		}

		write("message_start", map[string]interface{}{
			"type": "message_start",
			"message": map[string]interface{}{
				"id": "msg_1", "type": "message", "role": "assistant",
				"model": body["model"], "content": []interface{}{},
				"stop_reason": nil, "stop_sequence": nil,
				"usage": map[string]interface{}{"input_tokens": 12, "output_tokens": 1},
			},
		})
		for i, block := range blocks {
			switch block.kind {
			case "thinking":
				write("content_block_start", map[string]interface{}{
					"type": "content_block_start", "index": i,
					"content_block": map[string]interface{}{"type": "thinking", "thinking": "", "signature": ""},
				})
				write("content_block_delta", map[string]interface{}{
					"type": "content_block_delta", "index": i,
					"delta": map[string]interface{}{"type": "thinking_delta", "thinking": block.text},
				})
				write("content_block_delta", map[string]interface{}{
					"type": "content_block_delta", "index": i,
					"delta": map[string]interface{}{"type": "signature_delta", "signature": "sig"},
				})
			default:
				write("content_block_start", map[string]interface{}{
					"type": "content_block_start", "index": i,
					"content_block": map[string]interface{}{"type": "text", "text": ""},
				})
				write("content_block_delta", map[string]interface{}{
					"type": "content_block_delta", "index": i,
					"delta": map[string]interface{}{"type": "text_delta", "text": block.text},
				})
			}
			write("content_block_stop", map[string]interface{}{"type": "content_block_stop", "index": i})
		}
		write("message_delta", map[string]interface{}{
			"type":  "message_delta",
			"delta": map[string]interface{}{"stop_reason": "end_turn", "stop_sequence": nil},
			"usage": map[string]interface{}{"output_tokens": 40},
		})
		write("message_stop", map[string]interface{}{"type": "message_stop"})
	}))
}

func TestAnthropicGateway_SplitsThinkingFromContent(t *testing.T) {
	blocks := []contentBlock{
		{kind: "thinking", text: "Weighing the sources."},
		{kind: "text", text: "# Overview\n\nFindings [1]"},
	}
	server := messageStreamServer(t, blocks, func(body map[string]interface{}, r *http.Request) {
		assert.Equal(t, "ak-test", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "claude-sonnet-4-5-20250929", body["model"])
		assert.EqualValues(t, 8000, body["max_tokens"])
		assert.Equal(t, true, body["stream"])

		thinking, ok := body["thinking"].(map[string]interface{})
		if assert.True(t, ok, "thinking config missing") {
			assert.Equal(t, "enabled", thinking["type"])
			assert.EqualValues(t, 8000/4, thinking["budget_tokens"])
		}

		encoded, err := json.Marshal(body["messages"])
		assert.NoError(t, err)
		assert.Contains(t, string(encoded), "grid storage")
	})
	defer server.Close()

	gateway, err := llm.NewAnthropicGateway(llm.GatewayConfig{APIKey: "ak-test", BaseURL: server.URL}, nil)
	require.NoError(t, err)

	result, err := gateway.Generate(context.Background(), domain.GenerateRequest{
		Topic:           "grid storage",
		MaxOutputTokens: 8000,
		Mode:            domain.ModeResearch,
	})
	require.NoError(t, err)
	assert.Equal(t, "# Overview\n\nFindings [1]", result.Content)
	assert.Equal(t, "Weighing the sources.", result.Thinking)
}

func TestAnthropicGateway_SmallBudgetDisablesThinking(t *testing.T) {
	server := messageStreamServer(t, []contentBlock{{kind: "text", text: "report"}}, func(body map[string]interface{}, r *http.Request) {
		assert.EqualValues(t, 2000, body["max_tokens"])
		_, present := body["thinking"]
		assert.False(t, present, "thinking should be omitted below the minimum budget")
	})
	defer server.Close()

	gateway, err := llm.NewAnthropicGateway(llm.GatewayConfig{APIKey: "ak", BaseURL: server.URL}, nil)
	require.NoError(t, err)

	result, err := gateway.Generate(context.Background(), domain.GenerateRequest{Topic: "x", MaxOutputTokens: 2000})
	require.NoError(t, err)
	assert.Equal(t, "report", result.Content)
	assert.Empty(t, result.Thinking)
}

func TestAnthropicGateway_Errors(t *testing.T) {
	t.Run("thinking only", func(t *testing.T) {
		server := messageStreamServer(t, []contentBlock{{kind: "thinking", text: "hmm"}}, nil)
		defer server.Close()

		gateway, err := llm.NewAnthropicGateway(llm.GatewayConfig{APIKey: "ak", BaseURL: server.URL}, nil)
		require.NoError(t, err)
		_, err = gateway.Generate(context.Background(), domain.GenerateRequest{Topic: "x", MaxOutputTokens: 8000})
		assert.ErrorIs(t, err, domain.ErrEmptyProviderReply)
	})

	t.Run("server error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
		}))
		defer server.Close()

		gateway, err := llm.NewAnthropicGateway(llm.GatewayConfig{APIKey: "ak", BaseURL: server.URL}, nil)
		require.NoError(t, err)
		_, err = gateway.Generate(context.Background(), domain.GenerateRequest{Topic: "x"})
		assert.Error(t, err)
	})
}
