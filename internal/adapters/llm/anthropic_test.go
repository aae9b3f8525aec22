package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
	apperrors "github.com/kirbydesk/simplify-engine/internal/errors"
)

func newAnthropicUnderTest(endpoint string) *AnthropicProvider {
	return NewAnthropicProvider(AnthropicProviderOptions{
		Client:     resty.New(),
		Endpoint:   endpoint,
		APIKey:     "test-key",
		MaxRetries: 1,
	})
}

func TestAnthropicProvider_Complete(t *testing.T) {
	var captured map[string]any
	var header http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		header = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{
			"model": "claude-3-5-haiku-20241022",
			"content": [
				{"type": "text", "text": "Einfacher "},
				{"type": "tool_use", "text": "ignored"},
				{"type": "text", "text": "Text."}
			],
			"usage": {"input_tokens": 80, "output_tokens": 25}
		}`))
	}))
	defer server.Close()

	provider := newAnthropicUnderTest(server.URL)
	result, err := provider.Complete(context.Background(), &model.CompletionRequest{
		Messages: []model.ChatMessage{
			{Role: model.RoleSystem, Content: "Vereinfache den Text."},
			{Role: model.RoleSystem, Content: "Behalte Platzhalter bei."},
			{Role: model.RoleUser, Content: "Komplizierter Text."},
		},
		Model:     "claude-3-5-haiku",
		MaxTokens: 1024,
	})
	require.NoError(t, err)

	assert.Equal(t, "test-key", header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", header.Get("anthropic-version"))

	// System turns move into the dedicated top-level field.
	assert.Equal(t, "Vereinfache den Text.\n\nBehalte Platzhalter bei.", captured["system"])
	messages := captured["messages"].([]any)
	require.Len(t, messages, 1)
	assert.Equal(t, "user", messages[0].(map[string]any)["role"])
	assert.Equal(t, float64(1024), captured["max_tokens"])

	// Only text blocks contribute to the result.
	assert.Equal(t, "Einfacher Text.", result.Text)
	assert.Equal(t, 80, result.PromptTokens)
	assert.Equal(t, 25, result.CompletionTokens)
	assert.Equal(t, "claude-3-5-haiku-20241022", result.Model)
}

func TestAnthropicProvider_RequiresMaxTokens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	provider := newAnthropicUnderTest(server.URL)
	_, err := provider.Complete(context.Background(), &model.CompletionRequest{
		Messages: []model.ChatMessage{{Role: model.RoleUser, Content: "x"}},
		Model:    "claude-3-5-haiku",
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
	assert.Contains(t, err.Error(), "max_output_tokens")
	// The request never reached the wire.
	assert.EqualValues(t, 0, calls.Load())
}

func TestAnthropicProvider_NoTextContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content": [{"type": "tool_use", "text": ""}], "usage": {}}`))
	}))
	defer server.Close()

	provider := newAnthropicUnderTest(server.URL)
	_, err := provider.Complete(context.Background(), &model.CompletionRequest{
		Messages:  []model.ChatMessage{{Role: model.RoleUser, Content: "x"}},
		Model:     "claude-3-5-haiku",
		MaxTokens: 512,
	})

	require.Error(t, err)
	assert.True(t, apperrors.IsProvider(err))
	assert.Contains(t, err.Error(), "no text content")
}
