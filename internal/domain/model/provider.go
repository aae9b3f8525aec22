package model

import "fmt"

// ProviderKind identifies a supported LLM wire protocol.
type ProviderKind string

const (
	// ProviderOpenAI speaks the OpenAI chat-completions protocol.
	ProviderOpenAI ProviderKind = "openai"
	// ProviderAnthropic speaks the Anthropic messages protocol.
	ProviderAnthropic ProviderKind = "anthropic"
	// ProviderGemini speaks the Google Gemini generateContent protocol.
	ProviderGemini ProviderKind = "gemini"
	// ProviderMistral speaks the OpenAI-compatible protocol against the Mistral endpoint.
	ProviderMistral ProviderKind = "mistral"
)

// Valid reports whether the kind is a supported provider.
func (k ProviderKind) Valid() bool {
	switch k {
	case ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderMistral:
		return true
	default:
		return false
	}
}

// ParseProviderKind converts a stored provider identifier into a ProviderKind.
func ParseProviderKind(s string) (ProviderKind, error) {
	k := ProviderKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown provider kind: %q", s)
	}
	return k, nil
}

// Chat message roles shared by all provider protocols.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one turn of a provider conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the provider-neutral completion input.
type CompletionRequest struct {
	Messages    []ChatMessage
	Model       string
	MaxTokens   int
	Temperature float64
}

// CompletionResult is the provider-neutral completion output.
type CompletionResult struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	Model            string
}

// TotalTokens returns prompt plus completion tokens.
func (r *CompletionResult) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}
