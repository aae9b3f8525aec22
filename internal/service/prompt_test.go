package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

func TestPromptBuilder_BuildComposesSections(t *testing.T) {
	builder := NewPromptBuilder()
	cfg := &model.VariantConfig{SystemPrompt: "Translate into plain language."}
	rule := model.FieldTypeRule{Instruction: "Keep markdown intact."}

	prompt := builder.Build(cfg, rule, "Some content", false)

	assert.Equal(t, "Translate into plain language.\n\nKeep markdown intact.", prompt.System)
	assert.Equal(t, "Some content", prompt.User)
	assert.Equal(t, HashText(prompt.System), prompt.Hash)
}

func TestPromptBuilder_BuildAddsMaskingNotice(t *testing.T) {
	builder := NewPromptBuilder()
	cfg := &model.VariantConfig{SystemPrompt: "Translate."}

	withMask := builder.Build(cfg, model.FieldTypeRule{}, "x", true)
	withoutMask := builder.Build(cfg, model.FieldTypeRule{}, "x", false)

	assert.Contains(t, withMask.System, "___EMAIL_MASK_1___")
	assert.NotContains(t, withoutMask.System, "___EMAIL_MASK_1___")
	assert.NotEqual(t, withMask.Hash, withoutMask.Hash)
}

func TestPromptBuilder_HashIgnoresContent(t *testing.T) {
	builder := NewPromptBuilder()
	cfg := &model.VariantConfig{SystemPrompt: "Translate."}
	rule := model.FieldTypeRule{Instruction: "Rule."}

	first := builder.Build(cfg, rule, "content one", false)
	second := builder.Build(cfg, rule, "entirely different content", false)

	assert.Equal(t, first.Hash, second.Hash)
}

func TestPromptBuilder_NormalizeResponse(t *testing.T) {
	builder := NewPromptBuilder()

	tests := []struct {
		name      string
		raw       string
		fieldType string
		expected  string
	}{
		{
			name:     "plain text passes through trimmed",
			raw:      "  Hello world  ",
			expected: "Hello world",
		},
		{
			name:     "code fence is stripped",
			raw:      "```\nHello world\n```",
			expected: "Hello world",
		},
		{
			name:     "language tagged fence is stripped",
			raw:      "```json\n{\"a\": 1}\n```",
			expected: "{\"a\": 1}",
		},
		{
			name:     "blank line runs collapse",
			raw:      "one\n\n\n\ntwo",
			expected: "one\n\ntwo",
		},
		{
			name:      "structured response compacts json",
			raw:       "{\n  \"text\": \"hallo\"\n}",
			fieldType: "blocks",
			expected:  `{"text":"hallo"}`,
		},
		{
			name:      "prose around json is discarded for structured types",
			raw:       "Here is the translation:\n[{\"text\":\"hi\"}]\nLet me know if you need more.",
			fieldType: "layout",
			expected:  `[{"text":"hi"}]`,
		},
		{
			name:      "trailing garbage after balanced json is truncated",
			raw:       `[{"text":"hi"}]]]`,
			fieldType: "structure",
			expected:  `[{"text":"hi"}]`,
		},
		{
			name:      "unbalanced json falls back to cleaned text",
			raw:       `[{"text":"hi"`,
			fieldType: "blocks",
			expected:  `[{"text":"hi"`,
		},
		{
			name:      "braces inside strings do not confuse the scanner",
			raw:       `{"text":"closing } brace and \" quote"} trailing`,
			fieldType: "object",
			expected:  `{"text":"closing } brace and \" quote"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, builder.NormalizeResponse(tt.raw, tt.fieldType))
		})
	}
}

func TestHashText(t *testing.T) {
	first := HashText("hello")
	second := HashText("hello")
	different := HashText("world")

	require.Len(t, first, 64)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, different)
}
