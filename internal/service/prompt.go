package service

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

var codeFencePattern = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\n?(.*?)\n?```\\s*$")

var excessNewlines = regexp.MustCompile(`\n{3,}`)

// Prompt is a fully assembled provider request for one field.
type Prompt struct {
	System string
	User   string
	Hash   string
}

// PromptBuilder assembles system/user prompts for one field translation and
// normalizes provider responses back into storable field content.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder {
	return &PromptBuilder{}
}

// Build composes the system prompt from the variant-wide instruction, the
// field-type instruction and a masking notice when placeholders are present.
// The hash covers the system prompt only, so cached translations survive
// content edits but not instruction changes.
func (b *PromptBuilder) Build(cfg *model.VariantConfig, rule model.FieldTypeRule, content string, masked bool) Prompt {
	var sections []string
	if s := strings.TrimSpace(cfg.SystemPrompt); s != "" {
		sections = append(sections, s)
	}
	if s := strings.TrimSpace(rule.Instruction); s != "" {
		sections = append(sections, s)
	}
	if masked {
		sections = append(sections, "The text contains placeholder tokens such as ___EMAIL_MASK_1___ and ___TEL_MASK_1___. Keep every placeholder exactly as written, do not translate or reorder them.")
	}

	system := strings.Join(sections, "\n\n")
	return Prompt{
		System: system,
		User:   content,
		Hash:   HashText(system),
	}
}

// BuildGrouped composes one prompt covering a whole same-type batch. The
// user turn lists each field as a Field:/Content: entry; the model is asked
// to answer in the same structure, which ParseGroupedResponse unpacks. The
// hash covers the system prompt only, same as the per-field path, so cache
// entries stay interchangeable between the two modes.
func (b *PromptBuilder) BuildGrouped(cfg *model.VariantConfig, rule model.FieldTypeRule, fields []string, contents map[string]string, masked bool) Prompt {
	prompt := b.Build(cfg, rule, "", masked)

	var sb strings.Builder
	sb.WriteString("Translate the following fields:\n\n")
	for _, name := range fields {
		sb.WriteString("Field: ")
		sb.WriteString(name)
		sb.WriteString("\nContent: ")
		sb.WriteString(contents[name])
		sb.WriteString("\n\n")
	}
	sb.WriteString("Answer with one \"Field: <name>\" line followed by a \"Content: <translation>\" line per field, separated by blank lines.")

	prompt.User = sb.String()
	return prompt
}

// HashText returns the lowercase hex SHA-256 of the given text.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// NormalizeResponse cleans up a raw provider response for storage. Code
// fences are stripped and runs of blank lines collapsed; structured field
// types are additionally truncated to the first balanced JSON value and
// re-serialized in compact form.
func (b *PromptBuilder) NormalizeResponse(raw, fieldType string) string {
	text := strings.TrimSpace(raw)
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	text = excessNewlines.ReplaceAllString(text, "\n\n")

	if model.IsStructuredFieldType(fieldType) {
		if compact, ok := extractBalancedJSON(text); ok {
			return compact
		}
	}
	return text
}

// extractBalancedJSON finds the first balanced JSON array or object in text
// and returns it compacted. Providers like to wrap JSON answers in prose;
// everything before and after the first balanced value is discarded.
func extractBalancedJSON(text string) (string, bool) {
	start := strings.IndexAny(text, "[{")
	if start < 0 {
		return "", false
	}

	opener := text[start]
	var closer byte = ']'
	if opener == '{' {
		closer = '}'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case opener:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return compactJSON(text[start : i+1])
			}
		}
	}
	return "", false
}

func compactJSON(raw string) (string, bool) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return "", false
	}
	return buf.String(), true
}
