package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	// Matches international numbers (+49..., 0049...) and local numbers with
	// an area code, tolerating space, dash, slash, dot and parentheses.
	phonePattern = regexp.MustCompile(`(?:\+|00)[1-9][0-9 \-/().]{6,}[0-9]|\(?0[0-9]{2,4}\)?[ \-/.]?[0-9][0-9 \-/.]{4,}[0-9]`)
)

// MaskResult carries masked text and the placeholder map needed to restore it.
type MaskResult struct {
	Masked string
	// Placeholders maps placeholder token to original value. The map is
	// scoped to a single field's content and never shared across fields.
	Placeholders map[string]string
}

// ContentMasker performs reversible PII placeholder substitution on field
// content before it is sent to a third-party provider.
type ContentMasker struct{}

// NewContentMasker constructs a ContentMasker.
func NewContentMasker() *ContentMasker {
	return &ContentMasker{}
}

// Mask replaces emails and phone-like sequences with ordinal placeholder
// tokens according to the masking config. Each kind keeps its own counter.
func (m *ContentMasker) Mask(text string, cfg model.MaskingConfig) MaskResult {
	result := MaskResult{
		Masked:       text,
		Placeholders: map[string]string{},
	}

	if cfg.MaskEmails {
		counter := 0
		result.Masked = emailPattern.ReplaceAllStringFunc(result.Masked, func(match string) string {
			counter++
			placeholder := fmt.Sprintf("___EMAIL_MASK_%d___", counter)
			result.Placeholders[placeholder] = match
			return placeholder
		})
	}

	if cfg.MaskPhones {
		counter := 0
		result.Masked = phonePattern.ReplaceAllStringFunc(result.Masked, func(match string) string {
			counter++
			placeholder := fmt.Sprintf("___TEL_MASK_%d___", counter)
			result.Placeholders[placeholder] = match
			return placeholder
		})
	}

	return result
}

// Demask restores original values by literal placeholder substitution.
func (m *ContentMasker) Demask(text string, placeholders map[string]string) string {
	for placeholder, original := range placeholders {
		text = strings.ReplaceAll(text, placeholder, original)
	}
	return text
}
