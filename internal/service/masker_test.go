package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

func TestContentMasker_MaskEmails(t *testing.T) {
	masker := NewContentMasker()

	result := masker.Mask(
		"Contact max.mustermann@example.org or info@firma.de for details.",
		model.MaskingConfig{MaskEmails: true},
	)

	assert.Equal(t, "Contact ___EMAIL_MASK_1___ or ___EMAIL_MASK_2___ for details.", result.Masked)
	require.Len(t, result.Placeholders, 2)
	assert.Equal(t, "max.mustermann@example.org", result.Placeholders["___EMAIL_MASK_1___"])
	assert.Equal(t, "info@firma.de", result.Placeholders["___EMAIL_MASK_2___"])
}

func TestContentMasker_MaskPhones(t *testing.T) {
	masker := NewContentMasker()

	tests := []struct {
		name  string
		input string
	}{
		{name: "international with plus", input: "Call +49 30 1234567 today"},
		{name: "international with zeros", input: "Call 0049 30 1234567 today"},
		{name: "local with area code", input: "Call (030) 123 45 67 today"},
		{name: "dashed local number", input: "Call 0171-234-5678 today"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := masker.Mask(tt.input, model.MaskingConfig{MaskPhones: true})

			assert.Equal(t, "Call ___TEL_MASK_1___ today", result.Masked)
			require.Len(t, result.Placeholders, 1)
		})
	}
}

func TestContentMasker_DisabledFlagsLeaveTextAlone(t *testing.T) {
	masker := NewContentMasker()
	text := "Reach info@example.com or +49 30 1234567"

	result := masker.Mask(text, model.MaskingConfig{})

	assert.Equal(t, text, result.Masked)
	assert.Empty(t, result.Placeholders)
}

func TestContentMasker_RoundTrip(t *testing.T) {
	masker := NewContentMasker()
	original := "Write to anna@example.de or call +49 170 1234567."

	masked := masker.Mask(original, model.MaskingConfig{MaskEmails: true, MaskPhones: true})
	require.NotEqual(t, original, masked.Masked)
	assert.NotContains(t, masked.Masked, "anna@example.de")
	assert.NotContains(t, masked.Masked, "+49 170 1234567")

	restored := masker.Demask(masked.Masked, masked.Placeholders)
	assert.Equal(t, original, restored)
}

func TestContentMasker_DemaskSurvivesTranslation(t *testing.T) {
	masker := NewContentMasker()

	masked := masker.Mask("Schreiben Sie an kontakt@beispiel.de.", model.MaskingConfig{MaskEmails: true})
	// A provider rephrases around the placeholder but keeps it intact.
	translated := "Please write to ___EMAIL_MASK_1___."

	restored := masker.Demask(translated, masked.Placeholders)
	assert.Equal(t, "Please write to kontakt@beispiel.de.", restored)
}

func TestContentMasker_CountersAreScopedPerCall(t *testing.T) {
	masker := NewContentMasker()
	cfg := model.MaskingConfig{MaskEmails: true}

	first := masker.Mask("a@example.com", cfg)
	second := masker.Mask("b@example.com", cfg)

	assert.Contains(t, first.Placeholders, "___EMAIL_MASK_1___")
	assert.Contains(t, second.Placeholders, "___EMAIL_MASK_1___")
	assert.Equal(t, "b@example.com", second.Placeholders["___EMAIL_MASK_1___"])
}
