package model

import (
	"strings"
	"time"
)

// PageMode controls per-page processing behaviour inside a variant.
type PageMode string

const (
	// PageModeAuto processes the page whenever its source content changes.
	PageModeAuto PageMode = "auto"
	// PageModeManual processes the page only on explicit request.
	PageModeManual PageMode = "manual"
	// PageModeOff excludes the page from processing entirely.
	PageModeOff PageMode = "off"
)

// Valid reports whether the mode is known.
func (m PageMode) Valid() bool {
	return m == PageModeAuto || m == PageModeManual || m == PageModeOff
}

// FieldTypeRule is the per-field-type translation rule of a variant.
type FieldTypeRule struct {
	// Instruction is appended to the system prompt for fields of this type.
	Instruction string `json:"instruction"`
	// Category groups the type for reporting (text, structured, meta).
	Category string `json:"category"`
	// Enabled toggles the rule without removing it.
	Enabled bool `json:"enabled"`
	// TextProbe is an optional JMESPath expression extracting the
	// human-visible text segments from structured field JSON.
	TextProbe string `json:"text_probe,omitempty"`
}

// MaskingConfig toggles reversible PII masking before provider calls.
type MaskingConfig struct {
	MaskEmails bool `json:"mask_emails"`
	MaskPhones bool `json:"mask_phones"`
}

// PrivacyConfig groups the opt-out lists and masking flags of a variant.
type PrivacyConfig struct {
	// OptOutTemplates lists page templates excluded from processing (exact match).
	OptOutTemplates []string `json:"opt_out_templates"`
	// OptOutFields lists field-name patterns excluded from processing (glob match).
	OptOutFields []string `json:"opt_out_fields"`
	// OptOutFieldTypes lists field types excluded from processing.
	OptOutFieldTypes []string `json:"opt_out_fieldtypes"`
	// Masking toggles email/phone placeholder substitution.
	Masking MaskingConfig `json:"masking"`
}

// PricingConfig carries per-million-token prices used for cost estimation.
type PricingConfig struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// ModelSettings describes the provider/model assignment of a variant.
type ModelSettings struct {
	// Provider selects the wire protocol.
	Provider ProviderKind `json:"provider"`
	// Model is the provider-side model identifier.
	Model string `json:"model"`
	// Endpoint overrides the default API base URL (required for Mistral).
	Endpoint string `json:"endpoint,omitempty"`
	// MaxOutputTokens caps completion length. Mandatory for Anthropic.
	MaxOutputTokens int `json:"max_output_tokens,omitempty"`
	// Temperature is passed through to the provider when non-zero.
	Temperature float64 `json:"temperature,omitempty"`
	// Pricing feeds cost estimation; zero values disable cost accounting.
	Pricing PricingConfig `json:"pricing"`
}

// ProviderID returns the ledger identifier for budget accounting,
// e.g. "openai/gpt-4o-mini".
func (s ModelSettings) ProviderID() string {
	return string(s.Provider) + "/" + s.Model
}

// PageEntry maps a page UUID to its processing mode inside a variant.
type PageEntry struct {
	UUID string   `json:"uuid"`
	Mode PageMode `json:"mode"`
}

// VariantConfig is the per-translation-target configuration document.
// It is read-mostly from this service's perspective; the only write-back
// performed here is the per-page mode.
type VariantConfig struct {
	// VariantCode identifies the translation target, e.g. "de-x-ls".
	VariantCode string `json:"variant_code"`
	// SourceLanguage is the language pages are translated from.
	SourceLanguage string `json:"source_language"`
	// SystemPrompt is the base instruction sent with every completion.
	SystemPrompt string `json:"system_prompt"`
	// ModelSettings assigns the provider, model and pricing.
	ModelSettings ModelSettings `json:"model_settings"`
	// FieldTypes maps field type name to its translation rule.
	FieldTypes map[string]FieldTypeRule `json:"field_type_instructions"`
	// Privacy groups opt-outs and masking flags.
	Privacy PrivacyConfig `json:"privacy"`
	// Pages lists per-page mode overrides; absent pages default to auto.
	Pages []PageEntry `json:"pages"`
	// FieldDelayMillis throttles consecutive provider calls within a job.
	FieldDelayMillis int `json:"field_delay_ms,omitempty"`
	// GroupedCalls batches same-type fields into a single provider call
	// instead of one call per field.
	GroupedCalls bool `json:"grouped_calls,omitempty"`
	// GroupBatchSize caps the fields per grouped call.
	GroupBatchSize int `json:"group_batch_size,omitempty"`
}

// defaultGroupBatchSize bounds a grouped call when no explicit size is set.
const defaultGroupBatchSize = 20

// BatchSize returns the grouped-call batch cap, defaulting to 20 fields.
func (c *VariantConfig) BatchSize() int {
	if c.GroupBatchSize <= 0 {
		return defaultGroupBatchSize
	}
	return c.GroupBatchSize
}

// FieldDelay returns the inter-field throttle, defaulting to 500ms.
func (c *VariantConfig) FieldDelay() time.Duration {
	if c.FieldDelayMillis <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(c.FieldDelayMillis) * time.Millisecond
}

// PageModeFor resolves the processing mode for a page UUID, defaulting to auto.
func (c *VariantConfig) PageModeFor(pageUUID string) PageMode {
	for _, entry := range c.Pages {
		if entry.UUID == pageUUID {
			if entry.Mode.Valid() {
				return entry.Mode
			}
			return PageModeAuto
		}
	}
	return PageModeAuto
}

// TemplateOptedOut reports whether the given page template is excluded.
func (c *VariantConfig) TemplateOptedOut(template string) bool {
	for _, t := range c.Privacy.OptOutTemplates {
		if strings.EqualFold(strings.TrimSpace(t), strings.TrimSpace(template)) {
			return true
		}
	}
	return false
}

// FieldTypeRuleFor returns the enabled rule for a field type, if any.
func (c *VariantConfig) FieldTypeRuleFor(fieldType string) (FieldTypeRule, bool) {
	rule, ok := c.FieldTypes[fieldType]
	if !ok || !rule.Enabled {
		return FieldTypeRule{}, false
	}
	for _, t := range c.Privacy.OptOutFieldTypes {
		if strings.EqualFold(t, fieldType) {
			return FieldTypeRule{}, false
		}
	}
	return rule, true
}

// StructuredFieldTypes are field types whose values are JSON documents and
// which receive balanced-JSON response truncation and compact re-serialization.
var StructuredFieldTypes = map[string]bool{
	"blocks":    true,
	"layout":    true,
	"structure": true,
	"object":    true,
}

// IsStructuredFieldType reports whether values of the type are JSON documents.
func IsStructuredFieldType(fieldType string) bool {
	return StructuredFieldTypes[strings.ToLower(fieldType)]
}
