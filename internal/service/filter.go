package service

import (
	"encoding/json"
	"log/slog"
	"path"
	"strings"

	"github.com/jmespath-community/go-jmespath"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// FilterInput groups the inputs of one filter pass.
type FilterInput struct {
	Page      *model.Page
	Config    *model.VariantConfig
	Candidate []string
	Current   model.FieldMap
	IsManual  bool
}

// FilterResult is the outcome of one filter pass. When Blocked is set the
// whole page is excluded and Eligible is empty.
type FilterResult struct {
	Eligible    []string
	Blocked     bool
	BlockReason string
}

// FieldFilter applies the five-level eligibility pipeline deciding which
// fields of a page may be translated:
//
//  1. per-page mode override (off/manual stop, auto proceeds)
//  2. template opt-out (exact match)
//  3. candidate set (all fields or changed fields, supplied by the caller)
//  4. field-type eligibility (registered rule, not opted out)
//  5. field-name wildcard exclusion; unknown-type and empty fields drop silently
type FieldFilter struct {
	logger *slog.Logger
}

// NewFieldFilter constructs a FieldFilter. The logger is optional.
func NewFieldFilter(logger *slog.Logger) *FieldFilter {
	if logger != nil {
		logger = logger.With("component", "field_filter")
	}
	return &FieldFilter{logger: logger}
}

// Apply runs the filter pipeline and returns the eligible field names in
// candidate order.
func (f *FieldFilter) Apply(input FilterInput) FilterResult {
	if input.Page == nil || input.Config == nil {
		return FilterResult{Blocked: true, BlockReason: "missing page or variant config"}
	}

	// Level 1: per-page mode override.
	switch input.Config.PageModeFor(input.Page.UUID) {
	case model.PageModeOff:
		return FilterResult{Blocked: true, BlockReason: "page mode is off"}
	case model.PageModeManual:
		if !input.IsManual {
			return FilterResult{Blocked: true, BlockReason: "page mode is manual"}
		}
	case model.PageModeAuto:
	}

	// Level 2: template opt-out.
	if input.Config.TemplateOptedOut(input.Page.Template) {
		return FilterResult{Blocked: true, BlockReason: "template opted out: " + input.Page.Template}
	}

	// Levels 3-5: walk the candidate set.
	var eligible []string
	for _, name := range input.Candidate {
		if f.fieldEligible(name, input) {
			eligible = append(eligible, name)
		}
	}

	return FilterResult{Eligible: eligible}
}

func (f *FieldFilter) fieldEligible(name string, input FilterInput) bool {
	// Unknown schema type: silently dropped, not an error.
	fieldType := input.Page.FieldTypeOf(name)
	if fieldType == "" {
		f.debug("field dropped: unknown type", name)
		return false
	}

	// Level 4: field-type eligibility.
	rule, ok := input.Config.FieldTypeRuleFor(fieldType)
	if !ok {
		f.debug("field dropped: type not eligible", name)
		return false
	}

	// Level 5: field-name wildcard exclusion.
	for _, pattern := range input.Config.Privacy.OptOutFields {
		if matched, err := path.Match(strings.TrimSpace(pattern), name); err == nil && matched {
			f.debug("field dropped: name opted out", name)
			return false
		}
	}

	// Empty content drops silently.
	if fieldEmpty(input.Current[name], fieldType, rule) {
		f.debug("field dropped: empty content", name)
		return false
	}

	return true
}

func (f *FieldFilter) debug(msg, field string) {
	if f.logger != nil {
		f.logger.Debug(msg, "field", field)
	}
}

// fieldEmpty reports whether a field value carries no translatable content.
// Structured types with a text probe are inspected via JMESPath; otherwise a
// structured value counts as empty when it parses to an empty array/object.
func fieldEmpty(value, fieldType string, rule model.FieldTypeRule) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return true
	}

	if !model.IsStructuredFieldType(fieldType) {
		return false
	}

	if rule.TextProbe != "" {
		if text, ok := probeStructuredText(trimmed, rule.TextProbe); ok {
			return text == ""
		}
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		// Unparseable structured content still goes to the provider.
		return false
	}
	switch v := decoded.(type) {
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	case string:
		return strings.TrimSpace(v) == ""
	case nil:
		return true
	default:
		return false
	}
}

// probeStructuredText evaluates a JMESPath expression against structured
// field JSON and flattens the result into one text blob.
func probeStructuredText(raw, expression string) (string, bool) {
	var document any
	if err := json.Unmarshal([]byte(raw), &document); err != nil {
		return "", false
	}

	result, err := jmespath.Search(expression, document)
	if err != nil {
		return "", false
	}

	var parts []string
	collectStrings(result, &parts)
	return strings.TrimSpace(strings.Join(parts, " ")), true
}

func collectStrings(value any, out *[]string) {
	switch v := value.(type) {
	case string:
		if s := strings.TrimSpace(v); s != "" {
			*out = append(*out, s)
		}
	case []any:
		for _, item := range v {
			collectStrings(item, out)
		}
	case map[string]any:
		for _, item := range v {
			collectStrings(item, out)
		}
	}
}
