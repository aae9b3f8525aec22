package service

import (
	"regexp"
	"strings"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// FieldBatch is one grouped provider call: same-type fields translated
// together in a single completion.
type FieldBatch struct {
	Type   string
	Fields []string
}

// BatchFieldsByType groups field names by their schema type and splits each
// group at batchSize. Fields with an unknown type are skipped; batch order
// follows first appearance of each type, field order within a batch follows
// the input.
func BatchFieldsByType(page *model.Page, fields []string, batchSize int) []FieldBatch {
	byType := map[string][]string{}
	var typeOrder []string
	for _, name := range fields {
		ft := page.FieldTypeOf(name)
		if ft == "" {
			continue
		}
		if _, seen := byType[ft]; !seen {
			typeOrder = append(typeOrder, ft)
		}
		byType[ft] = append(byType[ft], name)
	}

	var batches []FieldBatch
	for _, ft := range typeOrder {
		group := byType[ft]
		for len(group) > batchSize {
			batches = append(batches, FieldBatch{Type: ft, Fields: group[:batchSize]})
			group = group[batchSize:]
		}
		batches = append(batches, FieldBatch{Type: ft, Fields: group})
	}
	return batches
}

// groupedEntryPattern matches one "Field: name\nContent:" header in a
// grouped completion. The content runs from the header to the next header.
var groupedEntryPattern = regexp.MustCompile(`Field:[ \t]*(\S+)[ \t]*\nContent:[ \t]*`)

var blankLinePattern = regexp.MustCompile(`\n{2,}`)

// ParseGroupedResponse splits a grouped completion back into per-field
// texts. It first extracts the structured Field:/Content: entries; when the
// model ignored the structure entirely, it falls back to splitting on blank
// lines and assigning the pieces to the expected fields in order, so output
// is never silently dropped. Fields with no matching piece come back empty.
func ParseGroupedResponse(response string, expected []string) model.FieldMap {
	fields := model.FieldMap{}

	locs := groupedEntryPattern.FindAllStringSubmatchIndex(response, -1)
	for i, loc := range locs {
		name := response[loc[2]:loc[3]]
		end := len(response)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		fields[name] = strings.TrimSpace(response[loc[1]:end])
	}
	if len(fields) > 0 {
		return fields
	}

	var parts []string
	for _, p := range blankLinePattern.Split(strings.TrimSpace(response), -1) {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	for i, name := range expected {
		if i < len(parts) {
			fields[name] = parts[i]
		} else {
			fields[name] = ""
		}
	}
	return fields
}
