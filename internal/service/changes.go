package service

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/kirbydesk/simplify-engine/internal/domain/model"
)

// fullStrategyThreshold is the change share above which a surgical diff is
// less efficient than one full pass.
const fullStrategyThreshold = 50

// ChangeResult is the outcome of comparing current content against a snapshot.
type ChangeResult struct {
	Strategy         model.Strategy
	Fields           []string
	ChangePercentage int
}

// ChangeDetector decides between full and incremental translation by
// comparing current field values against the snapshot captured at enqueue time.
type ChangeDetector struct{}

// NewChangeDetector constructs a ChangeDetector.
func NewChangeDetector() *ChangeDetector {
	return &ChangeDetector{}
}

// CreateSnapshot captures the current field values. The returned map is a
// copy; later content mutations do not affect it.
func (d *ChangeDetector) CreateSnapshot(fields model.FieldMap) model.FieldMap {
	if fields == nil {
		return model.FieldMap{}
	}
	return fields.Clone()
}

// DetectChanges compares current fields against the snapshot. A field counts
// as changed when its values differ; structured field types are compared on
// their canonical JSON form first, so reformatted-but-identical documents are
// not flagged. An empty snapshot or a change share above the threshold yields
// the full strategy with all current fields.
func (d *ChangeDetector) DetectChanges(current, snapshot model.FieldMap, fieldTypes map[string]string) ChangeResult {
	if len(snapshot) == 0 {
		return ChangeResult{
			Strategy:         model.StrategyFull,
			Fields:           sortedKeys(current),
			ChangePercentage: 100,
		}
	}

	union := map[string]bool{}
	for name := range current {
		union[name] = true
	}
	for name := range snapshot {
		union[name] = true
	}

	var changed []string
	for name := range union {
		if fieldChanged(current[name], snapshot[name], fieldTypes[name]) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)

	percentage := 0
	if len(union) > 0 {
		percentage = len(changed) * 100 / len(union)
	}

	if percentage > fullStrategyThreshold {
		return ChangeResult{
			Strategy:         model.StrategyFull,
			Fields:           sortedKeys(current),
			ChangePercentage: percentage,
		}
	}

	return ChangeResult{
		Strategy:         model.StrategyDiff,
		Fields:           changed,
		ChangePercentage: percentage,
	}
}

// fieldChanged reports whether a field value differs from its snapshot.
func fieldChanged(currentValue, snapshotValue, fieldType string) bool {
	if currentValue == snapshotValue {
		return false
	}
	if model.IsStructuredFieldType(fieldType) {
		return !jsonEquivalent(currentValue, snapshotValue)
	}
	return true
}

// jsonEquivalent reports whether two strings encode the same JSON document.
// Non-JSON input falls back to strict inequality (returns false).
func jsonEquivalent(a, b string) bool {
	canonicalA, okA := canonicalJSON(a)
	canonicalB, okB := canonicalJSON(b)
	if !okA || !okB {
		return false
	}
	return bytes.Equal(canonicalA, canonicalB)
}

func canonicalJSON(s string) ([]byte, bool) {
	var value any
	if err := json.Unmarshal([]byte(s), &value); err != nil {
		return nil, false
	}
	// encoding/json sorts map keys, so re-marshalling gives a canonical form.
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, false
	}
	return encoded, true
}

func sortedKeys(m model.FieldMap) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
