package schema

import (
	"fmt"
	"strings"
)

// CompatibilityMode selects which structural changes count as breaking.
type CompatibilityMode string

const (
	// CompatBackward protects new readers of old data.
	CompatBackward CompatibilityMode = "backward"
	// CompatForward protects old readers of new data.
	CompatForward CompatibilityMode = "forward"
	// CompatFull is the union of backward and forward.
	CompatFull CompatibilityMode = "full"
	// CompatNone disables compatibility checking.
	CompatNone CompatibilityMode = "none"
)

// Valid reports whether the mode is one of the known values.
func (m CompatibilityMode) Valid() bool {
	switch m {
	case CompatBackward, CompatForward, CompatFull, CompatNone:
		return true
	}
	return false
}

// Classification is the verdict of the classifier for one diff and mode.
type Classification struct {
	Compatible      bool           `json:"is_compatible"`
	BreakingChanges []ChangeRecord `json:"breaking_changes"`
}

var backwardBreaking = map[ChangeKind]bool{
	PropertyRemoved: true,
	RequiredAdded:   true,
	TypeChanged:     true,
	EnumNarrowed:    true,
	FormatChanged:   true,
}

var forwardBreaking = map[ChangeKind]bool{
	TypeChanged:   true,
	EnumWidened:   true,
	FormatChanged: true,
}

// Classify filters the diff by the breaking set of the given mode. The
// classifier never re-walks schemas; the diff is the single source of
// structural truth.
func Classify(diff SchemaDiff, mode CompatibilityMode) Classification {
	var breaking []ChangeRecord
	switch mode {
	case CompatBackward:
		breaking = filter(diff.Changes, backwardBreaking, false)
	case CompatForward:
		breaking = filter(diff.Changes, forwardBreaking, true)
	case CompatFull:
		breaking = filter(diff.Changes, union(backwardBreaking, forwardBreaking), true)
	case CompatNone:
		breaking = nil
	}
	return Classification{
		Compatible:      len(breaking) == 0,
		BreakingChanges: breaking,
	}
}

// filter returns the breaking subset of changes. When addedIfRequired is
// set, a property_added counts as breaking only when the same property is
// also newly required (old readers cannot supply it).
func filter(changes []ChangeRecord, breakingKinds map[ChangeKind]bool, addedIfRequired bool) []ChangeRecord {
	newlyRequired := make(map[string]bool)
	if addedIfRequired {
		for _, c := range changes {
			if c.Kind == RequiredAdded {
				newlyRequired[c.Path] = true
			}
		}
	}

	var breaking []ChangeRecord
	for _, c := range changes {
		if breakingKinds[c.Kind] {
			breaking = append(breaking, c)
			continue
		}
		if addedIfRequired && c.Kind == PropertyAdded && newlyRequired[requiredPathFor(c.Path)] {
			breaking = append(breaking, c)
		}
	}
	return breaking
}

// requiredPathFor maps ".../properties/name" onto ".../required/name".
func requiredPathFor(propertyPath string) string {
	idx := strings.LastIndex(propertyPath, "/properties/")
	if idx < 0 {
		return ""
	}
	name := propertyPath[idx+len("/properties/"):]
	if strings.Contains(name, "/") {
		return ""
	}
	return propertyPath[:idx] + "/required/" + name
}

func union(a, b map[ChangeKind]bool) map[ChangeKind]bool {
	out := make(map[ChangeKind]bool, len(a)+len(b))
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

// ModeFor parses a compatibility mode string, defaulting to backward.
func ModeFor(s string) (CompatibilityMode, error) {
	if s == "" {
		return CompatBackward, nil
	}
	mode := CompatibilityMode(s)
	if !mode.Valid() {
		return "", fmt.Errorf("unknown compatibility mode %q", s)
	}
	return mode, nil
}
