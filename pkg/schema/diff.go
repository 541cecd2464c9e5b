package schema

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tesserahq/tessera/pkg/versioning"
)

// ChangeKind is the closed set of structural change categories.
type ChangeKind string

const (
	PropertyAdded       ChangeKind = "property_added"
	PropertyRemoved     ChangeKind = "property_removed"
	RequiredAdded       ChangeKind = "required_added"
	RequiredRemoved     ChangeKind = "required_removed"
	TypeChanged         ChangeKind = "type_changed"
	EnumNarrowed        ChangeKind = "enum_narrowed"
	EnumWidened         ChangeKind = "enum_widened"
	FormatChanged       ChangeKind = "format_changed"
	ItemsChanged        ChangeKind = "items_changed"
	NestedObjectChanged ChangeKind = "nested_object_changed"
)

// Dual returns the kind produced at the same path when the diff operands
// are swapped.
func (k ChangeKind) Dual() ChangeKind {
	switch k {
	case PropertyAdded:
		return PropertyRemoved
	case PropertyRemoved:
		return PropertyAdded
	case RequiredAdded:
		return RequiredRemoved
	case RequiredRemoved:
		return RequiredAdded
	case EnumNarrowed:
		return EnumWidened
	case EnumWidened:
		return EnumNarrowed
	default:
		// type_changed, format_changed, items_changed and
		// nested_object_changed are self-dual.
		return k
	}
}

// ChangeRecord is a single structural difference at a JSON Pointer path.
type ChangeRecord struct {
	Kind    ChangeKind `json:"kind"`
	Path    string     `json:"path"`
	Old     any        `json:"old,omitempty"`
	New     any        `json:"new,omitempty"`
	Message string     `json:"message,omitempty"`
}

// SchemaDiff is the ordered result of comparing two schema documents.
type SchemaDiff struct {
	Changes    []ChangeRecord        `json:"changes"`
	ChangeType versioning.ChangeType `json:"change_type"`
}

// Empty reports whether the documents were structurally identical.
func (d SchemaDiff) Empty() bool {
	return len(d.Changes) == 0
}

// Diff computes the structural difference between old and new. The walk
// is depth-first and alphabetical at each level, so output order is
// deterministic for any pair of inputs.
func Diff(old, new Document) SchemaDiff {
	changes := diffObject("", map[string]any(old), map[string]any(new))
	return SchemaDiff{
		Changes:    changes,
		ChangeType: deriveChangeType(changes),
	}
}

// deriveChangeType maps the change set onto a semver bump.
func deriveChangeType(changes []ChangeRecord) versioning.ChangeType {
	minor := false
	for _, c := range changes {
		switch c.Kind {
		case PropertyRemoved, RequiredAdded, TypeChanged, EnumNarrowed, FormatChanged:
			return versioning.ChangeMajor
		case PropertyAdded, EnumWidened:
			minor = true
		}
	}
	if minor {
		return versioning.ChangeMinor
	}
	return versioning.ChangePatch
}

// diffObject compares two object schema nodes: the symmetric difference
// of property names, recursion into common properties, then the required
// lists. path is the pointer prefix of the node itself.
func diffObject(path string, old, new map[string]any) []ChangeRecord {
	var changes []ChangeRecord

	oldProps := asObject(old["properties"])
	newProps := asObject(new["properties"])

	for _, name := range sortedUnion(oldProps, newProps) {
		propPath := path + "/properties/" + escapePointer(name)
		oldProp, inOld := oldProps[name]
		newProp, inNew := newProps[name]
		switch {
		case inNew && !inOld:
			changes = append(changes, ChangeRecord{
				Kind:    PropertyAdded,
				Path:    propPath,
				New:     newProp,
				Message: fmt.Sprintf("property %q added", name),
			})
		case inOld && !inNew:
			changes = append(changes, ChangeRecord{
				Kind:    PropertyRemoved,
				Path:    propPath,
				Old:     oldProp,
				Message: fmt.Sprintf("property %q removed", name),
			})
		default:
			changes = append(changes, diffProperty(propPath, asObject(oldProp), asObject(newProp))...)
		}
	}

	oldReq := Document(old).requiredSet()
	newReq := Document(new).requiredSet()
	for _, name := range sortedKeyUnion(oldReq, newReq) {
		reqPath := path + "/required/" + escapePointer(name)
		switch {
		case newReq[name] && !oldReq[name]:
			changes = append(changes, ChangeRecord{
				Kind:    RequiredAdded,
				Path:    reqPath,
				New:     name,
				Message: fmt.Sprintf("property %q is now required", name),
			})
		case oldReq[name] && !newReq[name]:
			changes = append(changes, ChangeRecord{
				Kind:    RequiredRemoved,
				Path:    reqPath,
				Old:     name,
				Message: fmt.Sprintf("property %q is no longer required", name),
			})
		}
	}

	return changes
}

// diffProperty compares a property schema present on both sides.
func diffProperty(path string, old, new map[string]any) []ChangeRecord {
	var changes []ChangeRecord

	oldType, oldNullable := normalizedType(old)
	newType, newNullable := normalizedType(new)
	if oldType != newType || oldNullable != newNullable {
		changes = append(changes, ChangeRecord{
			Kind:    TypeChanged,
			Path:    path,
			Old:     renderType(oldType, oldNullable),
			New:     renderType(newType, newNullable),
			Message: fmt.Sprintf("type changed from %s to %s", renderType(oldType, oldNullable), renderType(newType, newNullable)),
		})
		// Types diverged; deeper comparison of the subtree is meaningless.
		return changes
	}

	changes = append(changes, diffEnum(path, old, new)...)
	changes = append(changes, diffFormat(path, old, new)...)

	if oldType == "object" || (asObject(old["properties"]) != nil && asObject(new["properties"]) != nil) {
		if nested := diffObject(path, old, new); len(nested) > 0 {
			changes = append(changes, ChangeRecord{
				Kind:    NestedObjectChanged,
				Path:    path,
				Message: "nested object changed",
			})
			changes = append(changes, nested...)
		}
	}

	if oldItems, newItems := asObject(old["items"]), asObject(new["items"]); oldItems != nil && newItems != nil {
		if nested := diffProperty(path+"/items", oldItems, newItems); len(nested) > 0 {
			changes = append(changes, ChangeRecord{
				Kind:    ItemsChanged,
				Path:    path,
				Message: "array items changed",
			})
			changes = append(changes, nested...)
		}
	}

	return changes
}

// diffEnum compares enum value sets. Values removed narrow the enum,
// values added widen it; a replacement surfaces as both.
func diffEnum(path string, old, new map[string]any) []ChangeRecord {
	oldEnum := enumSet(old["enum"])
	newEnum := enumSet(new["enum"])
	if oldEnum == nil || newEnum == nil {
		return nil
	}

	var removed, added []string
	for _, v := range sortedKeys(oldEnum) {
		if !newEnum[v] {
			removed = append(removed, v)
		}
	}
	for _, v := range sortedKeys(newEnum) {
		if !oldEnum[v] {
			added = append(added, v)
		}
	}

	var changes []ChangeRecord
	if len(removed) > 0 {
		changes = append(changes, ChangeRecord{
			Kind:    EnumNarrowed,
			Path:    path + "/enum",
			Old:     removed,
			Message: fmt.Sprintf("enum values removed: %v", removed),
		})
	}
	if len(added) > 0 {
		changes = append(changes, ChangeRecord{
			Kind:    EnumWidened,
			Path:    path + "/enum",
			New:     added,
			Message: fmt.Sprintf("enum values added: %v", added),
		})
	}
	return changes
}

func diffFormat(path string, old, new map[string]any) []ChangeRecord {
	oldFormat, _ := old["format"].(string)
	newFormat, _ := new["format"].(string)
	if oldFormat == newFormat {
		return nil
	}
	return []ChangeRecord{{
		Kind:    FormatChanged,
		Path:    path + "/format",
		Old:     oldFormat,
		New:     newFormat,
		Message: fmt.Sprintf("format changed from %q to %q", oldFormat, newFormat),
	}}
}

// enumSet renders enum members as canonical JSON strings so non-string
// members compare by value. Returns nil when the keyword is absent.
func enumSet(v any) map[string]bool {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	set := make(map[string]bool, len(list))
	for _, member := range list {
		if s, ok := member.(string); ok {
			set[s] = true
			continue
		}
		raw, err := json.Marshal(member)
		if err != nil {
			continue
		}
		set[string(raw)] = true
	}
	return set
}

func renderType(name string, nullable bool) string {
	if name == "" {
		name = "(none)"
	}
	if nullable {
		return name + "?"
	}
	return name
}

func sortedUnion(a, b map[string]any) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for k := range a {
		seen[k] = true
	}
	for k := range b {
		seen[k] = true
	}
	return sortedKeys(seen)
}

func sortedKeyUnion(a, b map[string]bool) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for k := range a {
		seen[k] = true
	}
	for k := range b {
		seen[k] = true
	}
	return sortedKeys(seen)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
