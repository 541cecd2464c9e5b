// Package schema implements structural schema documents, the diff engine,
// and the compatibility classifier for contract evolution.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	// MaxDocumentBytes caps the serialized size of a schema document.
	MaxDocumentBytes = 1 << 20
	// MaxTopLevelProperties caps the width of the root properties map.
	MaxTopLevelProperties = 1000
)

var (
	ErrDocumentTooLarge = errors.New("schema document exceeds size limit")
	ErrTooManyFields    = errors.New("schema document exceeds top-level property limit")
	ErrNotAnObject      = errors.New("schema document must be a JSON object")
)

// Document is a JSON-Schema-shaped tree. The diff walker navigates it by
// path; unknown subtrees are compared structurally and otherwise ignored.
type Document map[string]any

// ParseDocument decodes and bounds-checks a raw schema document.
func ParseDocument(raw []byte) (Document, error) {
	if len(raw) > MaxDocumentBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrDocumentTooLarge, len(raw))
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAnObject, err)
	}
	if props := doc.properties(); len(props) > MaxTopLevelProperties {
		return nil, fmt.Errorf("%w: %d properties", ErrTooManyFields, len(props))
	}
	return doc, nil
}

// ValidateShape checks that the document is a structurally valid JSON
// Schema (draft 2020-12). Semantic validation of data against the schema
// is out of scope; this only rejects malformed schema trees.
func (d Document) ValidateShape() error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("contract.json", strings.NewReader(string(raw))); err != nil {
		return fmt.Errorf("invalid schema document: %w", err)
	}
	if _, err := compiler.Compile("contract.json"); err != nil {
		return fmt.Errorf("invalid schema document: %w", err)
	}
	return nil
}

// Canonical returns the RFC 8785 canonical JSON encoding of the document.
func (d Document) Canonical() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(raw)
}

// Hash returns a stable sha256 hex digest of the canonical encoding.
func (d Document) Hash() (string, error) {
	canon, err := d.Canonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// PairHash produces the cache key for a diff of old vs new. Distinct
// pairs hash distinctly; the same pair hashes identically across runs.
func PairHash(old, new Document) (string, error) {
	oldHash, err := old.Hash()
	if err != nil {
		return "", err
	}
	newHash, err := new.Hash()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(oldHash + ":" + newHash))
	return hex.EncodeToString(sum[:]), nil
}

// properties returns the child schema map, or nil.
func (d Document) properties() map[string]any {
	return asObject(d["properties"])
}

// requiredSet returns the required property names as a set.
func (d Document) requiredSet() map[string]bool {
	set := make(map[string]bool)
	list, ok := d["required"].([]any)
	if !ok {
		return set
	}
	for _, v := range list {
		if s, ok := v.(string); ok {
			set[s] = true
		}
	}
	return set
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// normalizedType resolves the "type" keyword to a single type name plus a
// nullability flag. A union like ["string","null"] is string+nullable.
// Unions of two or more non-null types are rendered as a sorted joined
// name so any membership change surfaces as a type change.
func normalizedType(node map[string]any) (string, bool) {
	switch t := node["type"].(type) {
	case string:
		return t, false
	case []any:
		nullable := false
		var names []string
		for _, v := range t {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if s == "null" {
				nullable = true
				continue
			}
			names = append(names, s)
		}
		if len(names) == 1 {
			return names[0], nullable
		}
		sort.Strings(names)
		return strings.Join(names, "|"), nullable
	default:
		return "", false
	}
}

// escapePointer escapes a JSON Pointer reference token (RFC 6901).
func escapePointer(token string) string {
	token = strings.ReplaceAll(token, "~", "~0")
	return strings.ReplaceAll(token, "/", "~1")
}
