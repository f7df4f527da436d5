// Package identity derives content-addressed document ids.
package identity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// IDLength is the length of a hex encoded SHA-256 digest.
const IDLength = sha256.Size * 2

// Canonical encodes sections as compact JSON with section names normalized,
// object keys in sorted order and surrounding whitespace trimmed from every
// string value.
func Canonical(sections map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalize(NormalizeSections(sections))); err != nil {
		return nil, fmt.Errorf("canonical encoding: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Identify returns the hex SHA-256 of the canonical encoding. Inputs that
// differ only in key order, padding or section name case get the same id.
func Identify(sections map[string]any) (string, error) {
	b, err := Canonical(sections)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// SectionKey is the normalized form of a section name.
func SectionKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// NormalizeSections renames every section to its SectionKey. Sections whose
// names collide are merged into one list, items taken in raw name order.
// Sections with a blank name are dropped.
func NormalizeSections(sections map[string]any) map[string]any {
	raws := make([]string, 0, len(sections))
	for raw := range sections {
		raws = append(raws, raw)
	}
	sort.Strings(raws)

	out := make(map[string]any, len(raws))
	for _, raw := range raws {
		key := SectionKey(raw)
		if key == "" {
			continue
		}
		prev, dup := out[key]
		if !dup {
			out[key] = sections[raw]
			continue
		}
		out[key] = append(listItems(prev), listItems(sections[raw])...)
	}
	return out
}

// listItems returns a fresh slice of the items of a section value; a scalar
// or object counts as a single item.
func listItems(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return append([]any(nil), t...)
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}

// Valid reports whether id has the shape of an id produced by Identify.
func Valid(id string) bool {
	if len(id) != IDLength {
		return false
	}
	for _, c := range id {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// normalize walks decoded JSON; map key ordering is left to encoding/json,
// which always emits keys sorted.
func normalize(v any) any {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = strings.TrimSpace(val)
		}
		return out
	default:
		return v
	}
}
