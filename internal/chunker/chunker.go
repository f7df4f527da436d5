// Package chunker splits a structured CV into section-aware chunks with
// stable identifiers.
package chunker

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tailorcv/backend/internal/identity"
	"tailorcv/backend/internal/vector"
)

type Chunk struct {
	ID          string
	DocID       string
	SectionType string
	Ordinal     int
	Text        string
}

func (c Chunk) Metadata() map[string]string {
	return map[string]string{
		vector.MetaDocID:   c.DocID,
		vector.MetaSection: c.SectionType,
		vector.MetaText:    c.Text,
		vector.MetaOrdinal: strconv.Itoa(c.Ordinal),
	}
}

// ChunkID is the persisted key of a chunk: "{doc_id}_{section_type}_{ordinal}".
func ChunkID(docID, section string, ordinal int) string {
	return fmt.Sprintf("%s_%s_%d", docID, section, ordinal)
}

type Chunker struct {
	policy Policy
}

func New(policy Policy) *Chunker {
	if policy.Sections == nil {
		policy = DefaultPolicy()
	}
	return &Chunker{policy: policy}
}

// Chunk is pure: the same sections always yield the same chunks in the same
// order. Section names are normalized and colliding sections merged before
// chunking; sections are visited in name order and blank sections and items
// are skipped, so no chunk has empty text.
func (c *Chunker) Chunk(docID string, sections map[string]any) []Chunk {
	byName := identity.NormalizeSections(sections)
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	var chunks []Chunk
	for _, name := range names {
		rule := c.policy.rule(name)
		payload := byName[name]

		items, isList := payload.([]any)
		if !isList {
			if strs, ok := payload.([]string); ok {
				items, isList = toAny(strs), true
			}
		}

		if rule.Strategy == PerItem && isList {
			for i, item := range items {
				text := renderItem(item)
				if text == "" {
					continue
				}
				chunks = append(chunks, newChunk(docID, name, i, text))
			}
			continue
		}

		var text string
		if isList {
			parts := make([]string, 0, len(items))
			for _, item := range items {
				if s := renderItem(item); s != "" {
					parts = append(parts, s)
				}
			}
			text = strings.Join(parts, rule.Separator)
		} else {
			text = renderItem(payload)
		}
		if text == "" {
			continue
		}
		chunks = append(chunks, newChunk(docID, name, 0, text))
	}
	return chunks
}

func newChunk(docID, section string, ordinal int, text string) Chunk {
	return Chunk{
		ID:          ChunkID(docID, section, ordinal),
		DocID:       docID,
		SectionType: section,
		Ordinal:     ordinal,
		Text:        text,
	}
}

// renderItem turns one decoded JSON value into text. Objects become
// "key: value" lines in key order.
func renderItem(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		lines := make([]string, 0, len(keys))
		for _, k := range keys {
			val := renderInline(t[k])
			if val == "" {
				continue
			}
			lines = append(lines, k+": "+val)
		}
		return strings.Join(lines, "\n")
	default:
		return renderInline(v)
	}
}

func renderInline(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := renderInline(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "; ")
	case []string:
		return renderInline(toAny(t))
	case map[string]any:
		return strings.ReplaceAll(renderItem(t), "\n", ", ")
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func toAny(strs []string) []any {
	out := make([]any, len(strs))
	for i, s := range strs {
		out[i] = s
	}
	return out
}
