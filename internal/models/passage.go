// Package models defines core data structures for passages, queries, and retrieval results.
package models

import "strings"

// Field is one metadata entry. Metadata keeps fields in declared order so rendering is stable.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Metadata is an ordered list of structured fields attached to a passage.
type Metadata []Field

// Get returns the value for key and whether it was present.
func (m Metadata) Get(key string) (string, bool) {
	for _, f := range m {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Map returns the metadata as a map. Order is lost; use the slice for rendering.
func (m Metadata) Map() map[string]string {
	out := make(map[string]string, len(m))
	for _, f := range m {
		out[f.Key] = f.Value
	}
	return out
}

// Passage is an immutable unit of retrievable text.
type Passage struct {
	ID         string   `json:"id" db:"id"`
	Collection string   `json:"collection,omitempty" db:"collection"`
	Text       string   `json:"text" db:"text"`
	Metadata   Metadata `json:"metadata,omitempty" db:"metadata"`
	Source     string   `json:"source,omitempty" db:"source"`
	Index      int      `json:"index" db:"passage_index"`
}

// MetadataSeparator joins rendered metadata fields.
const MetadataSeparator = "\n"

// Render returns the passage text followed by its metadata as "key: value" lines
// in declared order. Passages without metadata render as their text.
func (p *Passage) Render() string {
	if len(p.Metadata) == 0 {
		return p.Text
	}
	var b strings.Builder
	b.WriteString(p.Text)
	for _, f := range p.Metadata {
		b.WriteString(MetadataSeparator)
		b.WriteString(f.Key)
		b.WriteString(": ")
		b.WriteString(f.Value)
	}
	return b.String()
}

// Corpus is the deduplicated, ordered passage set the lexical index is built from.
// Build it with indexer.BuildCorpus; it is not modified afterwards.
type Corpus struct {
	passages []*Passage
}

// NewCorpus wraps passages that are already deduplicated.
func NewCorpus(passages []*Passage) *Corpus {
	return &Corpus{passages: passages}
}

// Len returns the number of passages.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.passages)
}

// At returns the passage at position i in insertion order.
func (c *Corpus) At(i int) *Passage {
	return c.passages[i]
}

// Texts returns passage texts in insertion order.
func (c *Corpus) Texts() []string {
	out := make([]string, c.Len())
	for i := range out {
		out[i] = c.passages[i].Text
	}
	return out
}
