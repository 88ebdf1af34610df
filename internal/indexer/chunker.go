// Package indexer provides chunking, lexical normalization, corpus building, and
// dense collection indexing.
package indexer

import (
	"strings"

	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
)

// DefaultBoundaryMarker separates logical passages in knowledge-source files.
const DefaultBoundaryMarker = "<sep>"

// Chunk splits text on every literal occurrence of marker, then splits each segment into
// consecutive groups of at most maxLen whitespace-delimited words. Words in a group are
// joined by single spaces. The last group of a segment is kept even when shorter than
// maxLen. Empty segments produce nothing. maxLen <= 0 disables length splitting and an
// empty marker disables boundary splitting.
func Chunk(text string, maxLen int, marker string) []string {
	segments := []string{text}
	if marker != "" {
		segments = strings.Split(text, marker)
	}
	var out []string
	for _, seg := range segments {
		out = append(out, splitWords(strings.Fields(seg), maxLen)...)
	}
	return out
}

func splitWords(words []string, maxLen int) []string {
	if len(words) == 0 {
		return nil
	}
	if maxLen <= 0 || len(words) <= maxLen {
		return []string{strings.Join(words, " ")}
	}
	out := make([]string, 0, (len(words)+maxLen-1)/maxLen)
	for i := 0; i < len(words); i += maxLen {
		end := i + maxLen
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[i:end], " "))
	}
	return out
}

// Chunker turns source documents into passages using a boundary marker and a word limit.
type Chunker struct {
	maxLen   int
	minWords int
	marker   string
}

// NewChunker creates a chunker. Segments and length-split groups with fewer than minWords
// words are dropped; minWords <= 1 keeps every non-empty group.
func NewChunker(maxLen, minWords int, marker string) *Chunker {
	return &Chunker{
		maxLen:   maxLen,
		minWords: minWords,
		marker:   marker,
	}
}

// Chunk splits text into passages belonging to collection, with IDs derived from source.
func (c *Chunker) Chunk(collection, source, text string) []*models.Passage {
	segments := []string{text}
	if c.marker != "" {
		segments = strings.Split(text, c.marker)
	}
	var passages []*models.Passage
	for _, seg := range segments {
		words := strings.Fields(seg)
		if len(words) == 0 || len(words) < c.minWords {
			continue
		}
		for _, part := range splitWords(words, c.maxLen) {
			if strings.Count(part, " ")+1 < c.minWords {
				continue
			}
			index := len(passages)
			passages = append(passages, &models.Passage{
				ID:         fileid.PassageID(collection, source, index),
				Collection: collection,
				Text:       part,
				Source:     source,
				Index:      index,
			})
		}
	}
	return passages
}
