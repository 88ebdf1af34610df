package indexer

import (
	"strings"
	"unicode"
)

// lexicalPunctuation is deleted from text before lexical tokenization. Hyphen and equals
// are kept because they join tokens such as course numbers ("11-711").
const lexicalPunctuation = "`~!@#$%^&*()_+[]\\;',./{}|:\"<>?"

// Preprocess normalizes text for indexing (trim, collapse whitespace).
func Preprocess(text string) string {
	text = strings.TrimSpace(text)
	var b strings.Builder
	wasSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !wasSpace {
				b.WriteRune(' ')
				wasSpace = true
			}
		} else {
			b.WriteRune(r)
			wasSpace = false
		}
	}
	return b.String()
}

// NormalizeForLexical lowercases text and deletes every rune of the lexical punctuation
// set in a single pass. It is idempotent.
func NormalizeForLexical(text string) string {
	lower := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		if r < unicode.MaxASCII && strings.ContainsRune(lexicalPunctuation, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tokenize returns the lexical tokens of text: normalized, then split on whitespace.
func Tokenize(text string) []string {
	return strings.Fields(NormalizeForLexical(text))
}

// TokenizeQueryLegacy lowercases and splits on whitespace without stripping punctuation.
// Kept for parity with indices whose queries were tokenized this way.
func TokenizeQueryLegacy(text string) []string {
	return strings.Fields(strings.ToLower(text))
}
