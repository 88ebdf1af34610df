// Package keyword provides lexical indexes over the passage corpus.
package keyword

import (
	"context"

	"github.com/hyperjump/kotae/internal/indexer"
)

// Backend names accepted in configuration.
const (
	BackendBM25  = "bm25"
	BackendBleve = "bleve"
)

// KeywordIndex ranks corpus passages for a free-text query.
type KeywordIndex interface {
	// Search returns up to limit hits ordered by score descending, ties by corpus order.
	// An empty corpus or a query without tokens yields no hits and no error.
	Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error)
	DocCount() (uint64, error)
	Close() error
}

// KeywordResult is a single keyword search hit. Index is the passage position in the corpus.
type KeywordResult struct {
	ID    string
	Index int
	Score float64
}

// QueryTokenizer splits a query into lexical tokens.
type QueryTokenizer func(string) []string

// QueryTokenizerFor returns the corpus tokenizer, or the legacy lowercase-and-split
// tokenizer that keeps punctuation on the query side.
func QueryTokenizerFor(legacy bool) QueryTokenizer {
	if legacy {
		return indexer.TokenizeQueryLegacy
	}
	return indexer.Tokenize
}
