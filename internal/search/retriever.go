// Package search provides the lexical, dense, and fused retrievers and the engine that
// dispatches questions to them.
package search

import (
	"context"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
)

// Retriever returns the top passages for a question as rendered text.
type Retriever interface {
	Retrieve(ctx context.Context, question string, topN int) ([]string, error)
}

// ScoredRetriever returns scored passages. Its result size is fixed at construction.
type ScoredRetriever interface {
	RetrieveScored(ctx context.Context, question string) ([]*models.ScoredResult, error)
}

// LexicalRetriever ranks the knowledge-source corpus with a keyword index.
type LexicalRetriever struct {
	index  keyword.KeywordIndex
	corpus *models.Corpus
}

// NewLexicalRetriever creates a retriever over corpus. index must be built from the same corpus.
func NewLexicalRetriever(index keyword.KeywordIndex, corpus *models.Corpus) *LexicalRetriever {
	return &LexicalRetriever{index: index, corpus: corpus}
}

// Retrieve returns the original text of the topN best passages. An empty corpus or a
// question without tokens yields an empty list.
func (r *LexicalRetriever) Retrieve(ctx context.Context, question string, topN int) ([]string, error) {
	ranked, err := r.Ranked(ctx, question, topN)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ranked))
	for i, res := range ranked {
		out[i] = res.Passage.Text
	}
	return out, nil
}

// Ranked returns the topN passages with their keyword scores.
func (r *LexicalRetriever) Ranked(ctx context.Context, question string, topN int) ([]*models.ScoredResult, error) {
	hits, err := r.index.Search(ctx, question, topN)
	if err != nil {
		return nil, err
	}
	out := make([]*models.ScoredResult, 0, len(hits))
	for _, h := range hits {
		if h.Index < 0 || h.Index >= r.corpus.Len() {
			continue
		}
		out = append(out, &models.ScoredResult{Passage: r.corpus.At(h.Index), Score: h.Score, HasScore: true})
	}
	return out, nil
}

// CorpusSize returns the number of passages the retriever ranks.
func (r *LexicalRetriever) CorpusSize() int {
	return r.corpus.Len()
}

func render(results []*models.ScoredResult, topN int) []string {
	if topN >= 0 && topN < len(results) {
		results = results[:topN]
	}
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Passage.Render()
	}
	return out
}
