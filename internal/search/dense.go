package search

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// MaxSimilarityTopK bounds the number of neighbours one collection returns per question.
const MaxSimilarityTopK = 10

// DenseRetriever answers nearest-neighbour queries against one pre-built collection.
type DenseRetriever struct {
	name     string
	index    vector.VectorIndex
	store    storage.Storage
	embedder embedding.Embedder
	topK     int
	intent   IntentExtractor
	logger   *zap.Logger
}

// DenseOption configures a DenseRetriever.
type DenseOption func(*DenseRetriever)

// WithIntentExtractor replaces the default course-number extractor.
func WithIntentExtractor(e IntentExtractor) DenseOption {
	return func(r *DenseRetriever) { r.intent = e }
}

// WithDenseLogger sets a logger for per-query debug output.
func WithDenseLogger(l *zap.Logger) DenseOption {
	return func(r *DenseRetriever) { r.logger = l }
}

// NewDenseRetriever creates a retriever for collection name. similarityTopK must be in
// 1..MaxSimilarityTopK.
func NewDenseRetriever(
	name string,
	index vector.VectorIndex,
	store storage.Storage,
	embedder embedding.Embedder,
	similarityTopK int,
	opts ...DenseOption,
) (*DenseRetriever, error) {
	if similarityTopK < 1 || similarityTopK > MaxSimilarityTopK {
		return nil, &ConfigurationError{
			Field:  "similarity_top_k",
			Value:  similarityTopK,
			Reason: fmt.Sprintf("must be between 1 and %d", MaxSimilarityTopK),
		}
	}
	r := &DenseRetriever{
		name:     name,
		index:    index,
		store:    store,
		embedder: embedder,
		topK:     similarityTopK,
		intent:   CourseNumberExtractor{},
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = utils.OrNop(r.logger)
	return r, nil
}

// Name returns the collection name.
func (r *DenseRetriever) Name() string {
	return r.name
}

// RetrieveScored embeds question, queries the collection with the extracted filter, and
// hydrates hits from the passage store in rank order.
func (r *DenseRetriever) RetrieveScored(ctx context.Context, question string) ([]*models.ScoredResult, error) {
	queryVec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	filter := r.intent.Extract(question)
	hits, err := r.index.Search(ctx, queryVec, r.topK, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search failed in %s: %w", r.name, err)
	}
	if len(hits) == 0 {
		r.logger.Debug("dense collection returned no hits", zap.String("collection", r.name), zap.Any("filter", filter))
		return []*models.ScoredResult{}, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	passages, err := r.store.GetPassages(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load passages: %w", err)
	}
	byID := make(map[string]*models.Passage, len(passages))
	for _, p := range passages {
		byID[p.ID] = p
	}
	out := make([]*models.ScoredResult, 0, len(hits))
	for _, h := range hits {
		p, ok := byID[h.ID]
		if !ok {
			r.logger.Warn("vector hit without stored passage", zap.String("collection", r.name), zap.String("id", h.ID))
			continue
		}
		out = append(out, &models.ScoredResult{Passage: p, Score: h.Score, HasScore: h.HasScore})
	}
	return out, nil
}

// Retrieve returns up to topN rendered passages from this collection alone.
func (r *DenseRetriever) Retrieve(ctx context.Context, question string, topN int) ([]string, error) {
	results, err := r.RetrieveScored(ctx, question)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &NoResultsError{Question: question}
	}
	return render(results, topN), nil
}
