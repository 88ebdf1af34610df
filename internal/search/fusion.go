package search

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// MaxFusionTopN bounds the number of passages a FusionRetriever may be asked for.
const MaxFusionTopN = 10

// Score normalization modes applied per sub-retriever before merging.
const (
	NormalizationNone   = "none"
	NormalizationZScore = "zscore"
)

// FusionRetriever queries several scored retrievers and merges their results by score.
type FusionRetriever struct {
	maxTopN       int
	retrievers    []ScoredRetriever
	normalization string
	logger        *zap.Logger
}

// FusionOption configures a FusionRetriever.
type FusionOption func(*FusionRetriever)

// WithScoreNormalization selects per-retriever score normalization ("none" or "zscore").
func WithScoreNormalization(mode string) FusionOption {
	return func(f *FusionRetriever) { f.normalization = mode }
}

// WithFusionLogger sets a logger for fusion debug output.
func WithFusionLogger(l *zap.Logger) FusionOption {
	return func(f *FusionRetriever) { f.logger = l }
}

// NewFusionRetriever creates a fusion over retrievers in registration order. maxTopN must be
// in 1..MaxFusionTopN and at least one retriever is required.
func NewFusionRetriever(maxTopN int, retrievers []ScoredRetriever, opts ...FusionOption) (*FusionRetriever, error) {
	if maxTopN < 1 || maxTopN > MaxFusionTopN {
		return nil, &ConfigurationError{
			Field:  "max_top_n",
			Value:  maxTopN,
			Reason: fmt.Sprintf("must be between 1 and %d", MaxFusionTopN),
		}
	}
	if len(retrievers) == 0 {
		return nil, &ConfigurationError{Field: "retrievers", Value: 0, Reason: "at least one sub-retriever is required"}
	}
	f := &FusionRetriever{
		maxTopN:       maxTopN,
		retrievers:    append([]ScoredRetriever(nil), retrievers...),
		normalization: NormalizationNone,
	}
	for _, o := range opts {
		o(f)
	}
	switch f.normalization {
	case "", NormalizationNone:
		f.normalization = NormalizationNone
	case NormalizationZScore:
	default:
		return nil, &ConfigurationError{Field: "score_normalization", Value: f.normalization, Reason: "supported: none, zscore"}
	}
	f.logger = utils.OrNop(f.logger)
	return f, nil
}

// MaxTopN returns the configured maximum.
func (f *FusionRetriever) MaxTopN() int {
	return f.maxTopN
}

// RetrieveScored queries every sub-retriever concurrently and returns the merged pool sorted
// by score descending. Unscored results sort last; ties keep registration order, then rank.
// An empty pool is a *NoResultsError.
func (f *FusionRetriever) RetrieveScored(ctx context.Context, question string) ([]*models.ScoredResult, error) {
	slots := make([][]*models.ScoredResult, len(f.retrievers))
	errs := make([]error, len(f.retrievers))
	var wg sync.WaitGroup
	for i, r := range f.retrievers {
		wg.Add(1)
		go func(i int, r ScoredRetriever) {
			defer wg.Done()
			slots[i], errs[i] = r.RetrieveScored(ctx, question)
		}(i, r)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var pool []*models.ScoredResult
	for i, results := range slots {
		if f.normalization == NormalizationZScore {
			results = zscore(results)
		}
		f.logger.Debug("fusion sub-retriever results", zap.Int("retriever", i), zap.Int("results", len(results)))
		pool = append(pool, results...)
	}
	if len(pool) == 0 {
		return nil, &NoResultsError{Question: question}
	}
	sortScored(pool)
	return pool, nil
}

// Retrieve returns the topN best rendered passages across all sub-retrievers.
// topN <= 0 means MaxTopN.
func (f *FusionRetriever) Retrieve(ctx context.Context, question string, topN int) ([]string, error) {
	pool, err := f.RetrieveScored(ctx, question)
	if err != nil {
		return nil, err
	}
	if topN <= 0 {
		topN = f.maxTopN
	}
	return render(pool, topN), nil
}

// sortScored orders results by score descending with unscored results last. The sort is
// stable so equal scores keep their input order.
func sortScored(results []*models.ScoredResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.HasScore != b.HasScore {
			return a.HasScore
		}
		return a.Score > b.Score
	})
}

// zscore returns copies of results with scored entries standardized to zero mean and unit
// variance. A constant score list maps to zero.
func zscore(results []*models.ScoredResult) []*models.ScoredResult {
	var scores []float64
	for _, r := range results {
		if r.HasScore {
			scores = append(scores, r.Score)
		}
	}
	if len(scores) == 0 {
		return results
	}
	mean, std := utils.MeanStdDev(scores)
	out := make([]*models.ScoredResult, len(results))
	for i, r := range results {
		c := *r
		if c.HasScore {
			if std > 0 {
				c.Score = (c.Score - mean) / std
			} else {
				c.Score = 0
			}
		}
		out[i] = &c
	}
	return out
}

// DefaultRRFK is the reciprocal-rank-fusion constant.
const DefaultRRFK = 60

// FuseRRF merges ranked lists by reciprocal rank, keyed by passage text. Each list
// contributes 1/(k+rank) per passage with rank starting at 1. The first occurrence of a
// passage is the one returned; ties keep first appearance.
func FuseRRF(k int, lists ...[]*models.ScoredResult) []*models.ScoredResult {
	if k <= 0 {
		k = DefaultRRFK
	}
	index := make(map[string]int)
	var out []*models.ScoredResult
	for _, list := range lists {
		for rank, r := range list {
			key := r.Passage.Text
			pos, ok := index[key]
			if !ok {
				pos = len(out)
				index[key] = pos
				out = append(out, &models.ScoredResult{Passage: r.Passage, HasScore: true})
			}
			out[pos].Score += 1.0 / float64(k+rank+1)
		}
	}
	sortScored(out)
	return out
}
