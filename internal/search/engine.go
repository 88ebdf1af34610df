package search

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// hybridMinDepth is the minimum number of lexical candidates ranked before RRF.
const hybridMinDepth = 10

// Engine dispatches questions to the lexical, dense, or hybrid path.
type Engine struct {
	lexical  *LexicalRetriever
	dense    *FusionRetriever
	defaults models.QueryDefaults
	metrics  *metrics.RetrievalMetrics
	logger   *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithMetrics records every retrieval in m.
func WithMetrics(m *metrics.RetrievalMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithEngineLogger sets a logger for query-level output.
func WithEngineLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine. dense may be nil, in which case dense queries fail with
// ErrDenseUnavailable and hybrid queries use the lexical path alone.
func NewEngine(lexical *LexicalRetriever, dense *FusionRetriever, defaults models.QueryDefaults, opts ...EngineOption) *Engine {
	e := &Engine{
		lexical:  lexical,
		dense:    dense,
		defaults: defaults,
	}
	for _, o := range opts {
		o(e)
	}
	e.logger = utils.OrNop(e.logger)
	return e
}

// Lexical returns the lexical retriever.
func (e *Engine) Lexical() *LexicalRetriever {
	return e.lexical
}

// DenseEnabled reports whether dense collections are loaded.
func (e *Engine) DenseEnabled() bool {
	return e.dense != nil
}

// Retrieve validates query and runs it on the selected path.
func (e *Engine) Retrieve(ctx context.Context, query *models.RetrieveQuery) (*models.RetrieveResponse, error) {
	startTime := time.Now()
	if err := ProcessQuery(query, e.defaults); err != nil {
		return nil, err
	}

	var (
		passages []string
		err      error
	)
	switch query.Mode {
	case models.ModeDense:
		if e.dense == nil {
			err = ErrDenseUnavailable
			break
		}
		passages, err = e.dense.Retrieve(ctx, query.Question, query.TopN)
	case models.ModeHybrid:
		passages, err = e.hybrid(ctx, query.Question, query.TopN)
	default:
		passages, err = e.lexical.Retrieve(ctx, query.Question, query.TopN)
	}

	elapsed := time.Since(startTime)
	status := metrics.StatusOK
	switch {
	case IsNoResults(err):
		status = metrics.StatusNoResults
	case err != nil:
		status = metrics.StatusError
	}
	e.metrics.RecordRetrieval(query.Mode, status, len(passages), elapsed)
	if err != nil {
		e.logger.Debug("retrieval failed", zap.String("mode", query.Mode), zap.Error(err))
		return nil, err
	}
	e.logger.Debug("retrieval complete",
		zap.String("mode", query.Mode), zap.Int("passages", len(passages)), zap.Duration("elapsed", elapsed))

	return &models.RetrieveResponse{
		Question:  query.Question,
		Mode:      query.Mode,
		Passages:  passages,
		Total:     len(passages),
		QueryTime: elapsed.Milliseconds(),
	}, nil
}

// hybrid fuses the lexical and dense rankings with reciprocal rank fusion. A dense side
// with no results degrades to lexical only.
func (e *Engine) hybrid(ctx context.Context, question string, topN int) ([]string, error) {
	depth := topN * 2
	if depth < hybridMinDepth {
		depth = hybridMinDepth
	}
	ranked, err := e.lexical.Ranked(ctx, question, depth)
	if err != nil {
		return nil, err
	}
	// Zero-score passages carry no lexical evidence and would still earn rank credit.
	lexical := ranked[:0]
	for _, r := range ranked {
		if r.Score > 0 {
			lexical = append(lexical, r)
		}
	}
	var dense []*models.ScoredResult
	if e.dense != nil {
		dense, err = e.dense.RetrieveScored(ctx, question)
		var nr *NoResultsError
		switch {
		case errors.As(err, &nr):
			e.logger.Debug("hybrid retrieval falling back to lexical", zap.String("question", question))
		case err != nil:
			return nil, err
		}
	}
	return render(FuseRRF(DefaultRRFK, lexical, dense), topN), nil
}
