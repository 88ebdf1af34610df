package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

// Components holds initialized services.
type Components struct {
	Storage       storage.Storage
	Embedder      embedding.Embedder
	VectorIndexes []vector.VectorIndex
	KeywordIndex  keyword.KeywordIndex
	Engine        *search.Engine
	Metrics       *metrics.RetrievalMetrics
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	for _, vi := range c.VectorIndexes {
		_ = vi.Close()
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
}

// initializeComponents loads the knowledge source, builds the lexical index, and opens every
// dense collection that has been built. The dense path is disabled when none is available.
func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	ctx := context.Background()
	c := &Components{Metrics: metrics.NewRetrievalMetrics()}

	corpus, err := loadCorpus(cfg, logger)
	if err != nil {
		return nil, err
	}
	c.KeywordIndex, err = newKeywordIndex(ctx, cfg, corpus, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}
	logger.Info("lexical index initialized",
		zap.String("backend", cfg.Lexical.Backend), zap.Int("passages", corpus.Len()))

	fusion, err := c.openDense(ctx, cfg, logger)
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Engine = search.NewEngine(
		search.NewLexicalRetriever(c.KeywordIndex, corpus),
		fusion,
		models.QueryDefaults{
			TopN:    cfg.Retrieval.DefaultTopN,
			MaxTopN: cfg.Retrieval.MaxTopN,
			Mode:    cfg.Retrieval.DefaultMode,
		},
		search.WithMetrics(c.Metrics),
		search.WithEngineLogger(logger),
	)
	return c, nil
}

func loadCorpus(cfg *config.Config, logger *zap.Logger) (*models.Corpus, error) {
	passages, err := indexer.LoadKnowledgeSource(cfg.Lexical.KnowledgeDir, cfg.Ingest.Marker)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("knowledge source missing, lexical corpus is empty (run kotae ingest)",
				zap.String("dir", cfg.Lexical.KnowledgeDir))
			return models.NewCorpus(nil), nil
		}
		return nil, err
	}
	return indexer.BuildCorpus(passages), nil
}

func newKeywordIndex(ctx context.Context, cfg *config.Config, corpus *models.Corpus, logger *zap.Logger) (keyword.KeywordIndex, error) {
	switch cfg.Lexical.Backend {
	case keyword.BackendBM25, "":
		return keyword.NewBM25Index(corpus, keyword.BM25Options{
			K1:                      cfg.Lexical.K1,
			B:                       cfg.Lexical.B,
			IDF:                     keyword.IDFVariant(cfg.Lexical.IDF),
			LegacyQueryTokenization: cfg.Lexical.LegacyQueryTokenization,
		}), nil
	case keyword.BackendBleve:
		return keyword.NewBleveIndex(ctx, cfg.Storage.BleveIndexPath, corpus,
			keyword.WithBleveLogger(logger),
			keyword.WithLegacyQueryTokenization(cfg.Lexical.LegacyQueryTokenization))
	default:
		return nil, &search.ConfigurationError{Field: "lexical.backend", Value: cfg.Lexical.Backend, Reason: "supported: bm25, bleve"}
	}
}

// newEmbedder creates the configured embedder wrapped in the query cache. A local model that
// fails to load falls back to the mock embedder.
func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	var (
		e   embedding.Embedder
		err error
	)
	switch cfg.Embedding.Provider {
	case embedding.ProviderONNX, "":
		e, err = embedding.NewONNXEmbedder(embedding.ONNXOptions{
			ModelPath:  cfg.Embedding.ModelPath,
			Dimensions: cfg.Embedding.Dimensions,
			MaxTokens:  cfg.Embedding.MaxTokens,
		})
		if err != nil {
			logger.Warn("onnx embedder unavailable, using mock embeddings", zap.Error(err))
			e, err = embedding.NewMockEmbedder(cfg.Embedding.Dimensions), nil
		}
	case embedding.ProviderHTTP, embedding.ProviderOllama:
		api := embedding.APIOpenAI
		if cfg.Embedding.Provider == embedding.ProviderOllama {
			api = embedding.APIOllama
		}
		e, err = embedding.NewHTTPEmbedder(embedding.HTTPOptions{
			API:        api,
			Endpoint:   cfg.Embedding.Endpoint,
			Model:      cfg.Embedding.Model,
			APIKey:     cfg.Embedding.APIKey,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout(),
			MaxRetries: cfg.Embedding.MaxRetries,
		}, embedding.WithLogger(logger))
	case embedding.ProviderMock:
		e = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	default:
		err = &search.ConfigurationError{Field: "embedding.provider", Value: cfg.Embedding.Provider, Reason: "supported: onnx, http, ollama, mock"}
	}
	if err != nil {
		return nil, err
	}
	return embedding.WithCache(e, cfg.Embedding.CacheSize), nil
}

// openDense opens the passage store, the embedder, and one vector index per configured
// collection. It returns a nil fusion retriever when no collection has been built.
func (c *Components) openDense(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*search.FusionRetriever, error) {
	if len(cfg.Dense.Collections) == 0 {
		return nil, nil
	}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder
	intent, err := search.NewIntentExtractor(cfg.Retrieval.IntentExtractor)
	if err != nil {
		return nil, err
	}

	var retrievers []search.ScoredRetriever
	for _, col := range cfg.Dense.Collections {
		vi, err := openCollectionIndex(ctx, cfg, col.Name, store)
		if err != nil {
			return nil, err
		}
		if vi == nil {
			logger.Warn("dense collection not built, skipping (run kotae index)", zap.String("collection", col.Name))
			continue
		}
		c.VectorIndexes = append(c.VectorIndexes, vi)
		r, err := search.NewDenseRetriever(col.Name, vi, store, embedder, col.TopK(cfg.Dense.SimilarityTopK),
			search.WithIntentExtractor(intent), search.WithDenseLogger(logger))
		if err != nil {
			return nil, err
		}
		retrievers = append(retrievers, r)
		logger.Info("dense collection loaded", zap.String("collection", col.Name), zap.Int("vectors", vi.Size()))
	}
	if len(retrievers) == 0 {
		return nil, nil
	}
	return search.NewFusionRetriever(cfg.Fusion.MaxTopN, retrievers,
		search.WithScoreNormalization(cfg.Fusion.ScoreNormalization), search.WithFusionLogger(logger))
}

// openCollectionIndex returns the vector index of collection name, or nil when it has not been
// built yet.
func openCollectionIndex(ctx context.Context, cfg *config.Config, name string, store storage.Storage) (vector.VectorIndex, error) {
	vi, err := newCollectionIndex(cfg, name)
	if err != nil {
		return nil, err
	}
	if path := collectionIndexPath(cfg, name); path != "" {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			_ = vi.Close()
			return nil, nil
		}
		if err := vi.Load(path); err != nil {
			_ = vi.Close()
			return nil, fmt.Errorf("load vector index %s: %w", path, err)
		}
		return vi, nil
	}
	n, err := store.CountPassages(ctx, name)
	if err != nil || n == 0 {
		_ = vi.Close()
		return nil, err
	}
	return vi, nil
}

func newCollectionIndex(cfg *config.Config, name string) (vector.VectorIndex, error) {
	vi, err := vector.NewVectorIndex(vector.Config{
		Type:       cfg.Dense.IndexType,
		Dimensions: cfg.Embedding.Dimensions,
		Collection: name,
		QdrantURL:  cfg.Dense.QdrantURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	return vi, nil
}

// collectionIndexPath is where a memory index of collection name is persisted. Server-side
// backends return "".
func collectionIndexPath(cfg *config.Config, name string) string {
	if cfg.Dense.IndexType != string(vector.IndexTypeMemory) && cfg.Dense.IndexType != "" {
		return ""
	}
	return filepath.Join(cfg.Storage.VectorIndexDir, name+".vec")
}
