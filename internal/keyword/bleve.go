package keyword

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/pkg/utils"
)

// bleveBatchSize bounds the number of passages per Bleve batch.
const bleveBatchSize = 500

// corpusKey is the internal key holding the fingerprint of the corpus an index was built from.
var corpusKey = []byte("kotae:corpus")

type blevePassage struct {
	Text string `json:"text"`
}

// BleveIndex implements KeywordIndex with Bleve's scorer over the same corpus the BM25
// index uses. It is an alternative backend for large corpora persisted on disk.
type BleveIndex struct {
	index    bleve.Index
	corpus   *models.Corpus
	position map[string]int
	tokenize QueryTokenizer
	logger   *zap.Logger
}

// BleveOption configures a BleveIndex.
type BleveOption func(*BleveIndex)

// WithBleveLogger sets a logger for build progress.
func WithBleveLogger(l *zap.Logger) BleveOption {
	return func(b *BleveIndex) { b.logger = l }
}

// WithLegacyQueryTokenization keeps punctuation on query tokens.
func WithLegacyQueryTokenization(legacy bool) BleveOption {
	return func(b *BleveIndex) { b.tokenize = QueryTokenizerFor(legacy) }
}

func passageMapping() mapping.IndexMapping {
	im := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	text := bleve.NewTextFieldMapping()
	// Standard analyzer lowercases and tokenizes without stemming, matching the BM25 path.
	text.Analyzer = standard.Name
	text.Store = false
	doc.AddFieldMappingsAt("text", text)
	im.AddDocumentMapping("passage", doc)
	im.DefaultType = "passage"
	im.DefaultMapping = doc
	return im
}

// NewBleveIndex opens or builds a Bleve index for corpus. An empty path keeps the index in
// memory. An on-disk index built from a different corpus is rebuilt.
func NewBleveIndex(ctx context.Context, path string, corpus *models.Corpus, opts ...BleveOption) (*BleveIndex, error) {
	b := &BleveIndex{
		corpus:   corpus,
		position: make(map[string]int, corpus.Len()),
		tokenize: QueryTokenizerFor(false),
	}
	for _, o := range opts {
		o(b)
	}
	b.logger = utils.OrNop(b.logger)
	for i := 0; i < corpus.Len(); i++ {
		b.position[corpus.At(i).ID] = i
	}

	if path == "" {
		index, err := bleve.NewMemOnly(passageMapping())
		if err != nil {
			return nil, fmt.Errorf("failed to create Bleve index: %w", err)
		}
		b.index = index
		if err := b.build(ctx); err != nil {
			_ = index.Close()
			return nil, err
		}
		return b, nil
	}

	if _, err := os.Stat(path); err == nil {
		index, openErr := bleve.Open(path)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open Bleve index: %w", openErr)
		}
		if stored, _ := index.GetInternal(corpusKey); bytes.Equal(stored, fingerprint(corpus)) {
			b.index = index
			return b, nil
		}
		b.logger.Info("keyword index out of date, rebuilding", zap.String("path", path))
		_ = index.Close()
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("remove stale Bleve index: %w", err)
		}
	}
	index, err := bleve.New(path, passageMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create Bleve index: %w", err)
	}
	b.index = index
	if err := b.build(ctx); err != nil {
		_ = index.Close()
		return nil, err
	}
	return b, nil
}

func (b *BleveIndex) build(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	batch := b.index.NewBatch()
	for i := 0; i < b.corpus.Len(); i++ {
		p := b.corpus.At(i)
		if err := batch.Index(p.ID, blevePassage{Text: p.Text}); err != nil {
			return fmt.Errorf("index passage %s: %w", p.ID, err)
		}
		if batch.Size() >= bleveBatchSize {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := b.index.Batch(batch); err != nil {
				return fmt.Errorf("Bleve batch failed: %w", err)
			}
			batch = b.index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := b.index.Batch(batch); err != nil {
			return fmt.Errorf("Bleve batch failed: %w", err)
		}
	}
	if err := b.index.SetInternal(corpusKey, fingerprint(b.corpus)); err != nil {
		return fmt.Errorf("store corpus fingerprint: %w", err)
	}
	b.logger.Debug("keyword index built", zap.Int("passages", b.corpus.Len()))
	return nil
}

// fingerprint hashes the IDs and texts of corpus in order.
func fingerprint(corpus *models.Corpus) []byte {
	h := sha256.New()
	for i := 0; i < corpus.Len(); i++ {
		p := corpus.At(i)
		h.Write([]byte(p.ID))
		h.Write([]byte{0})
		h.Write([]byte(p.Text))
		h.Write([]byte{0})
	}
	return h.Sum(nil)
}

// Search runs a match query over the query tokens.
func (b *BleveIndex) Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error) {
	tokens := b.tokenize(query)
	if b.corpus.Len() == 0 || len(tokens) == 0 || limit <= 0 {
		return []*KeywordResult{}, nil
	}
	q := bleve.NewMatchQuery(strings.Join(tokens, " "))
	q.SetField("text")
	req := bleve.NewSearchRequest(q)
	req.Size = limit
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Bleve search failed: %w", err)
	}
	out := make([]*KeywordResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		pos, ok := b.position[hit.ID]
		if !ok {
			continue
		}
		out = append(out, &KeywordResult{ID: hit.ID, Index: pos, Score: hit.Score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

// DocCount returns the total number of documents in the index.
func (b *BleveIndex) DocCount() (uint64, error) {
	return b.index.DocCount()
}

// Close closes the Bleve index.
func (b *BleveIndex) Close() error {
	return b.index.Close()
}
