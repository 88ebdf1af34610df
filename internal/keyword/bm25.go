package keyword

import (
	"context"
	"math"
	"sort"

	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
)

// IDFVariant selects the inverse document frequency formula.
type IDFVariant string

const (
	// IDFLucene is ln(1 + (N-df+0.5)/(df+0.5)); always positive.
	IDFLucene IDFVariant = "lucene"
	// IDFOkapi is ln((N-df+0.5)/(df+0.5)) with negative values raised to
	// Epsilon times the mean IDF of the vocabulary.
	IDFOkapi IDFVariant = "okapi"
)

// BM25Options holds ranking parameters.
type BM25Options struct {
	K1      float64
	B       float64
	IDF     IDFVariant
	Epsilon float64
	// LegacyQueryTokenization keeps punctuation on query tokens.
	LegacyQueryTokenization bool
}

// DefaultBM25Options returns k1=1.5, b=0.75, Lucene IDF.
func DefaultBM25Options() BM25Options {
	return BM25Options{K1: 1.5, B: 0.75, IDF: IDFLucene, Epsilon: 0.25}
}

func (o BM25Options) withDefaults() BM25Options {
	def := DefaultBM25Options()
	if o.K1 <= 0 {
		o.K1 = def.K1
	}
	if o.B < 0 || o.B > 1 {
		o.B = def.B
	}
	if o.IDF == "" {
		o.IDF = def.IDF
	}
	if o.Epsilon <= 0 {
		o.Epsilon = def.Epsilon
	}
	return o
}

// BM25Index is an exact in-memory BM25 index over an immutable corpus.
type BM25Index struct {
	corpus   *models.Corpus
	opts     BM25Options
	tokenize QueryTokenizer
	termFreq []map[string]int
	docLen   []int
	avgdl    float64
	idf      map[string]float64
}

// NewBM25Index tokenizes every passage of corpus and precomputes IDF.
func NewBM25Index(corpus *models.Corpus, opts BM25Options) *BM25Index {
	opts = opts.withDefaults()
	n := corpus.Len()
	idx := &BM25Index{
		corpus:   corpus,
		opts:     opts,
		tokenize: QueryTokenizerFor(opts.LegacyQueryTokenization),
		termFreq: make([]map[string]int, n),
		docLen:   make([]int, n),
		idf:      make(map[string]float64),
	}
	df := make(map[string]int)
	total := 0
	for i := 0; i < n; i++ {
		tokens := indexer.Tokenize(corpus.At(i).Text)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for t := range tf {
			df[t]++
		}
		idx.termFreq[i] = tf
		idx.docLen[i] = len(tokens)
		total += len(tokens)
	}
	if n > 0 {
		idx.avgdl = float64(total) / float64(n)
	}
	idx.computeIDF(df, n)
	return idx
}

func (idx *BM25Index) computeIDF(df map[string]int, n int) {
	N := float64(n)
	switch idx.opts.IDF {
	case IDFOkapi:
		var sum float64
		var negative []string
		for t, f := range df {
			v := math.Log(N-float64(f)+0.5) - math.Log(float64(f)+0.5)
			idx.idf[t] = v
			sum += v
			if v < 0 {
				negative = append(negative, t)
			}
		}
		if len(df) == 0 {
			return
		}
		floor := idx.opts.Epsilon * sum / float64(len(df))
		for _, t := range negative {
			idx.idf[t] = floor
		}
	default:
		for t, f := range df {
			idx.idf[t] = math.Log(1 + (N-float64(f)+0.5)/(float64(f)+0.5))
		}
	}
}

// IDF returns the inverse document frequency of an already-normalized term (0 if unseen).
func (idx *BM25Index) IDF(term string) float64 {
	return idx.idf[term]
}

// Scores returns the BM25 score of every passage for tokens, in corpus order.
// Repeated query tokens contribute once per occurrence.
func (idx *BM25Index) Scores(tokens []string) []float64 {
	scores := make([]float64, len(idx.termFreq))
	if idx.avgdl == 0 {
		return scores
	}
	k1, b := idx.opts.K1, idx.opts.B
	for _, t := range tokens {
		idf, ok := idx.idf[t]
		if !ok {
			continue
		}
		for i, tf := range idx.termFreq {
			f := float64(tf[t])
			if f == 0 {
				continue
			}
			norm := k1 * (1 - b + b*float64(idx.docLen[i])/idx.avgdl)
			scores[i] += idf * f * (k1 + 1) / (f + norm)
		}
	}
	return scores
}

// Search tokenizes query and returns the top limit passages. Every passage is a
// candidate, so limit >= corpus size returns the whole corpus including zero scores.
func (idx *BM25Index) Search(ctx context.Context, query string, limit int) ([]*KeywordResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tokens := idx.tokenize(query)
	if idx.corpus.Len() == 0 || len(tokens) == 0 || limit <= 0 {
		return []*KeywordResult{}, nil
	}
	return idx.TopN(tokens, limit), nil
}

// TopN ranks passages for pre-tokenized input.
func (idx *BM25Index) TopN(tokens []string, limit int) []*KeywordResult {
	scores := idx.Scores(tokens)
	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	if limit < len(order) {
		order = order[:limit]
	}
	out := make([]*KeywordResult, len(order))
	for i, pos := range order {
		out[i] = &KeywordResult{ID: idx.corpus.At(pos).ID, Index: pos, Score: scores[pos]}
	}
	return out
}

// DocCount returns the corpus size.
func (idx *BM25Index) DocCount() (uint64, error) {
	return uint64(idx.corpus.Len()), nil
}

// Close is a no-op.
func (idx *BM25Index) Close() error {
	return nil
}
