package keyword

import (
	"context"
	"math"
	"testing"

	"github.com/hyperjump/kotae/internal/indexer"
)

var campusTexts = []string{
	"Carnegie Mellon University was founded in 1900 by Andrew Carnegie.",
	"The mascot of CMU is Scotty, a Scottish Terrier.",
	"Spring Carnival features buggy races and booths.",
	"The Language Technologies Institute offers the MLT and PhD programs.",
	"Course 11-711 Advanced NLP is taught in the fall semester.",
	"Buggy races take place on Schenley Drive during Carnival.",
}

func TestBM25_foundingQuestion(t *testing.T) {
	corpus := indexer.CorpusFromTexts([]string{
		"CMU was founded in 1900.",
		"The mascot of CMU is a Scottish Terrier.",
	})
	for _, legacy := range []bool{false, true} {
		opts := DefaultBM25Options()
		opts.LegacyQueryTokenization = legacy
		idx := NewBM25Index(corpus, opts)
		got, err := idx.Search(context.Background(), "When was CMU founded?", 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || corpus.At(got[0].Index).Text != "CMU was founded in 1900." {
			t.Errorf("legacy=%v: got %+v", legacy, got)
		}
	}
}

func TestBM25_deterministic(t *testing.T) {
	corpus := indexer.CorpusFromTexts(campusTexts)
	a := NewBM25Index(corpus, DefaultBM25Options())
	b := NewBM25Index(corpus, DefaultBM25Options())
	ctx := context.Background()
	for _, q := range []string{"buggy races", "carnival", "who founded carnegie mellon", "zzz"} {
		ra, _ := a.Search(ctx, q, 4)
		rb, _ := b.Search(ctx, q, 4)
		again, _ := a.Search(ctx, q, 4)
		if len(ra) != len(rb) {
			t.Fatalf("%q: lengths differ", q)
		}
		for i := range ra {
			if ra[i].Index != rb[i].Index || ra[i].Score != rb[i].Score || ra[i].Index != again[i].Index {
				t.Errorf("%q: result %d differs", q, i)
			}
		}
	}
}

func TestBM25_prefixMonotonic(t *testing.T) {
	idx := NewBM25Index(indexer.CorpusFromTexts(campusTexts), DefaultBM25Options())
	ctx := context.Background()
	for _, q := range []string{"buggy races carnival", "the", "CMU mascot", "nothing matches this"} {
		for k := 1; k < len(campusTexts); k++ {
			short, _ := idx.Search(ctx, q, k)
			long, _ := idx.Search(ctx, q, k+1)
			if len(short) != k || len(long) != k+1 {
				t.Fatalf("%q: lengths %d, %d for k=%d", q, len(short), len(long), k)
			}
			for i := range short {
				if short[i].Index != long[i].Index {
					t.Errorf("%q: top-%d is not a prefix of top-%d", q, k, k+1)
				}
			}
		}
	}
}

func TestBM25_ordering(t *testing.T) {
	idx := NewBM25Index(indexer.CorpusFromTexts(campusTexts), DefaultBM25Options())
	got, _ := idx.Search(context.Background(), "buggy races", 10)
	if len(got) != len(campusTexts) {
		t.Fatalf("limit beyond corpus should return all %d, got %d", len(campusTexts), len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("scores not descending at %d", i)
		}
		if got[i].Score == got[i-1].Score && got[i].Index < got[i-1].Index {
			t.Errorf("tie at %d not broken by corpus order", i)
		}
	}
	if got[len(got)-1].Score != 0 {
		t.Error("non-matching passages should be returned with zero score")
	}
	// Both passages hold each term once; passage 2 is shorter.
	if got[0].Index != 2 || got[1].Index != 5 {
		t.Errorf("unexpected top results %+v %+v", got[0], got[1])
	}
}

func TestBM25_empty(t *testing.T) {
	ctx := context.Background()
	empty := NewBM25Index(indexer.CorpusFromTexts(nil), DefaultBM25Options())
	if got, err := empty.Search(ctx, "anything", 5); err != nil || len(got) != 0 {
		t.Errorf("empty corpus: %v, %v", got, err)
	}
	idx := NewBM25Index(indexer.CorpusFromTexts(campusTexts), DefaultBM25Options())
	for _, q := range []string{"", "   ", "?!."} {
		if got, err := idx.Search(ctx, q, 5); err != nil || len(got) != 0 {
			t.Errorf("query %q: %v, %v", q, got, err)
		}
	}
	if got, _ := idx.Search(ctx, "buggy", 0); len(got) != 0 {
		t.Error("limit 0 should return nothing")
	}
	if n, _ := idx.DocCount(); n != uint64(len(campusTexts)) {
		t.Errorf("DocCount = %d", n)
	}
}

func TestBM25_scoreFormula(t *testing.T) {
	corpus := indexer.CorpusFromTexts([]string{"a b", "b c d e"})
	idx := NewBM25Index(corpus, DefaultBM25Options())
	// N=2, df(a)=1 -> idf = ln(1 + 1.5/1.5) = ln 2; avgdl = 3, |d0| = 2.
	idf := math.Log(2)
	norm := 1.5 * (1 - 0.75 + 0.75*2.0/3.0)
	want := idf * 1 * 2.5 / (1 + norm)
	if got := idx.Scores([]string{"a"})[0]; math.Abs(got-want) > 1e-12 {
		t.Errorf("score = %v, want %v", got, want)
	}
	twice := idx.Scores([]string{"a", "a"})[0]
	if math.Abs(twice-2*want) > 1e-12 {
		t.Errorf("repeated query terms should add up: %v", twice)
	}
}

func TestBM25_okapiFloor(t *testing.T) {
	corpus := indexer.CorpusFromTexts([]string{
		"shared alpha", "shared beta", "shared gamma", "delta epsilon",
	})
	opts := DefaultBM25Options()
	opts.IDF = IDFOkapi
	idx := NewBM25Index(corpus, opts)
	// df(shared)=3 of 4 -> raw idf = ln(1.5/3.5) < 0, raised to epsilon * mean idf.
	rare := math.Log(3.5) - math.Log(1.5)
	raw := math.Log(1.5) - math.Log(3.5)
	mean := (5*rare + raw) / 6
	want := 0.25 * mean
	if got := idx.IDF("shared"); math.Abs(got-want) > 1e-12 {
		t.Errorf("IDF(shared) = %v, want %v", got, want)
	}
	if got := idx.IDF("alpha"); math.Abs(got-rare) > 1e-12 {
		t.Errorf("IDF(alpha) = %v, want %v", got, rare)
	}
	if idx.IDF("missing") != 0 {
		t.Error("unseen term should have zero IDF")
	}
}
