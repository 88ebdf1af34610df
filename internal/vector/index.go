// Package vector stores pre-built dense collections and answers nearest-neighbour queries.
package vector

import "context"

// VectorIndex is one dense collection. It is written by the index builder and read-only
// while serving queries.
type VectorIndex interface {
	// Add stores vectors with their IDs. payloads may be nil; otherwise payloads[i]
	// holds the filterable metadata of ids[i].
	Add(ctx context.Context, ids []string, vectors [][]float32, payloads []map[string]string) error
	// Search returns up to k nearest vectors by inner product. A non-nil filter restricts
	// results to payloads where filter.Key equals filter.Value.
	Search(ctx context.Context, query []float32, k int, filter *Filter) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	Close() error
}

// VectorResult is a single hit. HasScore is false when the backend returned no score.
type VectorResult struct {
	ID       string
	Score    float64
	HasScore bool
}

// Filter is a single string-equality constraint on payload metadata.
type Filter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Matches reports whether payload satisfies f. A nil filter matches everything.
func (f *Filter) Matches(payload map[string]string) bool {
	if f == nil {
		return true
	}
	v, ok := payload[f.Key]
	return ok && v == f.Value
}
