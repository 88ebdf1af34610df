package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory is the brute-force in-memory index persisted to one file per collection.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeQdrant stores each collection in a Qdrant server.
	IndexTypeQdrant IndexType = "qdrant"
)

// Config selects and configures a vector index for one collection.
type Config struct {
	Type       string
	Dimensions int
	// Collection names the Qdrant collection; ignored by the memory index.
	Collection string
	QdrantURL  string
}

// NewVectorIndex creates a vector index of the configured type ("memory" when empty).
func NewVectorIndex(cfg Config) (VectorIndex, error) {
	switch IndexType(cfg.Type) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(cfg.Dimensions)
	case IndexTypeQdrant:
		return NewQdrantIndex(cfg.QdrantURL, cfg.Collection, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, qdrant)", cfg.Type)
	}
}
