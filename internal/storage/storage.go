// Package storage persists passages for dense collections so vector hits can be hydrated.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/kotae/internal/models"
)

// ErrNotFound is returned when a passage does not exist.
var ErrNotFound = errors.New("passage not found")

// CollectionStats is the passage count for one collection.
type CollectionStats struct {
	Name     string `json:"name"`
	Passages int64  `json:"passages"`
}

// Storage defines passage persistence operations.
type Storage interface {
	CreatePassage(ctx context.Context, p *models.Passage) error
	BatchCreatePassages(ctx context.Context, passages []*models.Passage) error
	GetPassage(ctx context.Context, id string) (*models.Passage, error)
	// GetPassages returns passages in the order of ids; unknown ids are skipped.
	GetPassages(ctx context.Context, ids []string) ([]*models.Passage, error)
	ListPassages(ctx context.Context, collection string, offset, limit int) ([]*models.Passage, error)
	DeleteCollection(ctx context.Context, collection string) error

	// CountPassages counts passages in collection, or all passages when collection is "".
	CountPassages(ctx context.Context, collection string) (int64, error)
	Collections(ctx context.Context) ([]CollectionStats, error)

	Close() error
}
