package models

import (
	"errors"
	"fmt"
	"strings"
)

// Retrieval modes.
const (
	ModeLexical = "lexical"
	ModeDense   = "dense"
	ModeHybrid  = "hybrid"
)

// ErrInvalidQuery wraps every validation failure returned by Validate.
var ErrInvalidQuery = errors.New("invalid query")

// RetrieveQuery is a question plus how many passages to return and which path to use.
type RetrieveQuery struct {
	Question string `json:"question"`
	TopN     int    `json:"top_n,omitempty"`
	Mode     string `json:"mode,omitempty"`
}

// QueryDefaults holds the values Validate falls back to.
type QueryDefaults struct {
	TopN    int
	MaxTopN int
	Mode    string
}

// Validate rejects an empty question, normalizes the mode, and applies top_n defaults and caps.
func (q *RetrieveQuery) Validate(d QueryDefaults) error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("%w: question cannot be empty", ErrInvalidQuery)
	}
	if d.TopN <= 0 {
		d.TopN = 5
	}
	if d.Mode == "" {
		d.Mode = ModeLexical
	}
	if q.TopN <= 0 {
		q.TopN = d.TopN
	}
	if d.MaxTopN > 0 && q.TopN > d.MaxTopN {
		q.TopN = d.MaxTopN
	}
	q.Mode = strings.ToLower(strings.TrimSpace(q.Mode))
	if q.Mode == "" {
		q.Mode = d.Mode
	}
	switch q.Mode {
	case ModeLexical, ModeDense, ModeHybrid:
	default:
		return fmt.Errorf("%w: unknown retrieval mode %q (supported: lexical, dense, hybrid)", ErrInvalidQuery, q.Mode)
	}
	return nil
}
