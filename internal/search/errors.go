package search

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an invalid retriever setting at construction time.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// NoResultsError reports that no retriever produced a passage for the question.
type NoResultsError struct {
	Question string
}

func (e *NoResultsError) Error() string {
	return fmt.Sprintf("question %q failed to retrieve any passage", e.Question)
}

// ErrDenseUnavailable is returned for dense queries when no dense collection is loaded. Hybrid
// queries fall back to the lexical path instead.
var ErrDenseUnavailable = errors.New("dense retrieval is not configured")

// IsNoResults reports whether err is or wraps a *NoResultsError.
func IsNoResults(err error) bool {
	var nr *NoResultsError
	return errors.As(err, &nr)
}
