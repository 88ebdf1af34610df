package search

import (
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/models"
)

// ProcessQuery collapses whitespace in the question, then validates the query and applies
// defaults. Questions pasted from documents often carry line breaks and tabs.
func ProcessQuery(query *models.RetrieveQuery, defaults models.QueryDefaults) error {
	query.Question = indexer.Preprocess(query.Question)
	return query.Validate(defaults)
}
