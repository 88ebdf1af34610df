// Package cli provides output helpers for the kotae command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/hyperjump/kotae/internal/evaluation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// WriteRetrieveResults writes retrieved passages to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteRetrieveResults(w io.Writer, response *models.RetrieveResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d passages in %dms (mode: %s)\n\n", response.Total, response.QueryTime, response.Mode)
	for i, p := range response.Passages {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "[%d]\n%s\n\n", i+1, Truncate(p, 500))
	}
	return nil
}

// PrintRetrieveResults prints retrieved passages to stdout in text format.
func PrintRetrieveResults(response *models.RetrieveResponse) {
	_ = WriteRetrieveResults(os.Stdout, response, OutputText)
}

// WriteEvalReport writes an evaluation report. Text output lists the per-item scores only when
// verbose is set.
func WriteEvalReport(w io.Writer, report *evaluation.Report, format OutputFormat, verbose bool) error {
	if format == OutputJSON {
		return writeJSON(w, report)
	}
	if verbose {
		for _, item := range report.Items {
			label := item.Question
			if label == "" {
				label = fmt.Sprintf("line %d", item.Line)
			}
			fmt.Fprintf(w, "%-50s EM %.2f  F1 %.4f  Recall %.4f\n",
				Truncate(label, 47), item.ExactMatch, item.F1, item.Recall)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Items:       %d\n", len(report.Items))
	fmt.Fprintf(w, "Exact match: %.4f\n", report.ExactMatch)
	fmt.Fprintf(w, "F1:          %.4f\n", report.F1)
	fmt.Fprintf(w, "Recall:      %.4f\n", report.Recall)
	return nil
}

// WriteCollections writes a passage count per dense collection.
func WriteCollections(w io.Writer, collections []storage.CollectionStats) {
	if len(collections) == 0 {
		fmt.Fprintln(w, "No dense collections indexed.")
		return
	}
	var total int64
	for _, c := range collections {
		fmt.Fprintf(w, "  %-20s %d passages\n", c.Name, c.Passages)
		total += c.Passages
	}
	fmt.Fprintf(w, "  %-20s %d passages\n", "total", total)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Truncate truncates s to maxLen runes and appends "..." if truncated.
func Truncate(s string, maxLen int) string {
	return utils.Truncate(s, maxLen)
}
