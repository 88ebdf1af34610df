package extract

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Table is a header row plus data rows. Every row has len(Columns) cells.
type Table struct {
	Columns []string
	Rows    [][]string
}

// ReadTable reads a .csv or .xlsx file as a table.
func ReadTable(path string) (*Table, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return ReadTableBytes(content, strings.ToLower(filepath.Ext(path)))
}

// ReadTableBytes parses content as a table according to ext.
func ReadTableBytes(content []byte, ext string) (*Table, error) {
	switch ext {
	case ".csv":
		return readCSVTable(content)
	case ".xlsx":
		return readExcelTable(content)
	default:
		return nil, fmt.Errorf("unsupported table format %q", ext)
	}
}

func readCSVTable(content []byte) (*Table, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\ufeff"))))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse CSV: %w", err)
	}
	return newTable(records), nil
}

// newTable pads or trims rows to the header width and drops rows with no content.
func newTable(records [][]string) *Table {
	if len(records) == 0 {
		return &Table{}
	}
	t := &Table{Columns: make([]string, len(records[0]))}
	for i, c := range records[0] {
		t.Columns[i] = strings.TrimSpace(c)
	}
	for _, rec := range records[1:] {
		row := make([]string, len(t.Columns))
		empty := true
		for i := range row {
			if i < len(rec) {
				row[i] = strings.TrimSpace(rec[i])
			}
			if row[i] != "" {
				empty = false
			}
		}
		if !empty {
			t.Rows = append(t.Rows, row)
		}
	}
	return t
}
