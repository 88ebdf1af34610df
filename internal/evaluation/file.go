package evaluation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Item is one line of an evaluation file.
type Item struct {
	Question   string   `json:"question,omitempty"`
	Prediction string   `json:"prediction"`
	References []string `json:"references"`
	// Line is the item's line in the file it was read from; zero for items built in memory.
	Line int `json:"-"`
}

// ItemScore holds the scores of one item. Line is the source line, or the 1-based position for
// items that were not read from a file.
type ItemScore struct {
	Line       int     `json:"line"`
	Question   string  `json:"question,omitempty"`
	ExactMatch float64 `json:"exact_match"`
	F1         float64 `json:"f1"`
	Recall     float64 `json:"recall"`
}

// Report holds per-item scores and their means.
type Report struct {
	Items      []ItemScore `json:"items"`
	ExactMatch float64     `json:"exact_match"`
	F1         float64     `json:"f1"`
	Recall     float64     `json:"recall"`
}

// Score computes all three scores for item.
func Score(item Item, norm Normalizer) (ItemScore, error) {
	em, err := ExactMatchScore(item.Prediction, item.References, norm)
	if err != nil {
		return ItemScore{}, err
	}
	f1, _ := F1Score(item.Prediction, item.References, norm)
	recall, _ := RecallScore(item.Prediction, item.References, norm)
	return ItemScore{Question: item.Question, ExactMatch: em, F1: f1, Recall: recall}, nil
}

// Evaluate scores items and averages the results. An empty item list yields a zero report.
func Evaluate(items []Item, norm Normalizer) (*Report, error) {
	report := &Report{Items: make([]ItemScore, 0, len(items))}
	for i, item := range items {
		s, err := Score(item, norm)
		if err != nil {
			if item.Line > 0 {
				return nil, fmt.Errorf("line %d: %w", item.Line, err)
			}
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		s.Line = item.Line
		if s.Line == 0 {
			s.Line = i + 1
		}
		report.Items = append(report.Items, s)
		report.ExactMatch += s.ExactMatch
		report.F1 += s.F1
		report.Recall += s.Recall
	}
	if n := float64(len(report.Items)); n > 0 {
		report.ExactMatch /= n
		report.F1 /= n
		report.Recall /= n
	}
	return report, nil
}

// ReadItems parses JSON Lines of {"prediction", "references"} objects. Blank lines are skipped.
func ReadItems(r io.Reader) ([]Item, error) {
	var items []Item
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		item.Line = line
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// EvaluateFile reads a JSON Lines evaluation file and scores it.
func EvaluateFile(path string, norm Normalizer) (*Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open evaluation file: %w", err)
	}
	defer f.Close()
	items, err := ReadItems(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Evaluate(items, norm)
}
