package evaluation

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalizeAnswer(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Year 1900.", "year 1900"},
		{"The  Scottish Terrier!", "scottish terrier"},
		{"an apple a day", "apple day"},
		{"theory and another", "theory and another"},
		{"Mitamura's research", "mitamuras research"},
		{"  ", ""},
	}
	for _, tt := range tests {
		if got := NormalizeAnswer(tt.in); got != tt.want {
			t.Errorf("NormalizeAnswer(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExactMatchScore(t *testing.T) {
	got, err := ExactMatchScore("Year 1900", []string{"year 1900."}, NormalizeAnswer)
	if err != nil || got != 1 {
		t.Errorf("normalized = %v, %v", got, err)
	}
	if got, _ := ExactMatchScore("Year 1900", []string{"year 1900."}, Identity); got != 0 {
		t.Errorf("identity = %v", got)
	}
	if got, _ := ExactMatchScore("Year 1900", []string{"year 1900."}, nil); got != 0 {
		t.Errorf("nil normalizer should be identity, got %v", got)
	}
	if got, _ := ExactMatchScore("1900", []string{"1901", "1900"}, nil); got != 1 {
		t.Errorf("best reference = %v", got)
	}
}

func TestF1Score(t *testing.T) {
	got, err := F1Score("a b c d", []string{"a b x y"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(got-0.5) > 1e-6 {
		t.Errorf("half overlap F1 = %v, want 0.5", got)
	}
	if got, _ := F1Score("x y", []string{"a b"}, nil); got != 0 {
		t.Errorf("no overlap F1 = %v", got)
	}
	if got, _ := F1Score("a b", []string{"x", "a b"}, nil); math.Abs(got-1) > 1e-6 {
		t.Errorf("max over references = %v", got)
	}
}

func TestMultisetOverlap(t *testing.T) {
	// "the" appears twice in the prediction but once in the reference.
	if got := Recall("the the cat", "the dog", nil); got != 0.5 {
		t.Errorf("Recall = %v, want 0.5", got)
	}
	got := F1("the the cat", "the dog", nil)
	want := 2 * (1.0 / 3) * 0.5 / (1.0/3 + 0.5 + 1e-8)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("F1 = %v, want %v", got, want)
	}
}

func TestRecallScore(t *testing.T) {
	got, err := RecallScore("CMU was founded in 1900 by Andrew Carnegie", []string{"founded in 1900"}, NormalizeAnswer)
	if err != nil || got != 1 {
		t.Errorf("superset recall = %v, %v", got, err)
	}
	if got, _ := RecallScore("1900", []string{"founded in 1900"}, nil); math.Abs(got-1.0/3) > 1e-12 {
		t.Errorf("partial recall = %v", got)
	}
}

func TestNoReferences(t *testing.T) {
	for name, fn := range map[string]func(string, []string, Normalizer) (float64, error){
		"em": ExactMatchScore, "f1": F1Score, "recall": RecallScore,
	} {
		if _, err := fn("x", nil, nil); !errors.Is(err, ErrNoReferences) {
			t.Errorf("%s: expected ErrNoReferences, got %v", name, err)
		}
	}
}

func TestEvaluateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "eval.jsonl")
	content := strings.Join([]string{
		`{"question": "When was CMU founded?", "prediction": "1900.", "references": ["1900"]}`,
		``,
		`{"prediction": "a scottish terrier", "references": ["Scottish Terrier named Scotty", "terrier"]}`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	report, err := EvaluateFile(path, NormalizeAnswer)
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Items) != 2 {
		t.Fatalf("items = %d", len(report.Items))
	}
	if report.Items[0].ExactMatch != 1 || report.Items[0].Question != "When was CMU founded?" {
		t.Errorf("item 1 = %+v", report.Items[0])
	}
	if report.Items[1].Recall != 1 || report.Items[1].ExactMatch != 0 {
		t.Errorf("item 2 = %+v", report.Items[1])
	}
	if report.ExactMatch != 0.5 {
		t.Errorf("mean exact match = %v", report.ExactMatch)
	}
	if report.Items[0].Line != 1 || report.Items[1].Line != 3 {
		t.Errorf("lines = %d, %d, want 1, 3", report.Items[0].Line, report.Items[1].Line)
	}
}

func TestEvaluate_positions(t *testing.T) {
	report, err := Evaluate([]Item{
		{Prediction: "1900", References: []string{"1900"}},
		{Prediction: "Scotty", References: []string{"Scotty"}},
	}, Identity)
	if err != nil {
		t.Fatal(err)
	}
	if report.Items[0].Line != 1 || report.Items[1].Line != 2 {
		t.Errorf("positions = %d, %d", report.Items[0].Line, report.Items[1].Line)
	}
}

func TestEvaluateFile_errors(t *testing.T) {
	dir := t.TempDir()
	if _, err := EvaluateFile(filepath.Join(dir, "missing.jsonl"), nil); err == nil {
		t.Error("expected error for missing file")
	}
	bad := filepath.Join(dir, "bad.jsonl")
	_ = os.WriteFile(bad, []byte("\n"+`{"prediction": "x"}`+"\n"), 0600)
	_, err := EvaluateFile(bad, nil)
	if !errors.Is(err, ErrNoReferences) {
		t.Errorf("expected ErrNoReferences, got %v", err)
	}
	if err != nil && !strings.Contains(err.Error(), "line 2") {
		t.Errorf("error should name line 2: %v", err)
	}
}
