// Package evaluation scores generated answers against reference answers with exact match,
// token recall, and token F1.
package evaluation

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoReferences is returned when a score is requested against an empty reference set.
var ErrNoReferences = errors.New("at least one reference answer is required")

// f1Epsilon keeps F1 defined when precision and recall are both zero.
const f1Epsilon = 1e-8

// Normalizer maps an answer to the form tokens are compared in.
type Normalizer func(string) string

// Identity returns s unchanged.
func Identity(s string) string { return s }

var articles = regexp.MustCompile(`\b(a|an|the)\b`)

// NormalizeAnswer lowercases s, drops ASCII punctuation, replaces the articles a, an, and
// the with spaces, and collapses whitespace.
func NormalizeAnswer(s string) string {
	s = strings.ToLower(s)
	s = strings.Map(func(r rune) rune {
		if isASCIIPunct(r) {
			return -1
		}
		return r
	}, s)
	s = articles.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func isASCIIPunct(r rune) bool {
	return (r >= '!' && r <= '/') || (r >= ':' && r <= '@') || (r >= '[' && r <= '`') || (r >= '{' && r <= '~')
}

func orIdentity(norm Normalizer) Normalizer {
	if norm == nil {
		return Identity
	}
	return norm
}

// ExactMatch returns 1 when the normalized prediction equals the normalized reference.
func ExactMatch(prediction, reference string, norm Normalizer) float64 {
	norm = orIdentity(norm)
	if norm(prediction) == norm(reference) {
		return 1
	}
	return 0
}

// overlap returns the multiset intersection size and both token counts.
func overlap(prediction, reference string, norm Normalizer) (common, predLen, refLen int) {
	norm = orIdentity(norm)
	pred := strings.Fields(norm(prediction))
	ref := strings.Fields(norm(reference))
	counts := make(map[string]int, len(ref))
	for _, t := range ref {
		counts[t]++
	}
	for _, t := range pred {
		if counts[t] > 0 {
			counts[t]--
			common++
		}
	}
	return common, len(pred), len(ref)
}

// Recall is the fraction of reference tokens found in the prediction.
func Recall(prediction, reference string, norm Normalizer) float64 {
	common, _, refLen := overlap(prediction, reference, norm)
	if common == 0 {
		return 0
	}
	return float64(common) / float64(refLen)
}

// F1 is the harmonic mean of token precision and recall.
func F1(prediction, reference string, norm Normalizer) float64 {
	common, predLen, refLen := overlap(prediction, reference, norm)
	if common == 0 {
		return 0
	}
	precision := float64(common) / float64(predLen)
	recall := float64(common) / float64(refLen)
	return 2 * precision * recall / (precision + recall + f1Epsilon)
}

func maxOver(prediction string, references []string, norm Normalizer, score func(string, string, Normalizer) float64) (float64, error) {
	if len(references) == 0 {
		return 0, ErrNoReferences
	}
	best := 0.0
	for _, ref := range references {
		if s := score(prediction, ref, norm); s > best {
			best = s
		}
	}
	return best, nil
}

// ExactMatchScore is the best ExactMatch over references.
func ExactMatchScore(prediction string, references []string, norm Normalizer) (float64, error) {
	return maxOver(prediction, references, norm, ExactMatch)
}

// F1Score is the best F1 over references.
func F1Score(prediction string, references []string, norm Normalizer) (float64, error) {
	return maxOver(prediction, references, norm, F1)
}

// RecallScore is the best Recall over references.
func RecallScore(prediction string, references []string, norm Normalizer) (float64, error) {
	return maxOver(prediction, references, norm, Recall)
}
