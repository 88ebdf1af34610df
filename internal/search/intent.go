package search

import (
	"regexp"
	"strings"

	"github.com/hyperjump/kotae/internal/vector"
)

// CourseNumberKey is the metadata key course rows carry their number under.
const CourseNumberKey = "course_number"

// IntentExtractor derives an optional metadata filter from a question.
type IntentExtractor interface {
	Extract(question string) *vector.Filter
}

// NoopExtractor never filters.
type NoopExtractor struct{}

// Extract returns nil.
func (NoopExtractor) Extract(string) *vector.Filter { return nil }

// courseNumberPattern matches a number right after "course" or "unit", plain ("course 11711")
// or hyphenated ("unit 11-711").
var courseNumberPattern = regexp.MustCompile(`(course|unit)\s*(\d{2})-?(\d{3})\b`)

// CourseNumberExtractor filters on a five-digit course number adjacent to the word "course" or
// "unit". Bare numbers are never treated as courses. Questions naming more than one distinct
// number are ambiguous and get no filter.
type CourseNumberExtractor struct{}

// Extract returns a course_number filter or nil.
func (CourseNumberExtractor) Extract(question string) *vector.Filter {
	q := strings.ToLower(question)
	seen := make(map[string]struct{})
	var number string
	for _, m := range courseNumberPattern.FindAllStringSubmatch(q, -1) {
		n := m[2] + m[3]
		seen[n] = struct{}{}
		number = n
	}
	if len(seen) != 1 {
		return nil
	}
	return &vector.Filter{Key: CourseNumberKey, Value: number}
}

// NewIntentExtractor returns the extractor named in configuration ("course_number" or "none").
func NewIntentExtractor(name string) (IntentExtractor, error) {
	switch name {
	case "", "course_number":
		return CourseNumberExtractor{}, nil
	case "none":
		return NoopExtractor{}, nil
	default:
		return nil, &ConfigurationError{Field: "intent_extractor", Value: name, Reason: "supported: course_number, none"}
	}
}
