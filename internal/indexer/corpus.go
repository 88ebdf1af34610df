package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
)

// LexicalCollection names passages loaded from the knowledge source.
const LexicalCollection = "knowledge"

// LoadKnowledgeSource reads every regular file in dir (lexical filename order, not
// recursive) and splits each on marker. Segments are whitespace-normalized; empty ones
// are skipped. Passages are not deduplicated; see BuildCorpus.
func LoadKnowledgeSource(dir, marker string) ([]*models.Passage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read knowledge source: %w", err)
	}
	var passages []*models.Passage
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		passages = append(passages, SplitPassages(LexicalCollection, e.Name(), string(content), marker)...)
	}
	return passages, nil
}

// SplitPassages splits text on marker into whitespace-normalized passages.
func SplitPassages(collection, source, text, marker string) []*models.Passage {
	segments := []string{text}
	if marker != "" {
		segments = strings.Split(text, marker)
	}
	var out []*models.Passage
	for _, seg := range segments {
		seg = Preprocess(seg)
		if seg == "" {
			continue
		}
		out = append(out, &models.Passage{
			ID:         fileid.PassageID(collection, source, len(out)),
			Collection: collection,
			Text:       seg,
			Source:     source,
			Index:      len(out),
		})
	}
	return out
}

// BuildCorpus deduplicates passages by whitespace-normalized text, keeping the first
// occurrence and insertion order, and drops passages with no lexical tokens.
func BuildCorpus(passages []*models.Passage) *models.Corpus {
	seen := make(map[string]struct{}, len(passages))
	out := make([]*models.Passage, 0, len(passages))
	for _, p := range passages {
		key := Preprocess(p.Text)
		if key == "" || len(Tokenize(key)) == 0 {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return models.NewCorpus(out)
}

// CorpusFromTexts builds a corpus from raw passage texts in order.
func CorpusFromTexts(texts []string) *models.Corpus {
	passages := make([]*models.Passage, len(texts))
	for i, t := range texts {
		passages[i] = &models.Passage{
			ID:         fileid.PassageID(LexicalCollection, "", i),
			Collection: LexicalCollection,
			Text:       t,
			Index:      i,
		}
	}
	return BuildCorpus(passages)
}
