package indexer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/extract"
	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
	"github.com/hyperjump/kotae/pkg/utils"
)

// embedBatchSize bounds the number of passages embedded per call.
const embedBatchSize = 64

// CollectionExtensions lists the source formats a dense collection is built from.
var CollectionExtensions = []string{".csv", ".xlsx", ".jsonl", ".txt"}

// Indexer builds dense collections into the passage store and vector indexes, and turns raw
// documents into knowledge-source files.
type Indexer struct {
	storage   storage.Storage
	embedder  embedding.Embedder
	chunker   *Chunker
	extractor *extract.Extractor
	logger    *zap.Logger
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file read, collection built, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithExtractor sets the raw-document extractor used by Ingest.
func WithExtractor(e *extract.Extractor) IndexerOption {
	return func(idx *Indexer) { idx.extractor = e }
}

// NewIndexer creates an indexer. store and embedder may be nil when only Ingest is used.
func NewIndexer(store storage.Storage, embedder embedding.Embedder, chunker *Chunker, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		storage:   store,
		embedder:  embedder,
		chunker:   chunker,
		extractor: extract.NewExtractor(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = utils.OrNop(idx.logger)
	return idx
}

// CollectionSource describes where the rows of one dense collection come from.
type CollectionSource struct {
	Name      string
	SourceDir string
	// TextColumns form the text of tabular rows; empty means every column.
	TextColumns []string
}

// LoadCollection reads every supported file under src.SourceDir in lexical path order and
// returns its passages. Tabular rows become one passage each; .txt files are chunked.
func (idx *Indexer) LoadCollection(src CollectionSource) ([]*models.Passage, error) {
	var passages []*models.Passage
	err := filepath.WalkDir(src.SourceDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") || !extensionAllowed(filepath.Ext(path), CollectionExtensions) {
			return nil
		}
		rel, err := filepath.Rel(src.SourceDir, path)
		if err != nil {
			rel = d.Name()
		}
		var got []*models.Passage
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv", ".xlsx":
			table, err := extract.ReadTable(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			got = RowPassages(src.Name, rel, table, src.TextColumns)
		case ".jsonl":
			got, err = readJSONLPassages(src.Name, rel, path)
			if err != nil {
				return err
			}
		default:
			content, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			got = idx.chunker.Chunk(src.Name, rel, string(content))
		}
		idx.logger.Debug("indexer read collection file",
			zap.String("collection", src.Name), zap.String("path", path), zap.Int("passages", len(got)))
		passages = append(passages, got...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", src.Name, err)
	}
	return passages, nil
}

// RowPassages turns table rows into passages. textColumns form the text as
// "Column: value" lines; other columns become metadata with snake_case keys in column order.
// Empty cells are skipped. Rows without text are dropped.
func RowPassages(collection, source string, table *extract.Table, textColumns []string) []*models.Passage {
	isText := make(map[string]bool, len(textColumns))
	for _, c := range textColumns {
		isText[strings.ToLower(strings.TrimSpace(c))] = true
	}
	var out []*models.Passage
	for rowNum, row := range table.Rows {
		var lines []string
		var meta models.Metadata
		for i, col := range table.Columns {
			value := row[i]
			if value == "" {
				continue
			}
			if len(isText) == 0 || isText[strings.ToLower(col)] {
				lines = append(lines, col+": "+value)
				continue
			}
			meta = append(meta, models.Field{Key: utils.SnakeCase(col), Value: value})
		}
		if len(lines) == 0 {
			continue
		}
		out = append(out, &models.Passage{
			ID:         fileid.PassageID(collection, source, rowNum),
			Collection: collection,
			Text:       strings.Join(lines, "\n"),
			Metadata:   meta,
			Source:     source,
			Index:      rowNum,
		})
	}
	return out
}

type jsonlRow struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

func readJSONLPassages(collection, source, path string) ([]*models.Passage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var out []*models.Passage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var row jsonlRow
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		text := Preprocess(row.Text)
		if text == "" {
			continue
		}
		keys := make([]string, 0, len(row.Metadata))
		for k := range row.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var meta models.Metadata
		for _, k := range keys {
			if row.Metadata[k] == nil {
				continue
			}
			meta = append(meta, models.Field{Key: utils.SnakeCase(k), Value: fmt.Sprint(row.Metadata[k])})
		}
		out = append(out, &models.Passage{
			ID:         fileid.PassageID(collection, source, line-1),
			Collection: collection,
			Text:       text,
			Metadata:   meta,
			Source:     source,
			Index:      line - 1,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// BuildCollection replaces collection src.Name in the passage store and vector index with
// the passages loaded from src.SourceDir, embedding each rendered passage. Metadata becomes
// the vector payload so queries can filter on it. When indexPath is set the index is saved
// there. Returns the number of passages indexed.
func (idx *Indexer) BuildCollection(ctx context.Context, src CollectionSource, index vector.VectorIndex, indexPath string) (int, error) {
	passages, err := idx.LoadCollection(src)
	if err != nil {
		return 0, err
	}
	if err := idx.dropCollection(ctx, src.Name, index); err != nil {
		return 0, err
	}
	if err := idx.storage.BatchCreatePassages(ctx, passages); err != nil {
		return 0, fmt.Errorf("failed to store passages: %w", err)
	}
	for start := 0; start < len(passages); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(passages) {
			end = len(passages)
		}
		batch := passages[start:end]
		texts := make([]string, len(batch))
		ids := make([]string, len(batch))
		payloads := make([]map[string]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Render()
			ids[i] = p.ID
			payloads[i] = p.Metadata.Map()
		}
		vectors, err := idx.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return 0, fmt.Errorf("failed to generate embeddings: %w", err)
		}
		if err := index.Add(ctx, ids, vectors, payloads); err != nil {
			return 0, fmt.Errorf("failed to index vectors: %w", err)
		}
	}
	if indexPath != "" {
		if err := os.MkdirAll(filepath.Dir(indexPath), 0755); err != nil {
			return 0, fmt.Errorf("create index directory: %w", err)
		}
		if err := index.Save(indexPath); err != nil {
			return 0, fmt.Errorf("failed to save vector index: %w", err)
		}
	}
	idx.logger.Info("collection built", zap.String("collection", src.Name), zap.Int("passages", len(passages)))
	return len(passages), nil
}

// dropCollection removes the previously stored passages of name from index and the store.
func (idx *Indexer) dropCollection(ctx context.Context, name string, index vector.VectorIndex) error {
	const page = 1000
	for offset := 0; ; offset += page {
		old, err := idx.storage.ListPassages(ctx, name, offset, page)
		if err != nil {
			return fmt.Errorf("failed to list passages: %w", err)
		}
		if len(old) == 0 {
			break
		}
		ids := make([]string, len(old))
		for i, p := range old {
			ids[i] = p.ID
		}
		if err := index.Remove(ctx, ids); err != nil {
			return fmt.Errorf("failed to delete from vector index: %w", err)
		}
	}
	if err := idx.storage.DeleteCollection(ctx, name); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

// IngestStats summarizes an Ingest run.
type IngestStats struct {
	Files    int
	Skipped  int
	Passages int
}

// Ingest converts raw documents under srcDir into knowledge-source files in outDir. Each
// document's text is split into paragraphs, chunked, filtered by minimum length, and written
// as one file of passages joined by the boundary marker.
func (idx *Indexer) Ingest(ctx context.Context, srcDir, outDir string) (IngestStats, error) {
	var stats IngestStats
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return stats, fmt.Errorf("create output directory: %w", err)
	}
	err := filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if !idx.extractor.Supported(path) {
			stats.Skipped++
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			rel = d.Name()
		}
		text, err := idx.extractor.Extract(path)
		if err != nil {
			return fmt.Errorf("extract %s: %w", path, err)
		}
		marker := idx.chunker.marker
		join := marker
		if join == "" {
			join = " "
		}
		passages := idx.chunker.Chunk(LexicalCollection, rel, strings.Join(extract.Paragraphs(text), join))
		if len(passages) == 0 {
			idx.logger.Debug("indexer skipping empty document", zap.String("path", path))
			stats.Skipped++
			return nil
		}
		texts := make([]string, len(passages))
		for i, p := range passages {
			texts[i] = p.Text
		}
		out := filepath.Join(outDir, strings.ReplaceAll(filepath.ToSlash(rel), "/", "_")+".txt")
		sep := "\n" + marker + "\n"
		if marker == "" {
			sep = "\n\n"
		}
		if err := os.WriteFile(out, []byte(strings.Join(texts, sep)+"\n"), 0644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		stats.Files++
		stats.Passages += len(passages)
		return nil
	})
	if err != nil {
		return stats, err
	}
	idx.logger.Info("ingest complete",
		zap.Int("files", stats.Files), zap.Int("skipped", stats.Skipped), zap.Int("passages", stats.Passages))
	return stats, nil
}

func extensionAllowed(ext string, allowed []string) bool {
	extNorm := strings.ToLower(strings.TrimPrefix(ext, "."))
	for _, a := range allowed {
		if strings.ToLower(strings.TrimPrefix(a, ".")) == extNorm {
			return true
		}
	}
	return false
}
