// Package main is the kotae CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/evaluation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/server"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kotae/config.yaml"

// errNoPassages marks a server-side NoResultsError answer.
var errNoPassages = errors.New("no passages found")

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// mustSetup loads config and creates the logger, exiting on failure.
func mustSetup(configPath string, debug bool) (*config.Config, string, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "search":
		runSearch()
	case "ingest":
		runIngest()
	case "index":
		runIndex()
	case "eval":
		runEval()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kotae version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (per-query retrieval output, file reads, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, logger := mustSetup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", cfg.Debug || *debug),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	srv := server.NewServer(components.Engine, components.Storage, cfg, components.Metrics, logger)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: kotae search [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces. Quotes are optional.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Modes:
  • lexical  BM25 over the knowledge source (default).
  • dense    embedding search over the configured collections, fused by score.
  • hybrid   reciprocal rank fusion of both.

Examples:
  kotae search When was Carnegie Mellon founded
  kotae search --mode dense "Who teaches course 11-785?"
  kotae search --top-n 3 --output json what is the mascot
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word questions
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the question
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// parseOutputFormat maps the --output flag to a cli format.
func parseOutputFormat(s string) (cli.OutputFormat, error) {
	switch s {
	case "json":
		return cli.OutputJSON, nil
	case "text", "":
		return cli.OutputText, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = load indexes directly)")
	topN := fs.Int("top-n", 0, "number of passages (0 = configured default)")
	mode := fs.String("mode", "", "retrieval mode: lexical, dense, or hybrid (empty = configured default)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	question := buildSearchQuery(fs.Args())
	if question == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	query := &models.RetrieveQuery{Question: question, TopN: *topN, Mode: *mode}

	var response *models.RetrieveResponse
	if *serverURL != "" {
		// The server holds the SQLite and Bleve locks while running.
		response, err = retrieveViaHTTP(*serverURL, query)
	} else {
		cfg, _, logger := mustSetup(*configPath, false)
		defer logger.Sync()
		components, initErr := initializeComponents(cfg, logger)
		if initErr != nil {
			logger.Fatal("Failed to initialize", zap.Error(initErr))
		}
		defer components.Close()
		response, err = components.Engine.Retrieve(context.Background(), query)
	}
	if err != nil {
		if errors.Is(err, errNoPassages) || search.IsNoResults(err) {
			fmt.Println("No passages found; the question cannot be answered from the indexed sources.")
			return
		}
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteRetrieveResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func retrieveViaHTTP(serverURL string, query *models.RetrieveQuery) (*models.RetrieveResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+"/api/v1/retrieve", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, errNoPassages
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.RetrieveResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outDir := fs.String("out", "", "knowledge source directory to write (default: lexical.knowledge_dir)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae ingest [flags] <raw-document-directory>")
		os.Exit(1)
	}
	cfg, _, logger := mustSetup(*configPath, *debug)
	defer logger.Sync()
	out := *outDir
	if out == "" {
		out = cfg.Lexical.KnowledgeDir
	}

	idx := indexer.NewIndexer(nil, nil,
		indexer.NewChunker(cfg.Ingest.MaxLen, cfg.Ingest.MinWords, cfg.Ingest.Marker),
		indexer.WithLogger(logger))
	stats, err := idx.Ingest(context.Background(), fs.Arg(0), out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %d file(s) into %s: %d passages (%d skipped)\n", stats.Files, out, stats.Passages, stats.Skipped)
}

func runIndex() {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	only := fs.String("collection", "", "build only this collection (default: all configured)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, _, logger := mustSetup(*configPath, *debug)
	defer logger.Sync()
	ctx := context.Background()

	// Bleve builds its on-disk index on open when the corpus changed.
	if cfg.Lexical.Backend == keyword.BackendBleve {
		corpus, err := loadCorpus(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to load knowledge source", zap.Error(err))
		}
		ki, err := newKeywordIndex(ctx, cfg, corpus, logger)
		if err != nil {
			logger.Fatal("Failed to build keyword index", zap.Error(err))
		}
		_ = ki.Close()
		fmt.Printf("Lexical index built: %d passages\n", corpus.Len())
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize embedder", zap.Error(err))
	}
	defer embedder.Close()
	idx := indexer.NewIndexer(store, embedder,
		indexer.NewChunker(cfg.Ingest.MaxLen, cfg.Ingest.MinWords, cfg.Ingest.Marker),
		indexer.WithLogger(logger))

	built := 0
	for _, col := range cfg.Dense.Collections {
		if *only != "" && col.Name != *only {
			continue
		}
		if col.SourceDir == "" {
			logger.Warn("collection has no source_dir, skipping", zap.String("collection", col.Name))
			continue
		}
		vi, err := newCollectionIndex(cfg, col.Name)
		if err != nil {
			logger.Fatal("Failed to create vector index", zap.Error(err))
		}
		path := collectionIndexPath(cfg, col.Name)
		if path != "" {
			// Loading lets the rebuild remove the previous vectors by ID.
			if _, statErr := os.Stat(path); statErr == nil {
				if err := vi.Load(path); err != nil {
					logger.Warn("existing vector index unreadable, rebuilding", zap.String("path", path), zap.Error(err))
				}
			}
		} else if d, ok := vi.(dropper); ok {
			if err := d.Drop(ctx); err != nil {
				logger.Fatal("Failed to drop collection", zap.String("collection", col.Name), zap.Error(err))
			}
		}
		n, err := idx.BuildCollection(ctx, indexer.CollectionSource{
			Name:        col.Name,
			SourceDir:   col.SourceDir,
			TextColumns: col.TextColumns,
		}, vi, path)
		_ = vi.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Indexing collection %s failed: %v\n", col.Name, err)
			os.Exit(1)
		}
		fmt.Printf("Indexed %d passage(s) into collection %s\n", n, col.Name)
		built++
	}
	if *only != "" && built == 0 {
		fmt.Fprintf(os.Stderr, "Collection %q is not configured or has no source_dir\n", *only)
		os.Exit(1)
	}
}

// dropper is a server-side vector index that can discard a whole collection.
type dropper interface {
	Drop(ctx context.Context) error
}

func runEval() {
	fs := flag.NewFlagSet("eval", flag.ExitOnError)
	normalize := fs.Bool("normalize", true, "normalize answers (lowercase, strip punctuation and articles) before scoring")
	verbose := fs.Bool("verbose", false, "print per-item scores")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kotae eval [flags] <predictions.jsonl>")
		fmt.Println(`Each line: {"question": "...", "prediction": "...", "references": ["...", ...]}`)
		os.Exit(1)
	}
	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	norm := evaluation.Normalizer(evaluation.Identity)
	if *normalize {
		norm = evaluation.NormalizeAnswer
	}
	report, err := evaluation.EvaluateFile(fs.Arg(0), norm)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Evaluation failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteEvalReport(os.Stdout, report, format, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// statusResponse is the shape of GET /api/v1/status response.
type statusResponse struct {
	LexicalPassages int                       `json:"lexical_passages"`
	DenseEnabled    bool                      `json:"dense_enabled"`
	Collections     []storage.CollectionStats `json:"collections,omitempty"`
	DiskUsageBytes  *int64                    `json:"disk_usage_bytes,omitempty"`
	Config          map[string]interface{}    `json:"config,omitempty"`
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = load indexes directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := parseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var status statusResponse
	if *serverURL != "" {
		res, err := statusViaHTTP(*serverURL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
		status = *res
	} else {
		cfg, _, logger := mustSetup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		status = statusResponse{
			LexicalPassages: components.Engine.Lexical().CorpusSize(),
			DenseEnabled:    components.Engine.DenseEnabled(),
			Config: map[string]interface{}{
				"lexical_backend":   cfg.Lexical.Backend,
				"knowledge_dir":     cfg.Lexical.KnowledgeDir,
				"vector_index_type": cfg.Dense.IndexType,
				"database_path":     cfg.Storage.DatabasePath,
			},
		}
		if components.Storage != nil {
			status.Collections, err = components.Storage.Collections(context.Background())
			if err != nil {
				fmt.Fprintf(os.Stderr, "List collections failed: %v\n", err)
				os.Exit(1)
			}
		}
		diskBytes, err := storage.DiskUsageBytes(cfg.Storage.DatabasePath, cfg.Storage.VectorIndexDir, cfg.Storage.BleveIndexPath)
		if err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}
	writeStatus(os.Stdout, &status, format)
}

func writeStatus(w io.Writer, status *statusResponse, format cli.OutputFormat) {
	if format == cli.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(status)
		return
	}
	fmt.Fprintf(w, "lexical_passages:   %d   # deduplicated knowledge-source passages\n", status.LexicalPassages)
	fmt.Fprintf(w, "dense_enabled:      %t\n", status.DenseEnabled)
	if status.DiskUsageBytes != nil {
		fmt.Fprintf(w, "disk_usage_bytes:   %d   # database + indices on disk\n", *status.DiskUsageBytes)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "# dense collections")
	cli.WriteCollections(w, status.Collections)
	if len(status.Config) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "# configuration")
		for _, k := range []string{"lexical_backend", "knowledge_dir", "vector_index_type", "database_path"} {
			if v, ok := status.Config[k]; ok && v != "" {
				fmt.Fprintf(w, "%-19s %v\n", k+":", v)
			}
		}
	}
}

func statusViaHTTP(serverURL string) (*statusResponse, error) {
	resp, err := http.Get(serverURL + "/api/v1/status")
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var s statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &s, nil
}

func printUsage() {
	fmt.Println(`kotae - passage retrieval for question answering

Usage:
  kotae ingest [flags] <dir>        Convert raw documents into knowledge-source passages
  kotae index [flags]               Build the configured dense collections
  kotae search [flags] <question>   Retrieve passages for a question
  kotae server [flags]              Start the HTTP server
  kotae eval [flags] <file>         Score predictions (exact match, F1, recall)
  kotae status [flags]              Show index status
  kotae version                     Show version
  kotae help                        Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/kotae/config.yaml, or ./config.yaml if present)
  --debug            Enable debug logging (server, ingest, index)

Search Flags:
  --server string    Server URL (default: http://localhost:8080). Use --server "" to load indexes directly.
  --top-n int        Number of passages (default from config)
  --mode string      lexical, dense, or hybrid (default from config)
  --output string    text or json

Ingest Flags:
  --out string       Output directory (default: lexical.knowledge_dir)

Index Flags:
  --collection string  Build a single collection

Eval Flags:
  --normalize        Normalize answers before scoring (default: true)
  --verbose          Print per-item scores
  --output string    text or json

Examples:
  kotae ingest ./raw_docs
  kotae index
  kotae server
  kotae search When was Carnegie Mellon founded
  kotae search --mode hybrid --top-n 3 "Who teaches course 11-785?"
  kotae eval --verbose predictions.jsonl
  kotae status --output json`)
}
