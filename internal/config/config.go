// Package config provides configuration loading and structs for the kotae server and CLI.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Lexical   LexicalConfig   `yaml:"lexical"`
	Dense     DenseConfig     `yaml:"dense"`
	Fusion    FusionConfig    `yaml:"fusion"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds paths for the passage database and indices.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	// VectorIndexDir holds one persisted memory index file per dense collection.
	VectorIndexDir string `yaml:"vector_index_dir"`
	BleveIndexPath string `yaml:"bleve_index_path"`
}

// EmbeddingConfig selects and configures the embedder.
type EmbeddingConfig struct {
	// Provider is "onnx", "http" (OpenAI-compatible), "ollama", or "mock".
	Provider   string `yaml:"provider"`
	Dimensions int    `yaml:"dimensions"`
	CacheSize  int    `yaml:"cache_size"`

	// onnx
	ModelPath string `yaml:"model_path"`
	MaxTokens int    `yaml:"max_tokens"`

	// http, ollama
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the HTTP embedder request timeout.
func (e *EmbeddingConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutSeconds) * time.Second
}

// LexicalConfig configures the keyword path.
type LexicalConfig struct {
	// Backend is "bm25" (exact, in memory) or "bleve".
	Backend      string  `yaml:"backend"`
	KnowledgeDir string  `yaml:"knowledge_dir"`
	K1           float64 `yaml:"k1"`
	B            float64 `yaml:"b"`
	// IDF is "lucene" or "okapi".
	IDF                     string `yaml:"idf"`
	LegacyQueryTokenization bool   `yaml:"legacy_query_tokenization"`
}

// DenseConfig configures the dense path.
type DenseConfig struct {
	// IndexType is "memory" or "qdrant".
	IndexType      string             `yaml:"index_type"`
	QdrantURL      string             `yaml:"qdrant_url"`
	SimilarityTopK int                `yaml:"similarity_top_k"`
	Collections    []CollectionConfig `yaml:"collections"`
}

// CollectionConfig describes one dense sub-collection and where its source rows live.
type CollectionConfig struct {
	Name      string `yaml:"name"`
	SourceDir string `yaml:"source_dir"`
	// TextColumns form the passage text of tabular rows; empty means every column.
	TextColumns []string `yaml:"text_columns"`
	// SimilarityTopK overrides DenseConfig.SimilarityTopK when set.
	SimilarityTopK int `yaml:"similarity_top_k"`
}

// TopK returns the collection's similarity_top_k or the dense default.
func (c CollectionConfig) TopK(def int) int {
	if c.SimilarityTopK > 0 {
		return c.SimilarityTopK
	}
	return def
}

// FusionConfig configures cross-collection fusion.
type FusionConfig struct {
	MaxTopN int `yaml:"max_top_n"`
	// ScoreNormalization is "none" or "zscore".
	ScoreNormalization string `yaml:"score_normalization"`
}

// IngestConfig configures chunking of raw documents and knowledge-source files.
type IngestConfig struct {
	Marker   string `yaml:"marker"`
	MaxLen   int    `yaml:"max_len"`
	MinWords int    `yaml:"min_words"`
}

// RetrievalConfig holds query defaults.
type RetrievalConfig struct {
	DefaultTopN int    `yaml:"default_top_n"`
	MaxTopN     int    `yaml:"max_top_n"`
	DefaultMode string `yaml:"default_mode"`
	// IntentExtractor is "course_number" or "none".
	IntentExtractor string `yaml:"intent_extractor"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.VectorIndexDir = expandPath(cfg.Storage.VectorIndexDir, configDir)
	cfg.Storage.BleveIndexPath = expandPath(cfg.Storage.BleveIndexPath, configDir)
	cfg.Lexical.KnowledgeDir = expandPath(cfg.Lexical.KnowledgeDir, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Dense.Collections {
		if cfg.Dense.Collections[i].SourceDir != "" {
			cfg.Dense.Collections[i].SourceDir = expandPath(cfg.Dense.Collections[i].SourceDir, configDir)
		}
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
