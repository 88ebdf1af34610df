package config

// DefaultCollections mirrors the four category collections the dense path fuses.
var DefaultCollections = []string{"course", "paper", "faculty", "other"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/kotae/data/db/passages.db"
	}
	if cfg.Storage.VectorIndexDir == "" {
		cfg.Storage.VectorIndexDir = "/usr/local/var/kotae/data/indices/vector"
	}
	if cfg.Storage.BleveIndexPath == "" {
		cfg.Storage.BleveIndexPath = "/usr/local/var/kotae/data/indices/bleve"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/kotae/data/models/bge-small-en-v1.5.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.TimeoutSeconds == 0 {
		cfg.Embedding.TimeoutSeconds = 30
	}
	if cfg.Embedding.MaxRetries == 0 {
		cfg.Embedding.MaxRetries = 3
	}
	if cfg.Lexical.Backend == "" {
		cfg.Lexical.Backend = "bm25"
	}
	if cfg.Lexical.KnowledgeDir == "" {
		cfg.Lexical.KnowledgeDir = "/usr/local/var/kotae/data/knowledge_source"
	}
	if cfg.Lexical.K1 == 0 {
		cfg.Lexical.K1 = 1.5
	}
	if cfg.Lexical.B == 0 {
		cfg.Lexical.B = 0.75
	}
	if cfg.Lexical.IDF == "" {
		cfg.Lexical.IDF = "lucene"
	}
	if cfg.Dense.IndexType == "" {
		cfg.Dense.IndexType = "memory"
	}
	if cfg.Dense.QdrantURL == "" {
		cfg.Dense.QdrantURL = "http://localhost:6333"
	}
	if cfg.Dense.SimilarityTopK == 0 {
		cfg.Dense.SimilarityTopK = 5
	}
	if cfg.Dense.Collections == nil {
		for _, name := range DefaultCollections {
			cfg.Dense.Collections = append(cfg.Dense.Collections, CollectionConfig{Name: name})
		}
	}
	if cfg.Fusion.MaxTopN == 0 {
		cfg.Fusion.MaxTopN = 5
	}
	if cfg.Fusion.ScoreNormalization == "" {
		cfg.Fusion.ScoreNormalization = "none"
	}
	if cfg.Ingest.Marker == "" {
		cfg.Ingest.Marker = "<sep>"
	}
	if cfg.Ingest.MaxLen == 0 {
		cfg.Ingest.MaxLen = 100
	}
	if cfg.Ingest.MinWords == 0 {
		cfg.Ingest.MinWords = 3
	}
	if cfg.Retrieval.DefaultTopN == 0 {
		cfg.Retrieval.DefaultTopN = 5
	}
	if cfg.Retrieval.MaxTopN == 0 {
		cfg.Retrieval.MaxTopN = 10
	}
	if cfg.Retrieval.DefaultMode == "" {
		cfg.Retrieval.DefaultMode = "lexical"
	}
	if cfg.Retrieval.IntentExtractor == "" {
		cfg.Retrieval.IntentExtractor = "course_number"
	}
}
