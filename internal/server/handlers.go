package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/evaluation"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
)

// noResultsResponse lets a reader model answer "I don't know" instead of failing.
type noResultsResponse struct {
	Error    string   `json:"error"`
	Question string   `json:"question"`
	Passages []string `json:"passages"`
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var query models.RetrieveQuery
	if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("retrieve request",
		zap.String("question", query.Question), zap.Int("top_n", query.TopN), zap.String("mode", query.Mode))
	response, err := s.engine.Retrieve(r.Context(), &query)
	switch {
	case err == nil:
		s.respondJSON(w, http.StatusOK, response)
	case errors.Is(err, models.ErrInvalidQuery):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case search.IsNoResults(err):
		s.respondJSON(w, http.StatusNotFound, noResultsResponse{
			Error:    err.Error(),
			Question: query.Question,
			Passages: []string{},
		})
	case errors.Is(err, search.ErrDenseUnavailable):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("retrieval failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

type evaluateRequest struct {
	Items []evaluation.Item `json:"items"`
	// Normalize applies answer normalization before scoring. Defaults to true.
	Normalize *bool `json:"normalize,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	norm := evaluation.Normalizer(evaluation.NormalizeAnswer)
	if req.Normalize != nil && !*req.Normalize {
		norm = evaluation.Identity
	}
	report, err := evaluation.Evaluate(req.Items, norm)
	if err != nil {
		if errors.Is(err, evaluation.ErrNoReferences) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("evaluation failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := map[string]interface{}{
		"lexical_passages": s.engine.Lexical().CorpusSize(),
		"dense_enabled":    s.engine.DenseEnabled(),
	}
	if s.storage != nil {
		collections, err := s.storage.Collections(ctx)
		if err != nil {
			s.logger.Error("status: list collections failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if collections == nil {
			collections = []storage.CollectionStats{}
		}
		resp["collections"] = collections
	}

	if s.config != nil {
		cfg := s.config
		resp["config"] = map[string]interface{}{
			"lexical_backend":      cfg.Lexical.Backend,
			"knowledge_dir":        cfg.Lexical.KnowledgeDir,
			"embedding_provider":   cfg.Embedding.Provider,
			"embedding_dimensions": cfg.Embedding.Dimensions,
			"vector_index_type":    cfg.Dense.IndexType,
			"default_mode":         cfg.Retrieval.DefaultMode,
			"default_top_n":        cfg.Retrieval.DefaultTopN,
			"max_top_n":            cfg.Retrieval.MaxTopN,
			"database_path":        cfg.Storage.DatabasePath,
		}
		diskBytes, err := storage.DiskUsageBytes(
			cfg.Storage.DatabasePath,
			cfg.Storage.VectorIndexDir,
			cfg.Storage.BleveIndexPath,
		)
		if err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
