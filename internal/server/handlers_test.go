package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/embedding"
	"github.com/hyperjump/kotae/internal/evaluation"
	"github.com/hyperjump/kotae/internal/indexer"
	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/metrics"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/search"
	"github.com/hyperjump/kotae/internal/storage"
	"github.com/hyperjump/kotae/internal/vector"
)

var testDefaults = models.QueryDefaults{TopN: 1, MaxTopN: 5, Mode: models.ModeLexical}

func testLexical() *search.LexicalRetriever {
	corpus := indexer.CorpusFromTexts([]string{
		"CMU was founded in 1900.",
		"The mascot of CMU is a Scottish Terrier.",
	})
	return search.NewLexicalRetriever(keyword.NewBM25Index(corpus, keyword.DefaultBM25Options()), corpus)
}

// emptyDense returns a dense path whose only collection has no passages.
func emptyDense(t *testing.T) (*search.FusionRetriever, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	idx, err := vector.NewMemoryIndex(16)
	if err != nil {
		t.Fatal(err)
	}
	dense, err := search.NewDenseRetriever("course", idx, store, embedding.NewMockEmbedder(16), 3)
	if err != nil {
		t.Fatal(err)
	}
	fusion, err := search.NewFusionRetriever(3, []search.ScoredRetriever{dense})
	if err != nil {
		t.Fatal(err)
	}
	return fusion, store
}

func testServer(t *testing.T, withDense bool) (*Server, *metrics.RetrievalMetrics) {
	t.Helper()
	m := metrics.NewRetrievalMetrics()
	var (
		fusion *search.FusionRetriever
		store  storage.Storage
	)
	if withDense {
		fusion, store = emptyDense(t)
	}
	engine := search.NewEngine(testLexical(), fusion, testDefaults, search.WithMetrics(m))
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.DatabasePath = ""
	cfg.Storage.VectorIndexDir = ""
	cfg.Storage.BleveIndexPath = ""
	return NewServer(engine, store, cfg, m, nil), m
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandleRetrieve(t *testing.T) {
	s, m := testServer(t, false)
	h := s.Router()

	rec := post(t, h, "/api/v1/retrieve", `{"question": "When was CMU founded?"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp models.RetrieveResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Passages) != 1 || resp.Passages[0] != "CMU was founded in 1900." || resp.Mode != models.ModeLexical {
		t.Errorf("unexpected response %+v", resp)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "kotae_http_requests_total"); err != nil || n != 1 {
		t.Errorf("http request series = %d, err %v", n, err)
	}
}

func TestHandleRetrieve_errors(t *testing.T) {
	tests := []struct {
		name      string
		withDense bool
		body      string
		want      int
	}{
		{"malformed body", false, `{"question":`, http.StatusBadRequest},
		{"empty question", false, `{"question": "  "}`, http.StatusBadRequest},
		{"unknown mode", false, `{"question": "x", "mode": "sparse"}`, http.StatusBadRequest},
		{"dense not configured", false, `{"question": "x", "mode": "dense"}`, http.StatusServiceUnavailable},
		{"dense without passages", true, `{"question": "x", "mode": "dense"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := testServer(t, tt.withDense)
			rec := post(t, s.Router(), "/api/v1/retrieve", tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestHandleRetrieve_noResultsBody(t *testing.T) {
	s, _ := testServer(t, true)
	rec := post(t, s.Router(), "/api/v1/retrieve", `{"question": "Who teaches 11-785?", "mode": "dense"}`)
	var body noResultsResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Question != "Who teaches 11-785?" || body.Passages == nil || len(body.Passages) != 0 || body.Error == "" {
		t.Errorf("unexpected body %+v", body)
	}
}

func TestHandleRetrieve_hybridFallsBackToLexical(t *testing.T) {
	s, _ := testServer(t, true)
	rec := post(t, s.Router(), "/api/v1/retrieve", `{"question": "What is the mascot?", "mode": "hybrid"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp models.RetrieveResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if len(resp.Passages) != 1 || !strings.Contains(resp.Passages[0], "Scottish Terrier") {
		t.Errorf("passages = %q", resp.Passages)
	}
}

func TestHandleEvaluate(t *testing.T) {
	s, _ := testServer(t, false)
	h := s.Router()

	body, _ := json.Marshal(evaluateRequest{Items: []evaluation.Item{
		{Prediction: "The Scottish Terrier", References: []string{"scottish terrier"}},
		{Prediction: "1900", References: []string{"in 1900", "1900"}},
	}})
	rec := post(t, h, "/api/v1/evaluate", string(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var report evaluation.Report
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatal(err)
	}
	if len(report.Items) != 2 || report.ExactMatch != 1 || report.F1 != 1 {
		t.Errorf("report = %+v", report)
	}

	rec = post(t, h, "/api/v1/evaluate", `{"items": [{"prediction": "The Scottish Terrier", "references": ["scottish terrier"]}], "normalize": false}`)
	_ = json.NewDecoder(rec.Body).Decode(&report)
	if report.ExactMatch != 0 {
		t.Errorf("unnormalized exact match = %v, want 0", report.ExactMatch)
	}

	rec = post(t, h, "/api/v1/evaluate", `{"items": [{"prediction": "x", "references": []}]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing references: status = %d", rec.Code)
	}
}

func TestHandleStatusAndHealth(t *testing.T) {
	s, _ := testServer(t, true)
	h := s.Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var status map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status["lexical_passages"] != float64(2) || status["dense_enabled"] != true {
		t.Errorf("status = %+v", status)
	}
	if _, ok := status["collections"]; !ok {
		t.Error("status should list collections")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte(`"ok"`)) {
		t.Errorf("health = %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "kotae_http_requests_total") {
		t.Errorf("metrics endpoint did not expose request counter: %d", rec.Code)
	}
}
