package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type embeddingData struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

// embeddingsHandler answers OpenAI-style /v1/embeddings requests with one-hot vectors scaled
// by 2, so normalization is observable.
func embeddingsHandler(t *testing.T, dims int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
			return
		}
		if req.Model != defaultOpenAIModel {
			t.Errorf("model = %q", req.Model)
		}
		data := make([]embeddingData, len(req.Input))
		for i := range req.Input {
			v := make([]float32, dims)
			v[i%dims] = 2
			data[i] = embeddingData{Object: "embedding", Index: i, Embedding: v}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": len(req.Input), "total_tokens": len(req.Input)},
		})
	}
}

func TestHTTPEmbedder_EmbedBatch(t *testing.T) {
	srv := httptest.NewServer(embeddingsHandler(t, 4))
	defer srv.Close()

	e, err := NewHTTPEmbedder(HTTPOptions{Endpoint: srv.URL + "/v1/", APIKey: "secret", Dimensions: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 || vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not in input order or not normalized: %v", vecs)
	}
	one, err := e.Embed(context.Background(), "a")
	if err != nil || one[0] != 1 {
		t.Errorf("Embed = %v, %v", one, err)
	}
	if vecs, err := e.EmbedBatch(context.Background(), nil); err != nil || vecs != nil {
		t.Errorf("empty batch = %v, %v", vecs, err)
	}
}

func TestHTTPEmbedder_retriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	ok := embeddingsHandler(t, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		ok(w, r)
	}))
	defer srv.Close()

	e, _ := NewHTTPEmbedder(HTTPOptions{
		Endpoint: srv.URL + "/v1", APIKey: "secret", Dimensions: 2,
		MaxRetries: 3, Backoff: time.Millisecond,
	})
	if _, err := e.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 calls, got %d", calls.Load())
	}
}

func TestHTTPEmbedder_badRequestNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad model", http.StatusBadRequest)
	}))
	defer srv.Close()

	e, _ := NewHTTPEmbedder(HTTPOptions{Endpoint: srv.URL, Dimensions: 2, MaxRetries: 3, Backoff: time.Millisecond})
	_, err := e.Embed(context.Background(), "x")
	if !errors.Is(err, errBadRequest) {
		t.Fatalf("expected rejected request, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("4xx should not be retried, calls=%d", calls.Load())
	}
}

func TestHTTPEmbedder_circuitOpens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e, _ := NewHTTPEmbedder(HTTPOptions{
		Endpoint: srv.URL, Dimensions: 2, MaxRetries: 0,
		BreakerMinRequests: 2, BreakerFailureRatio: 0.5, BreakerOpenTimeout: time.Minute,
	})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := e.Embed(ctx, "x"); err == nil || errors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d: expected endpoint error, got %v", i, err)
		}
	}
	if _, err := e.Embed(ctx, "x"); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestHTTPEmbedder_dimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(embeddingsHandler(t, 3))
	defer srv.Close()
	e, _ := NewHTTPEmbedder(HTTPOptions{Endpoint: srv.URL + "/v1", APIKey: "secret", Dimensions: 4})
	if _, err := e.Embed(context.Background(), "x"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestNewHTTPEmbedder_requiresDimensions(t *testing.T) {
	if _, err := NewHTTPEmbedder(HTTPOptions{}); err == nil {
		t.Error("expected error for zero dimensions")
	}
}

func TestNewHTTPEmbedder_apis(t *testing.T) {
	e, err := NewHTTPEmbedder(HTTPOptions{API: APIOllama, Dimensions: 768})
	if err != nil {
		t.Fatalf("ollama: %v", err)
	}
	if e.opts.Endpoint != defaultOllamaEndpoint || e.opts.Model != defaultOllamaModel || e.Dimensions() != 768 {
		t.Errorf("ollama defaults = %+v", e.opts)
	}
	if _, err := NewHTTPEmbedder(HTTPOptions{API: "gemini", Dimensions: 8}); err == nil {
		t.Error("expected error for unsupported api")
	}
}
