package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	ollamaEmbed "github.com/cloudwego/eino-ext/components/embedding/ollama"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	einoEmbed "github.com/cloudwego/eino/components/embedding"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/pkg/utils"
)

// ErrCircuitOpen is returned while the embedding endpoint's circuit breaker is open.
var ErrCircuitOpen = errors.New("embedding endpoint unavailable: circuit open")

// Remote embedding APIs.
const (
	APIOpenAI = "openai"
	APIOllama = "ollama"
)

const (
	defaultOpenAIEndpoint = "https://api.openai.com/v1"
	defaultOpenAIModel    = "text-embedding-3-small"
	defaultOllamaEndpoint = "http://localhost:11434"
	defaultOllamaModel    = "nomic-embed-text"
)

// HTTPOptions configures a remote embeddings client.
type HTTPOptions struct {
	// API is "openai" (any OpenAI-compatible /embeddings endpoint) or "ollama".
	API        string
	Endpoint   string // base URL, e.g. http://localhost:8000/v1
	Model      string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
	// Backoff is the first retry delay; it doubles up to 8x.
	Backoff time.Duration

	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenTimeout  time.Duration
}

func (o HTTPOptions) withDefaults() HTTPOptions {
	if o.API == "" {
		o.API = APIOpenAI
	}
	if o.Endpoint == "" {
		o.Endpoint = defaultOpenAIEndpoint
		if o.API == APIOllama {
			o.Endpoint = defaultOllamaEndpoint
		}
	}
	o.Endpoint = strings.TrimRight(o.Endpoint, "/")
	if o.Model == "" {
		o.Model = defaultOpenAIModel
		if o.API == APIOllama {
			o.Model = defaultOllamaModel
		}
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = 200 * time.Millisecond
	}
	if o.BreakerMinRequests == 0 {
		o.BreakerMinRequests = 5
	}
	if o.BreakerFailureRatio <= 0 || o.BreakerFailureRatio > 1 {
		o.BreakerFailureRatio = 0.5
	}
	if o.BreakerOpenTimeout <= 0 {
		o.BreakerOpenTimeout = 30 * time.Second
	}
	return o
}

// HTTPEmbedder calls a remote embedding model through eino's embedding components. Requests
// go through a circuit breaker and transient failures (network errors, 429, 5xx) are retried
// with backoff.
type HTTPEmbedder struct {
	opts     HTTPOptions
	client   *http.Client
	embedder einoEmbed.Embedder
	breaker  *gobreaker.CircuitBreaker[[][]float32]
	logger   *zap.Logger
}

// HTTPOption configures an HTTPEmbedder.
type HTTPOption func(*HTTPEmbedder)

// WithLogger sets a logger for retries and breaker state changes.
func WithLogger(l *zap.Logger) HTTPOption {
	return func(e *HTTPEmbedder) { e.logger = l }
}

// NewHTTPEmbedder creates a remote embedder. Dimensions must match the model output.
func NewHTTPEmbedder(opts HTTPOptions, options ...HTTPOption) (*HTTPEmbedder, error) {
	opts = opts.withDefaults()
	if opts.Dimensions <= 0 {
		return nil, fmt.Errorf("http embedder: dimensions must be positive, got %d", opts.Dimensions)
	}
	e := &HTTPEmbedder{
		opts: opts,
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: statusTransport{base: http.DefaultTransport},
		},
	}
	for _, o := range options {
		o(e)
	}
	e.logger = utils.OrNop(e.logger)

	ctx := context.Background()
	var err error
	switch opts.API {
	case APIOpenAI:
		e.embedder, err = openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
			BaseURL:    opts.Endpoint,
			APIKey:     opts.APIKey,
			Model:      opts.Model,
			HTTPClient: e.client,
		})
	case APIOllama:
		e.embedder, err = ollamaEmbed.NewEmbedder(ctx, &ollamaEmbed.EmbeddingConfig{
			BaseURL: opts.Endpoint,
			Model:   opts.Model,
		})
	default:
		return nil, fmt.Errorf("http embedder: unsupported api %q (supported: openai, ollama)", opts.API)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s embedder: %w", opts.API, err)
	}

	e.breaker = gobreaker.NewCircuitBreaker[[][]float32](gobreaker.Settings{
		Name:        "embedding:" + opts.Model,
		MaxRequests: 1,
		Timeout:     opts.BreakerOpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < opts.BreakerMinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= opts.BreakerFailureRatio
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellations and bad input say nothing about endpoint health.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, errBadRequest)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("embedding circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return e, nil
}

var errBadRequest = errors.New("embedding request rejected")

type statusKey struct{}

// endpointStatus holds the last HTTP status code the endpoint answered one call with.
type endpointStatus struct {
	code atomic.Int32
}

// statusTransport records response status codes on the endpointStatus carried by the
// request context, so failed calls can be classified after the client library returns.
type statusTransport struct {
	base http.RoundTripper
}

func (t statusTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(r)
	if err != nil {
		return nil, err
	}
	if s, ok := r.Context().Value(statusKey{}).(*endpointStatus); ok {
		s.code.Store(int32(resp.StatusCode))
	}
	return resp, nil
}

// Embed returns the embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in one request. Vectors are L2-normalized.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.breaker.Execute(func() ([][]float32, error) {
		return e.requestWithRetry(ctx, texts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return nil, err
	}
	return vecs, nil
}

func (e *HTTPEmbedder) requestWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := e.opts.Backoff
	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			e.logger.Debug("retrying embedding request",
				zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(lastErr))
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			if backoff < 8*e.opts.Backoff {
				backoff *= 2
			}
		}
		vecs, retryable, err := e.request(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (e *HTTPEmbedder) request(ctx context.Context, texts []string) (vecs [][]float32, retryable bool, err error) {
	status := &endpointStatus{}
	raw, err := e.embedder.EmbedStrings(context.WithValue(ctx, statusKey{}, status), texts)
	if err != nil {
		code := int(status.code.Load())
		switch {
		case code == 0:
			// No response from our transport: a network error, or a client that bypasses it.
			return nil, true, fmt.Errorf("embeddings request: %w", err)
		case code == http.StatusTooManyRequests || code >= 500:
			return nil, true, fmt.Errorf("embeddings endpoint returned %d: %w", code, err)
		case code >= 300:
			return nil, false, fmt.Errorf("%w: status %d: %v", errBadRequest, code, err)
		default:
			return nil, false, fmt.Errorf("decode embeddings response: %w", err)
		}
	}
	if len(raw) != len(texts) {
		return nil, false, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(raw), len(texts))
	}
	vecs = make([][]float32, len(raw))
	for i, r := range raw {
		if len(r) != e.opts.Dimensions {
			return nil, false, fmt.Errorf("embedding has %d dimensions, want %d", len(r), e.opts.Dimensions)
		}
		v := make([]float32, len(r))
		for j, x := range r {
			v[j] = float32(x)
		}
		utils.NormalizeL2(v)
		vecs[i] = v
	}
	return vecs, false, nil
}

// Dimensions returns the embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.opts.Dimensions
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
