package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// payloadIDKey holds the passage ID in each point's payload; point IDs must be UUIDs.
const payloadIDKey = "passage_id"

// pointNamespace derives stable Qdrant point IDs from passage IDs.
var pointNamespace = uuid.MustParse("6f1c2a8e-1b7e-4c44-9d0e-5b3f0c7a9e21")

// QdrantIndex is a VectorIndex backed by one Qdrant collection over the REST API.
// Persistence belongs to the server, so Save and Load are no-ops.
type QdrantIndex struct {
	baseURL    string
	collection string
	dimensions int
	httpClient *http.Client

	ensureMu sync.Mutex
	ensured  bool
}

// NewQdrantIndex returns a client for collection at baseURL.
func NewQdrantIndex(baseURL, collection string, dimensions int) (*QdrantIndex, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("qdrant collection is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &QdrantIndex{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Type returns the index type identifier.
func (q *QdrantIndex) Type() string {
	return string(IndexTypeQdrant)
}

// PointID maps a passage ID to its Qdrant point ID.
func PointID(id string) string {
	return uuid.NewSHA1(pointNamespace, []byte(id)).String()
}

type qdrantPoint struct {
	ID      string            `json:"id"`
	Vector  []float32         `json:"vector"`
	Payload map[string]string `json:"payload"`
}

// Add upserts points, creating the collection on first use.
func (q *QdrantIndex) Add(ctx context.Context, ids []string, vectors [][]float32, payloads []map[string]string) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if payloads != nil && len(payloads) != len(ids) {
		return fmt.Errorf("ids and payloads length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}
	if err := q.ensureCollection(ctx); err != nil {
		return err
	}
	points := make([]qdrantPoint, len(ids))
	for i, id := range ids {
		if len(vectors[i]) != q.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), q.dimensions)
		}
		payload := map[string]string{payloadIDKey: id}
		if payloads != nil {
			for k, v := range payloads[i] {
				if k != payloadIDKey {
					payload[k] = v
				}
			}
		}
		points[i] = qdrantPoint{ID: PointID(id), Vector: vectors[i], Payload: payload}
	}
	return q.do(ctx, http.MethodPut, "/points?wait=true", map[string]any{"points": points}, nil)
}

// Search queries the collection. Every hit carries a score.
func (q *QdrantIndex) Search(ctx context.Context, query []float32, k int, filter *Filter) ([]*VectorResult, error) {
	if len(query) != q.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), q.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	body := map[string]any{
		"vector":       query,
		"limit":        k,
		"with_payload": []string{payloadIDKey},
	}
	if filter != nil {
		body["filter"] = map[string]any{
			"must": []map[string]any{{
				"key":   filter.Key,
				"match": map[string]any{"value": filter.Value},
			}},
		}
	}
	var resp struct {
		Result []struct {
			Score   *float64          `json:"score"`
			Payload map[string]string `json:"payload"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodPost, "/points/search", body, &resp); err != nil {
		return nil, err
	}
	out := make([]*VectorResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		res := &VectorResult{ID: r.Payload[payloadIDKey]}
		if r.Score != nil {
			res.Score, res.HasScore = *r.Score, true
		}
		out = append(out, res)
	}
	return out, nil
}

// Remove deletes points by passage ID.
func (q *QdrantIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = PointID(id)
	}
	err := q.do(ctx, http.MethodPost, "/points/delete?wait=true", map[string]any{"points": points}, nil)
	if isNotFound(err) {
		return nil
	}
	return err
}

// Drop deletes the whole collection. A missing collection is not an error.
func (q *QdrantIndex) Drop(ctx context.Context) error {
	err := q.do(ctx, http.MethodDelete, "", nil, nil)
	q.ensureMu.Lock()
	q.ensured = false
	q.ensureMu.Unlock()
	if isNotFound(err) {
		return nil
	}
	return err
}

// Save is a no-op; Qdrant persists server side.
func (q *QdrantIndex) Save(string) error { return nil }

// Load is a no-op; Qdrant persists server side.
func (q *QdrantIndex) Load(string) error { return nil }

// Size returns the collection's point count, or 0 when it cannot be read.
func (q *QdrantIndex) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var resp struct {
		Result struct {
			PointsCount int `json:"points_count"`
		} `json:"result"`
	}
	if err := q.do(ctx, http.MethodGet, "", nil, &resp); err != nil {
		return 0
	}
	return resp.Result.PointsCount
}

// Close releases idle connections.
func (q *QdrantIndex) Close() error {
	q.httpClient.CloseIdleConnections()
	return nil
}

func (q *QdrantIndex) ensureCollection(ctx context.Context) error {
	q.ensureMu.Lock()
	defer q.ensureMu.Unlock()
	if q.ensured {
		return nil
	}
	body := map[string]any{
		"vectors": map[string]any{"size": q.dimensions, "distance": "Dot"},
	}
	err := q.do(ctx, http.MethodPut, "", body, nil)
	var se *qdrantStatusError
	// 409 means the collection already exists.
	if err != nil && !(errors.As(err, &se) && se.Code == http.StatusConflict) {
		return err
	}
	q.ensured = true
	return nil
}

type qdrantStatusError struct {
	Method, Path string
	Code         int
	Msg          string
}

func (e *qdrantStatusError) Error() string {
	return fmt.Sprintf("qdrant %s %s status %d: %s", e.Method, e.Path, e.Code, e.Msg)
}

func isNotFound(err error) bool {
	var se *qdrantStatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

// do sends a request to /collections/{collection}{path} and decodes the JSON reply into out.
func (q *QdrantIndex) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal qdrant request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	url := fmt.Sprintf("%s/collections/%s%s", q.baseURL, q.collection, path)
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create qdrant request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := q.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("qdrant %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &qdrantStatusError{Method: method, Path: path, Code: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode qdrant response: %w", err)
	}
	return nil
}
