package vector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakeQdrant implements the subset of the Qdrant REST API used by QdrantIndex.
type fakeQdrant struct {
	mu      sync.Mutex
	created int
	points  map[string]qdrantPoint
	order   []string
	lastReq map[string]any
}

func (f *fakeQdrant) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	switch {
	case r.Method == http.MethodPut && r.URL.Path == "/collections/courses":
		f.created++
		if f.created > 1 {
			w.WriteHeader(http.StatusConflict)
			return
		}
		_, _ = w.Write([]byte(`{"result":true}`))
	case r.Method == http.MethodPut && r.URL.Path == "/collections/courses/points":
		raw, _ := json.Marshal(body["points"])
		var pts []qdrantPoint
		_ = json.Unmarshal(raw, &pts)
		for _, p := range pts {
			if _, ok := f.points[p.ID]; !ok {
				f.order = append(f.order, p.ID)
			}
			f.points[p.ID] = p
		}
		_, _ = w.Write([]byte(`{"result":{"status":"completed"}}`))
	case r.Method == http.MethodPost && r.URL.Path == "/collections/courses/points/search":
		f.lastReq = body
		var want *Filter
		if fl, ok := body["filter"].(map[string]any); ok {
			must := fl["must"].([]any)[0].(map[string]any)
			want = &Filter{Key: must["key"].(string), Value: must["match"].(map[string]any)["value"].(string)}
		}
		type hit struct {
			Score   float64           `json:"score"`
			Payload map[string]string `json:"payload"`
		}
		var hits []hit
		for i, id := range f.order {
			p := f.points[id]
			if want.Matches(p.Payload) {
				hits = append(hits, hit{Score: 1 - float64(i)/10, Payload: map[string]string{payloadIDKey: p.Payload[payloadIDKey]}})
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": hits})
	case r.Method == http.MethodPost && r.URL.Path == "/collections/courses/points/delete":
		for _, id := range body["points"].([]any) {
			delete(f.points, id.(string))
		}
		_, _ = w.Write([]byte(`{"result":{}}`))
	case r.Method == http.MethodGet && r.URL.Path == "/collections/courses":
		_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"points_count": len(f.points)}})
	default:
		http.NotFound(w, r)
	}
}

func TestQdrantIndex(t *testing.T) {
	fake := &fakeQdrant{points: map[string]qdrantPoint{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	idx, err := NewQdrantIndex(srv.URL+"/", "courses", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	err = idx.Add(ctx, []string{"p1", "p2"}, [][]float32{{1, 0}, {0, 1}},
		[]map[string]string{{"course_number": "11711"}, {"course_number": "10601"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(ctx, []string{"p3"}, [][]float32{{1, 1}}, nil); err != nil {
		t.Fatal(err)
	}
	if fake.created != 1 {
		t.Errorf("collection should be created once, got %d", fake.created)
	}
	if p := fake.points[PointID("p1")]; p.Payload[payloadIDKey] != "p1" || p.Payload["course_number"] != "11711" {
		t.Errorf("payload not stored: %+v", p)
	}
	if idx.Size() != 3 {
		t.Errorf("Size = %d", idx.Size())
	}

	got, err := idx.Search(ctx, []float32{1, 0}, 5, &Filter{Key: "course_number", Value: "10601"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "p2" || !got[0].HasScore {
		t.Errorf("Search = %+v", got)
	}
	if fake.lastReq["limit"].(float64) != 5 {
		t.Errorf("limit not sent: %v", fake.lastReq)
	}

	if err := idx.Remove(ctx, []string{"p1"}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Errorf("Size after remove = %d", idx.Size())
	}
	if err := idx.Save("ignored"); err != nil {
		t.Error(err)
	}
}

func TestPointID(t *testing.T) {
	if PointID("a") != PointID("a") || PointID("a") == PointID("b") {
		t.Error("point IDs should be deterministic and distinct")
	}
}

func TestQdrantIndex_statusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	idx, _ := NewQdrantIndex(srv.URL, "courses", 2)
	if _, err := idx.Search(context.Background(), []float32{1, 0}, 3, nil); err == nil {
		t.Error("expected error on 500")
	}
	if idx.Size() != 0 {
		t.Error("Size should be 0 when the server fails")
	}
}

func TestQdrantIndex_missingCollection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":{"error":"Not found: Collection courses doesn't exist!"}}`))
	}))
	defer srv.Close()
	idx, err := NewQdrantIndex(srv.URL, "courses", 4)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := idx.Drop(ctx); err != nil {
		t.Errorf("Drop on missing collection: %v", err)
	}
	if err := idx.Remove(ctx, []string{"a"}); err != nil {
		t.Errorf("Remove on missing collection: %v", err)
	}
	if _, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 3, nil); err == nil {
		t.Error("Search on missing collection should fail")
	}
}
