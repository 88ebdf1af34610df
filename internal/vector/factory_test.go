package vector

import (
	"context"
	"testing"
)

func TestNewVectorIndex(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
		want    string
	}{
		{"memory", Config{Type: "memory", Dimensions: 3}, false, "memory"},
		{"default", Config{Dimensions: 3}, false, "memory"},
		{"qdrant", Config{Type: "qdrant", Dimensions: 3, QdrantURL: "http://localhost:6333", Collection: "courses"}, false, "qdrant"},
		{"qdrant without url", Config{Type: "qdrant", Dimensions: 3, Collection: "courses"}, true, ""},
		{"unknown", Config{Type: "faiss", Dimensions: 3}, true, ""},
		{"zero dims", Config{Type: "memory"}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := NewVectorIndex(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer idx.Close()
			typed, ok := idx.(interface{ Type() string })
			if !ok || typed.Type() != tt.want {
				t.Errorf("index type = %v", idx)
			}
		})
	}
}

func TestNewVectorIndex_memoryWorks(t *testing.T) {
	idx, err := NewVectorIndex(Config{Dimensions: 3})
	if err != nil {
		t.Fatal(err)
	}
	if err := idx.Add(context.Background(), []string{"a"}, [][]float32{{1, 0, 0}}, nil); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size=%d, want 1", idx.Size())
	}
}
