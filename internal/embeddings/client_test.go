package embeddings

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Model != "nomic-embed-text" {
			t.Errorf("model = %q", req.Model)
		}
		json.NewEncoder(w).Encode(embedResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	emb, err := c.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(emb) != 3 {
		t.Errorf("embedding length = %d", len(emb))
	}
}

func TestGenerateEmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	if _, err := c.Generate(context.Background(), "hello"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}

	if got := CosineSimilarity(a, b); math.Abs(float64(got-1)) > 1e-6 {
		t.Errorf("identical vectors = %v, want 1", got)
	}
	if got := CosineSimilarity(a, c); math.Abs(float64(got)) > 1e-6 {
		t.Errorf("orthogonal vectors = %v, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{1, 2}); got != 0 {
		t.Errorf("mismatched lengths = %v, want 0", got)
	}
	if got := CosineSimilarity(a, []float32{0, 0, 0}); got != 0 {
		t.Errorf("zero vector = %v, want 0", got)
	}
}

func TestTopK(t *testing.T) {
	query := []float32{1, 0}
	vectors := [][]float32{
		{0, 1},      // orthogonal
		{1, 0},      // identical
		{0.9, 0.1},  // close
		{-1, 0},     // opposite
	}

	got := TopK(query, vectors, 2)
	if len(got) != 2 {
		t.Fatalf("got %d indices, want 2", len(got))
	}
	if got[0] != 1 || got[1] != 2 {
		t.Errorf("TopK = %v, want [1 2]", got)
	}

	// k larger than the corpus returns everything.
	if got := TopK(query, vectors, 10); len(got) != 4 {
		t.Errorf("TopK oversized k = %v", got)
	}
}
