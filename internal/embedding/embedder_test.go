package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMockEmbedder_deterministic(t *testing.T) {
	e := NewMockEmbedder(16)
	ctx := context.Background()
	a, _ := e.Embed(ctx, "hello")
	b, _ := e.Embed(ctx, "hello")
	c, _ := e.Embed(ctx, "world")
	if len(a) != 16 {
		t.Fatalf("len=%d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("same text should embed identically")
		}
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
		}
	}
	if same {
		t.Error("different texts should embed differently")
	}
}

func TestMockEmbedder_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockEmbedder(4).Embed(ctx, "x"); err == nil {
		t.Error("expected context error")
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"mock", Config{Provider: "mock", Dimensions: 8}, false},
		{"mock cached", Config{Provider: "mock", Dimensions: 8, CacheSize: 10}, false},
		{"openai without key", Config{Provider: "openai", Dimensions: 8}, true},
		{"openai", Config{Provider: "openai", APIKey: "k", Dimensions: 8}, false},
		{"unknown", Config{Provider: "nope"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && e.Dimensions() != tt.cfg.Dimensions {
				t.Errorf("Dimensions=%d", e.Dimensions())
			}
		})
	}
}

func openAIStub(t *testing.T, dims int, status int) (*httptest.Server, *[]int) {
	t.Helper()
	var sizes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			http.NotFound(w, r)
			return
		}
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		sizes = append(sizes, len(req.Input))
		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		// Reverse order to check that results are re-sorted by index.
		for i := range req.Input {
			vec := make([]float32, dims)
			vec[0] = float32(len(req.Input[i]))
			data[len(req.Input)-1-i] = item{Object: "embedding", Embedding: vec, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &sizes
}

func TestOpenAIEmbedder_EmbedBatch(t *testing.T) {
	srv, sizes := openAIStub(t, 4, http.StatusOK)
	e, err := NewOpenAIEmbedder("test-key", srv.URL+"/v1", "", 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors", len(vecs))
	}
	for i, want := range []float32{1, 2, 3} {
		if vecs[i][0] != want {
			t.Errorf("vector %d out of order: %v", i, vecs[i])
		}
	}
	if len(*sizes) != 2 || (*sizes)[0] != 2 || (*sizes)[1] != 1 {
		t.Errorf("request sizes = %v, want [2 1]", *sizes)
	}
}

func TestOpenAIEmbedder_dimensionMismatch(t *testing.T) {
	srv, _ := openAIStub(t, 3, http.StatusOK)
	e, _ := NewOpenAIEmbedder("test-key", srv.URL+"/v1", "", 4, 0)
	if _, err := e.Embed(context.Background(), "a"); err == nil {
		t.Error("expected dimension mismatch error")
	}
}

func TestOpenAIEmbedder_upstreamError(t *testing.T) {
	srv, _ := openAIStub(t, 4, http.StatusServiceUnavailable)
	e, _ := NewOpenAIEmbedder("test-key", srv.URL+"/v1", "", 4, 0)
	_, err := e.Embed(context.Background(), "a")
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}
