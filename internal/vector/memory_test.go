package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestMemoryIndex_UpsertSearch(t *testing.T) {
	idx, err := NewMemoryIndex(3, MetricL2)
	if err != nil {
		t.Fatal(err)
	}
	defer idx.Close()
	ctx := context.Background()

	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := idx.Upsert(ctx, []int64{1, 2, 3}, vecs); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 3 {
		t.Errorf("Size=%d", idx.Size())
	}

	results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].ID != 1 {
		t.Errorf("top result should be 1, got %d", results[0].ID)
	}
	if results[0].Score != 1 {
		t.Errorf("exact match should score 1, got %v", results[0].Score)
	}
	if results[1].Score >= results[0].Score {
		t.Errorf("scores not descending: %+v", results)
	}
}

func TestMemoryIndex_UpsertReplacesInPlace(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricL2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []int64{7, 8}, [][]float32{{1, 0}, {0, 1}})
	if err := idx.Upsert(ctx, []int64{7}, [][]float32{{0, 1}}); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 {
		t.Fatalf("upsert of existing id must not add a vector, size=%d", idx.Size())
	}
	res, _ := idx.Search(ctx, []float32{0, 1}, 2)
	if res[0].Score != 1 || res[1].Score != 1 {
		t.Errorf("both vectors should now equal the query: %+v", res)
	}
}

func TestMemoryIndex_UpsertDimensionMismatch(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricL2)
	err := idx.Upsert(context.Background(), []int64{1, 2}, [][]float32{{1, 0}, {1, 0, 0}})
	if err == nil {
		t.Fatal("expected dimension error")
	}
	if idx.Size() != 0 {
		t.Errorf("failed upsert must leave index unchanged, size=%d", idx.Size())
	}
}

func TestMemoryIndex_Remove(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricL2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []int64{10, 20, 30}, [][]float32{{1, 0}, {0, 1}, {1, 1}})
	n, err := idx.Remove(ctx, []int64{10, 99})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed=%d, want 1", n)
	}
	if idx.Size() != 2 || idx.Contains(10) || !idx.Contains(30) {
		t.Errorf("unexpected contents: %v", idx.IDs())
	}
	res, _ := idx.Search(ctx, []float32{1, 1}, 1)
	if res[0].ID != 30 {
		t.Errorf("position map broken after swap-delete: %+v", res)
	}
}

func TestMemoryIndex_Clone(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricL2)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []int64{1}, [][]float32{{1, 0}})

	c := idx.Clone()
	_ = c.Upsert(ctx, []int64{2}, [][]float32{{0, 1}})
	_, _ = c.Remove(ctx, []int64{1})

	if idx.Size() != 1 || !idx.Contains(1) {
		t.Errorf("original changed through clone: %v", idx.IDs())
	}
	if c.Size() != 1 || !c.Contains(2) {
		t.Errorf("clone contents: %v", c.IDs())
	}
}

func TestMemoryIndex_InnerProduct(t *testing.T) {
	idx, _ := NewMemoryIndex(2, MetricInnerProduct)
	ctx := context.Background()
	_ = idx.Upsert(ctx, []int64{1, 2}, [][]float32{{0.6, 0.8}, {1, 0}})
	res, _ := idx.Search(ctx, []float32{1, 0}, 2)
	if res[0].ID != 2 || res[0].Score != 1 {
		t.Errorf("got %+v", res)
	}
}

func TestMemoryIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vector_KB", "index.bin")
	ctx := context.Background()

	idx, _ := NewMemoryIndex(3, MetricL2)
	_ = idx.Upsert(ctx, []int64{4043951717419634526, 5}, [][]float32{{1, 2, 3}, {0.5, 0, -1}})
	if err := idx.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded, _ := NewMemoryIndex(3, MetricL2)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 2 || !loaded.Contains(4043951717419634526) {
		t.Fatalf("loaded ids %v", loaded.IDs())
	}
	res, _ := loaded.Search(ctx, []float32{0.5, 0, -1}, 1)
	if res[0].ID != 5 || res[0].Score != 1 {
		t.Errorf("vector not round-tripped: %+v", res)
	}
}

func TestMemoryIndex_LoadErrors(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	idx, _ := NewMemoryIndex(2, MetricL2)
	if err := idx.Load(filepath.Join(dir, "missing.bin")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("missing file: got %v", err)
	}

	garbage := filepath.Join(dir, "garbage.bin")
	_ = os.WriteFile(garbage, []byte("not an index"), 0644)
	if err := idx.Load(garbage); !errors.Is(err, ErrCorrupt) {
		t.Errorf("garbage: got %v", err)
	}

	src, _ := NewMemoryIndex(3, MetricL2)
	_ = src.Upsert(ctx, []int64{1}, [][]float32{{1, 0, 0}})
	wrongDim := filepath.Join(dir, "dim.bin")
	_ = src.Save(wrongDim)
	if err := idx.Load(wrongDim); !errors.Is(err, ErrCorrupt) {
		t.Errorf("dimension mismatch: got %v", err)
	}

	truncated := filepath.Join(dir, "trunc.bin")
	data, _ := os.ReadFile(wrongDim)
	_ = os.WriteFile(truncated, data[:len(data)-2], 0644)
	three, _ := NewMemoryIndex(3, MetricL2)
	if err := three.Load(truncated); !errors.Is(err, ErrCorrupt) {
		t.Errorf("truncated: got %v", err)
	}
	if idx.Size() != 0 || three.Size() != 0 {
		t.Error("failed load must leave the index unchanged")
	}
}

func TestNewIndex(t *testing.T) {
	tests := []struct {
		metric  string
		dims    int
		wantErr bool
	}{
		{"", 3, false},
		{"l2", 3, false},
		{"ip", 3, false},
		{"unknown", 3, true},
		{"l2", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			idx, err := NewIndex(tt.metric, tt.dims)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewIndex(%q, %d) error = %v", tt.metric, tt.dims, err)
			}
			if err == nil && idx.Dimensions() != tt.dims {
				t.Errorf("Dimensions=%d", idx.Dimensions())
			}
		})
	}
}

func TestDistanceToSimilarity(t *testing.T) {
	if DistanceToSimilarity(0) != 1 {
		t.Error("zero distance should be similarity 1")
	}
	if DistanceToSimilarity(1) != 0.5 {
		t.Error("distance 1 should be similarity 0.5")
	}
}

func TestNormalize(t *testing.T) {
	v := Normalize([]float32{3, 4})
	if d := L2Norm(v) - 1; d > 1e-6 || d < -1e-6 {
		t.Errorf("norm = %f", L2Norm(v))
	}
	if v[0] < 0.599999 || v[0] > 0.600001 {
		t.Errorf("got %v", v)
	}
	zero := Normalize([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Errorf("zero vector changed: %v", zero)
	}
}
