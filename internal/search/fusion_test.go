package search

import (
	"testing"

	"github.com/hyperjump/neurobot/internal/keyword"
	"github.com/hyperjump/neurobot/internal/models"
)

func TestNormalizeKeywordScores(t *testing.T) {
	results := []keyword.Result{
		{ID: 1, Score: 2},
		{ID: 2, Score: 4},
		{ID: 3, Score: 1},
	}
	m := NormalizeKeywordScores(results)
	if m[2] != 1.0 {
		t.Errorf("max score should be 1.0, got %f", m[2])
	}
	if m[1] != 0.5 {
		t.Errorf("id 1 should be 0.5, got %f", m[1])
	}
	if len(m) != 3 {
		t.Errorf("expected 3 entries, got %d", len(m))
	}
	if len(NormalizeKeywordScores(nil)) != 0 {
		t.Error("nil results should give an empty map")
	}
}

func TestSemanticScores(t *testing.T) {
	m := SemanticScores([]*models.SearchResult{
		{ID: 7, SemanticScore: 0.9},
		{ID: 8, SemanticScore: 0.5},
	})
	if m[7] != 0.9 || m[8] != 0.5 {
		t.Errorf("unexpected map %v", m)
	}
}

func TestFuse(t *testing.T) {
	kw := map[int64]float64{1: 1.0, 2: 0.5}
	sem := map[int64]float64{1: 0.5, 2: 1.0, 3: 0.2}
	results := Fuse(kw, sem, 0.3, 0.7)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i-1].Score < results[i].Score {
			t.Error("results should be sorted by score descending")
		}
	}
	if results[0].ID != 2 {
		t.Errorf("id 2 should rank first (0.15+0.7), got %d", results[0].ID)
	}
	if results[2].ID != 3 || results[2].KeywordScore != 0 {
		t.Errorf("semantic-only hit: %+v", results[2])
	}
}

func TestFuse_TiesByID(t *testing.T) {
	results := Fuse(map[int64]float64{9: 1, 4: 1, 6: 1}, nil, 1, 0)
	if results[0].ID != 4 || results[1].ID != 6 || results[2].ID != 9 {
		t.Errorf("ties should be ordered by id: %d %d %d", results[0].ID, results[1].ID, results[2].ID)
	}
}
