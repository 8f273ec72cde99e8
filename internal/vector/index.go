// Package vector provides vector index and similarity search keyed by int64 entry ids.
package vector

import (
	"context"
	"errors"
)

// Index defines vector storage and similarity search.
// Ids are unique: Upsert replaces the vector of an id that is already present.
type Index interface {
	Upsert(ctx context.Context, ids []int64, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]Result, error)
	Remove(ctx context.Context, ids []int64) (int, error)
	Contains(id int64) bool
	IDs() []int64
	Clone() Index
	Save(path string) error
	Load(path string) error
	Size() int
	Dimensions() int
	Close() error
}

// Result is a single vector search hit.
type Result struct {
	ID       int64
	Distance float64 // squared L2 for MetricL2, negated inner product for MetricInnerProduct
	Score    float64 // higher is better, in (0, 1] for MetricL2
}

// ErrCorrupt is returned by Load when the file is not a valid index for this index's
// dimensions and metric.
var ErrCorrupt = errors.New("vector index file is corrupt")
