// Package keyword provides full-text (BM25) search over knowledge entries.
package keyword

import (
	"context"

	"github.com/hyperjump/neurobot/internal/models"
)

// SearchOptions optional parameters for keyword search. Nil means use defaults.
type SearchOptions struct {
	// QuestionBoost multiplies the score contribution from matches in the question field.
	// Values > 1 make question matches rank above answer matches. Use 1.0 for no boost.
	QuestionBoost float64
	// PhraseBoost multiplies the score when query terms appear adjacent. Use 1.0 for no boost.
	PhraseBoost float64
	// FuzzyEnabled enables typo-tolerant matching.
	FuzzyEnabled bool
	// Fuzziness is the maximum edit distance for fuzzy matching (1 or 2). Default 2.
	Fuzziness int
}

// Index defines keyword search over entries keyed by their vector id.
type Index interface {
	Index(ctx context.Context, id int64, entry models.Entry) error
	Search(ctx context.Context, query string, limit int, opts *SearchOptions) ([]Result, error)
	Delete(ctx context.Context, id int64) error
	DocCount() (uint64, error)
	Close() error
}

// Result is a single keyword search hit.
type Result struct {
	ID    int64
	Score float64
}
