package indexer

import (
	"context"
	"sync"

	"github.com/hyperjump/neurobot/internal/docstore"
	"github.com/hyperjump/neurobot/internal/fingerprint"
	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/keyword"
	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/internal/vector"
)

// Snapshot is an immutable, mutually consistent view of one knowledge base's search state.
// Readers keep using a snapshot while a sync prepares the next one.
type Snapshot struct {
	loc         kb.Location
	index       vector.Index
	docs        *docstore.Docstore
	fingerprint fingerprint.Map
	answers     map[string]string
	entries     []models.Entry

	// dirty marks a snapshot loaded from artifacts that needed repair in memory;
	// the next sync persists it even if no entry changed.
	dirty bool

	kwOnce sync.Once
	kw     *keyword.BleveIndex
	kwErr  error
}

func newSnapshot(loc kb.Location, idx vector.Index, docs *docstore.Docstore, fp fingerprint.Map, entries []models.Entry) *Snapshot {
	answers := make(map[string]string, len(entries))
	for _, e := range entries {
		answers[e.Question] = e.Answer
	}
	return &Snapshot{
		loc:         loc,
		index:       idx,
		docs:        docs,
		fingerprint: fp,
		answers:     answers,
		entries:     entries,
	}
}

// Location returns the knowledge base the snapshot belongs to.
func (s *Snapshot) Location() kb.Location {
	return s.loc
}

// Size returns the number of indexed vectors.
func (s *Snapshot) Size() int {
	return s.index.Size()
}

// Entries returns a copy of the entries the snapshot was built from.
func (s *Snapshot) Entries() []models.Entry {
	out := make([]models.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Resolve maps a vector id back to its entry: docstore gives the question, the entries give the answer.
// Hits whose question is no longer in the entries are not resolvable.
func (s *Snapshot) Resolve(id int64) (models.Entry, bool) {
	q, ok := s.docs.Get(id)
	if !ok {
		return models.Entry{}, false
	}
	a, ok := s.answers[q]
	if !ok {
		return models.Entry{}, false
	}
	return models.Entry{Question: q, Answer: a}, true
}

// Keyword returns the full-text index of the snapshot's entries, built on first use.
func (s *Snapshot) Keyword(ctx context.Context) (keyword.Index, error) {
	s.kwOnce.Do(func() {
		s.kw, s.kwErr = keyword.Build(context.WithoutCancel(ctx), s.entries)
	})
	if s.kwErr != nil {
		return nil, s.kwErr
	}
	return s.kw, nil
}

func (s *Snapshot) resolveHits(hits []vector.Result) []*models.SearchResult {
	out := make([]*models.SearchResult, 0, len(hits))
	for _, h := range hits {
		e, ok := s.Resolve(h.ID)
		if !ok {
			continue
		}
		out = append(out, &models.SearchResult{
			ID:            h.ID,
			Question:      e.Question,
			Answer:        e.Answer,
			Score:         h.Score,
			SemanticScore: h.Score,
			Rank:          len(out) + 1,
		})
	}
	return out
}
