// Package indexer keeps each knowledge base's vector index, docstore and fingerprint
// consistent with its entries, and serves semantic search from committed snapshots.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/neurobot/internal/docstore"
	"github.com/hyperjump/neurobot/internal/embedding"
	"github.com/hyperjump/neurobot/internal/entryid"
	"github.com/hyperjump/neurobot/internal/fingerprint"
	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/metrics"
	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/internal/vector"
	"github.com/hyperjump/neurobot/pkg/utils"
)

var _ kb.Syncer = (*Synchronizer)(nil)

// Synchronizer reconciles knowledge base search artifacts with entries by fingerprint diff.
// Writers are serialized per knowledge base; readers use the last committed Snapshot.
type Synchronizer struct {
	repo         kb.Repository
	embedder     embedding.Embedder
	metric       string
	embedTimeout time.Duration
	ioTimeout    time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics

	locks sync.Map // Location.Key() -> *sync.Mutex
	mu    sync.RWMutex
	snaps map[string]*Snapshot
	group singleflight.Group
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// WithMetrics records sync and search metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// WithMetric selects the vector metric ("l2" or "ip"). Default l2.
func WithMetric(metric string) Option {
	return func(s *Synchronizer) { s.metric = metric }
}

// WithTimeouts bounds embedding calls and artifact persistence. Zero means no bound.
func WithTimeouts(embed, io time.Duration) Option {
	return func(s *Synchronizer) {
		s.embedTimeout = embed
		s.ioTimeout = io
	}
}

// NewSynchronizer creates a Synchronizer reading entries from repo and embedding with embedder.
func NewSynchronizer(repo kb.Repository, embedder embedding.Embedder, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		repo:     repo,
		embedder: embedder,
		metric:   string(vector.MetricL2),
		snaps:    make(map[string]*Snapshot),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = utils.LoggerOrNop(s.logger)
	return s
}

func (s *Synchronizer) lock(loc kb.Location) func() {
	v, _ := s.locks.LoadOrStore(loc.Key(), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (s *Synchronizer) cached(loc kb.Location) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snaps[loc.Key()]
}

func (s *Synchronizer) publish(loc kb.Location, snap *Snapshot) {
	s.mu.Lock()
	s.snaps[loc.Key()] = snap
	s.mu.Unlock()
}

// Drop evicts the cached snapshot of loc, e.g. after the knowledge base was deleted.
func (s *Synchronizer) Drop(loc kb.Location) {
	unlock := s.lock(loc)
	defer unlock()
	s.mu.Lock()
	delete(s.snaps, loc.Key())
	s.mu.Unlock()
}

// Remove runs remove, which deletes the knowledge base files, while holding the sync lock
// of loc, then evicts its snapshot. A concurrent Snapshot waits for the lock and so cannot
// cache the deleted knowledge base. The snapshot is evicted even when remove fails part way.
func (s *Synchronizer) Remove(loc kb.Location, remove func() error) error {
	unlock := s.lock(loc)
	defer unlock()
	err := remove()
	s.mu.Lock()
	delete(s.snaps, loc.Key())
	s.mu.Unlock()
	return err
}

// Sync brings the index, docstore and fingerprint of loc in line with its entries.
//
// Only added and changed entries are embedded. Vectors of removed and changed entries are
// deleted by id first. Nothing is written when no entry changed and the stored artifacts are
// consistent. An embedding failure or a cancelled context commits nothing; the knowledge base
// keeps its last committed state. Unreadable artifacts are rebuilt from scratch.
func (s *Synchronizer) Sync(ctx context.Context, loc kb.Location) (kb.SyncStats, error) {
	start := time.Now()
	unlock := s.lock(loc)
	defer unlock()

	stats, embedded, err := s.syncLocked(ctx, loc)
	stats.Duration = time.Since(start)
	switch {
	case err != nil:
		s.metrics.RecordSync("error", 0, 0, stats.Duration)
		s.logger.Error("sync failed", zap.String("kb", loc.String()), zap.Error(err))
	case stats.NoOp:
		s.metrics.RecordSync("noop", 0, 0, stats.Duration)
		s.logger.Debug("sync no-op", zap.String("kb", loc.String()), zap.Int("vectors", stats.Vectors))
	default:
		s.metrics.RecordSync("applied", embedded, stats.Orphans, stats.Duration)
		s.logger.Info("sync applied",
			zap.String("kb", loc.String()),
			zap.Int("added", stats.Added),
			zap.Int("removed", stats.Removed),
			zap.Int("changed", stats.Changed),
			zap.Int("orphans", stats.Orphans),
			zap.Bool("rebuilt", stats.Rebuilt),
			zap.Int("vectors", stats.Vectors),
			zap.Duration("duration", stats.Duration))
	}
	return stats, err
}

func (s *Synchronizer) syncLocked(ctx context.Context, loc kb.Location) (kb.SyncStats, int, error) {
	var stats kb.SyncStats
	if _, err := s.repo.GetInfo(ctx, loc); err != nil {
		return stats, 0, err
	}
	entries, err := s.repo.Entries(ctx, loc)
	if err != nil {
		return stats, 0, fmt.Errorf("failed to read entries: %w", err)
	}
	entries = uniqueEntries(entries)
	cur := fingerprint.Build(entries)

	base := s.cached(loc)
	if base == nil {
		var rep loadReport
		base, rep, err = s.load(ctx, loc, entries)
		if err != nil {
			return stats, 0, err
		}
		stats.Rebuilt = rep.rebuilt
		stats.Orphans = rep.orphans
	}

	changes := fingerprint.Diff(base.fingerprint, cur)
	stats.Added = len(changes.Added)
	stats.Removed = len(changes.Removed)
	stats.Changed = len(changes.Changed)

	if changes.Empty() && !base.dirty {
		stats.NoOp = true
		stats.Vectors = base.Size()
		s.publish(loc, newSnapshot(loc, base.index, base.docs, base.fingerprint, entries))
		return stats, 0, nil
	}

	next := base.index.Clone()
	docs := base.docs.Clone()

	stale := entryid.MakeAll(changes.Stale())
	if _, err := next.Remove(ctx, stale); err != nil {
		return stats, 0, err
	}
	docs.Delete(stale...)

	fresh := changes.Fresh()
	if len(fresh) > 0 {
		answers := make(map[string]string, len(entries))
		for _, e := range entries {
			answers[e.Question] = e.Answer
		}
		texts := make([]string, len(fresh))
		for i, q := range fresh {
			texts[i] = fingerprint.Canonical(q, answers[q])
		}
		vecs, err := s.embedBatch(ctx, texts)
		if err != nil {
			return stats, 0, err
		}
		ids := entryid.MakeAll(fresh)
		if err := next.Upsert(ctx, ids, vecs); err != nil {
			return stats, 0, fmt.Errorf("failed to update index: %w", err)
		}
		for i, id := range ids {
			docs.Put(id, fresh[i])
		}
	}

	if err := ctx.Err(); err != nil {
		return stats, 0, err
	}
	if err := s.persist(ctx, loc, next, docs, cur); err != nil {
		return stats, 0, err
	}
	s.publish(loc, newSnapshot(loc, next, docs, cur, entries))
	stats.Vectors = next.Size()
	return stats, len(fresh), nil
}

// persist writes index, then docstore, then fingerprint, each atomically. A crash between
// files leaves artifacts that the next load detects and repairs.
func (s *Synchronizer) persist(ctx context.Context, loc kb.Location, idx vector.Index, docs *docstore.Docstore, fp fingerprint.Map) error {
	if s.ioTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ioTimeout)
		defer cancel()
	}
	steps := []struct {
		name string
		save func() error
	}{
		{"index", func() error { return idx.Save(loc.IndexPath()) }},
		{"docstore", func() error { return docs.Save(loc.DocstorePath()) }},
		{"fingerprint", func() error { return fingerprint.Save(loc.FingerprintPath(), fp) }},
	}
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: persisting %s: %v", kb.ErrUpstreamUnavailable, st.name, err)
		}
		if err := st.save(); err != nil {
			return fmt.Errorf("%w: persisting %s: %v", kb.ErrUpstreamUnavailable, st.name, err)
		}
	}
	return nil
}

func (s *Synchronizer) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ectx := ctx
	if s.embedTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, s.embedTimeout)
		defer cancel()
	}
	vecs, err := s.embedder.EmbedBatch(ectx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: failed to generate embeddings: %w", kb.ErrUpstreamUnavailable, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d texts", kb.ErrUpstreamUnavailable, len(vecs), len(texts))
	}
	return vecs, nil
}

type loadReport struct {
	rebuilt bool
	orphans int
}

// load reads the persisted artifacts of loc into a snapshot.
//
// A missing or unreadable index, docstore or fingerprint (or an index of another dimension)
// discards all three: the snapshot starts empty and every entry is re-embedded. Otherwise ids
// not named consistently by all three artifacts are dropped from the index and docstore, and
// their fingerprint keys removed so the entries are re-embedded.
func (s *Synchronizer) load(ctx context.Context, loc kb.Location, entries []models.Entry) (*Snapshot, loadReport, error) {
	var rep loadReport
	newIndex := func() (vector.Index, error) {
		idx, err := vector.NewIndex(s.metric, s.embedder.Dimensions())
		if err != nil {
			return nil, fmt.Errorf("failed to create vector index: %w", err)
		}
		return idx, nil
	}
	idx, err := newIndex()
	if err != nil {
		return nil, rep, err
	}

	idxErr := idx.Load(loc.IndexPath())
	docs, docsErr := docstore.Load(loc.DocstorePath())
	fp, fpErr := fingerprint.Load(loc.FingerprintPath())
	fpMissing := fpErr == nil && !fileExists(loc.FingerprintPath())

	idxMissing := errors.Is(idxErr, os.ErrNotExist)
	docsMissing := errors.Is(docsErr, os.ErrNotExist)
	if idxErr != nil || docsErr != nil || fpErr != nil || fpMissing {
		if !(idxMissing && docsMissing && fpMissing) {
			rep.rebuilt = true
			s.logger.Warn("knowledge base artifacts unusable, rebuilding",
				zap.String("kb", loc.String()),
				zap.NamedError("index_error", idxErr),
				zap.NamedError("docstore_error", docsErr),
				zap.NamedError("fingerprint_error", fpErr),
				zap.Bool("fingerprint_missing", fpMissing))
		}
		if idx, err = newIndex(); err != nil {
			return nil, rep, err
		}
		snap := newSnapshot(loc, idx, docstore.New(), fingerprint.Map{}, entries)
		snap.dirty = true
		return snap, rep, nil
	}

	dropped, err := reconcile(ctx, idx, docs, fp)
	if err != nil {
		return nil, rep, err
	}
	snap := newSnapshot(loc, idx, docs, fp, entries)
	if len(dropped) > 0 {
		rep.orphans = len(dropped)
		snap.dirty = true
		s.logger.Warn("dropping inconsistent index ids",
			zap.String("kb", loc.String()),
			zap.Int("count", len(dropped)))
	}
	return snap, rep, nil
}

// reconcile keeps only ids present in the index and docstore whose docstore question is a
// fingerprint key hashing to that id. Everything else is removed from all three in place.
func reconcile(ctx context.Context, idx vector.Index, docs *docstore.Docstore, fp fingerprint.Map) ([]int64, error) {
	live := make(map[int64]bool, len(fp))
	for q := range fp {
		id := entryid.Make(q)
		if dq, ok := docs.Get(id); ok && dq == q && idx.Contains(id) {
			live[id] = true
			continue
		}
		delete(fp, q)
	}
	var dropped []int64
	seen := make(map[int64]bool)
	for _, id := range idx.IDs() {
		if !live[id] {
			dropped = append(dropped, id)
			seen[id] = true
		}
	}
	for _, id := range docs.IDs() {
		if !live[id] && !seen[id] {
			dropped = append(dropped, id)
		}
	}
	if len(dropped) == 0 {
		return nil, nil
	}
	if _, err := idx.Remove(ctx, dropped); err != nil {
		return nil, err
	}
	docs.Delete(dropped...)
	return dropped, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// uniqueEntries keeps the last entry for each question, in first-seen order, matching
// fingerprint.Build.
func uniqueEntries(entries []models.Entry) []models.Entry {
	pos := make(map[string]int, len(entries))
	out := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		if i, ok := pos[e.Question]; ok {
			out[i] = e
			continue
		}
		pos[e.Question] = len(out)
		out = append(out, e)
	}
	return out
}

// Snapshot returns the committed snapshot of loc, loading it from disk on first use.
// Concurrent first loads of the same knowledge base share one read.
func (s *Synchronizer) Snapshot(ctx context.Context, loc kb.Location) (*Snapshot, error) {
	if snap := s.cached(loc); snap != nil {
		return snap, nil
	}
	v, err, _ := s.group.Do(loc.Key(), func() (interface{}, error) {
		unlock := s.lock(loc)
		defer unlock()
		if snap := s.cached(loc); snap != nil {
			return snap, nil
		}
		if _, err := s.repo.GetInfo(ctx, loc); err != nil {
			return nil, err
		}
		entries, err := s.repo.Entries(ctx, loc)
		if err != nil {
			return nil, fmt.Errorf("failed to read entries: %w", err)
		}
		snap, _, err := s.load(ctx, loc, uniqueEntries(entries))
		if err != nil {
			return nil, err
		}
		s.publish(loc, snap)
		return snap, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Search embeds query and returns the k nearest entries of loc, scored 1/(1+d) for L2.
func (s *Synchronizer) Search(ctx context.Context, loc kb.Location, query string, k int) ([]*models.SearchResult, error) {
	snap, err := s.Snapshot(ctx, loc)
	if err != nil {
		return nil, err
	}
	return s.SearchSnapshot(ctx, snap, query, k)
}

// SearchSnapshot runs a semantic search against a snapshot obtained from Snapshot.
func (s *Synchronizer) SearchSnapshot(ctx context.Context, snap *Snapshot, query string, k int) ([]*models.SearchResult, error) {
	if k <= 0 || snap.Size() == 0 {
		return []*models.SearchResult{}, nil
	}
	start := time.Now()
	ectx := ctx
	if s.embedTimeout > 0 {
		var cancel context.CancelFunc
		ectx, cancel = context.WithTimeout(ctx, s.embedTimeout)
		defer cancel()
	}
	qv, err := s.embedder.Embed(ectx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: failed to embed query: %w", kb.ErrUpstreamUnavailable, err)
	}
	hits, err := snap.index.Search(ctx, qv, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}
	s.metrics.RecordSearch("semantic", time.Since(start))
	return snap.resolveHits(hits), nil
}

// SyncAll syncs every knowledge base under a tenant root and returns the joined errors.
func (s *Synchronizer) SyncAll(ctx context.Context, root string) error {
	root = filepath.Clean(root)
	infos, err := s.repo.ListInfos(ctx, root)
	if err != nil {
		return err
	}
	var errs []error
	for _, info := range infos {
		if _, err := s.Sync(ctx, kb.Location{Root: root, ID: info.ID}); err != nil {
			errs = append(errs, fmt.Errorf("knowledge base %s: %w", info.ID, err))
		}
	}
	return errors.Join(errs...)
}
