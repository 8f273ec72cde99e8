package indexer

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode"

	"github.com/hyperjump/neurobot/internal/docstore"
	"github.com/hyperjump/neurobot/internal/entryid"
	"github.com/hyperjump/neurobot/internal/fingerprint"
	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/internal/vector"
)

// vocabEmbedder is a bag-of-words embedder: every distinct token gets its own dimension,
// so texts sharing words are close and unrelated texts are orthogonal.
type vocabEmbedder struct {
	dims  int
	mu    sync.Mutex
	vocab map[string]int
	texts atomic.Int64
	fail  atomic.Bool
}

func newVocabEmbedder(dims int) *vocabEmbedder {
	return &vocabEmbedder{dims: dims, vocab: make(map[string]int)}
}

func (e *vocabEmbedder) slot(tok string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	i, ok := e.vocab[tok]
	if !ok {
		i = len(e.vocab) % e.dims
		e.vocab[tok] = i
	}
	return i
}

func (e *vocabEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.fail.Load() {
		return nil, errors.New("provider down")
	}
	v := make([]float32, e.dims)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		v[e.slot(tok)]++
	}
	vector.Normalize(v)
	return v, nil
}

func (e *vocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	e.texts.Add(int64(len(texts)))
	return out, nil
}

func (e *vocabEmbedder) Dimensions() int { return e.dims }
func (e *vocabEmbedder) Close() error    { return nil }

type fixture struct {
	repo *kb.FileRepository
	loc  kb.Location
	emb  *vocabEmbedder
	sync *Synchronizer
}

func newFixture(t *testing.T, entries ...models.Entry) *fixture {
	t.Helper()
	ctx := context.Background()
	repo := kb.NewFileRepository()
	loc := kb.Location{Root: t.TempDir(), ID: kb.DefaultID}
	if err := repo.PutInfo(ctx, loc, kb.Info{Name: kb.DefaultName}); err != nil {
		t.Fatal(err)
	}
	if err := repo.PutEntries(ctx, loc, entries); err != nil {
		t.Fatal(err)
	}
	emb := newVocabEmbedder(128)
	return &fixture{repo: repo, loc: loc, emb: emb, sync: NewSynchronizer(repo, emb)}
}

func (f *fixture) setEntries(t *testing.T, entries ...models.Entry) {
	t.Helper()
	if err := f.repo.PutEntries(context.Background(), f.loc, entries); err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) mustSync(t *testing.T) kb.SyncStats {
	t.Helper()
	stats, err := f.sync.Sync(context.Background(), f.loc)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	return stats
}

// reopen returns a Synchronizer with a cold cache over the same files, as after a restart.
func (f *fixture) reopen(dims int) *Synchronizer {
	f.emb = newVocabEmbedder(dims)
	f.sync = NewSynchronizer(f.repo, f.emb)
	return f.sync
}

func loadDocstore(t *testing.T, loc kb.Location) *docstore.Docstore {
	t.Helper()
	d, err := docstore.Load(loc.DocstorePath())
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestSync_AddThenChangeAnswer(t *testing.T) {
	f := newFixture(t,
		models.Entry{Question: "Q1", Answer: "Alpha"},
		models.Entry{Question: "Q2", Answer: "Gamma"},
	)
	ctx := context.Background()

	stats := f.mustSync(t)
	if stats.Added != 2 || stats.Removed != 0 || stats.Changed != 0 || stats.Vectors != 2 || stats.NoOp {
		t.Fatalf("first sync stats %+v", stats)
	}
	fp, err := fingerprint.Load(f.loc.FingerprintPath())
	if err != nil {
		t.Fatal(err)
	}
	if fp["Q1"] != fingerprint.Hash("Q1", "Alpha") || len(fp) != 2 {
		t.Errorf("fingerprint %v", fp)
	}

	f.setEntries(t,
		models.Entry{Question: "Q1", Answer: "Beta"},
		models.Entry{Question: "Q2", Answer: "Gamma"},
	)
	before := f.emb.texts.Load()
	stats = f.mustSync(t)
	if stats.Added != 0 || stats.Removed != 0 || stats.Changed != 1 || stats.Vectors != 2 {
		t.Fatalf("second sync stats %+v", stats)
	}
	if got := f.emb.texts.Load() - before; got != 1 {
		t.Errorf("re-embedded %d texts, want only the changed entry", got)
	}

	docs := loadDocstore(t, f.loc)
	if docs.Len() != 2 {
		t.Errorf("docstore has %d entries", docs.Len())
	}
	if q, _ := docs.Get(entryid.Make("Q1")); q != "Q1" {
		t.Errorf("docstore id of Q1 maps to %q", q)
	}

	res, err := f.sync.Search(ctx, f.loc, "beta", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) == 0 || res[0].Question != "Q1" || res[0].Answer != "Beta" {
		t.Fatalf("search after answer change: %+v", res)
	}
	if res[0].ID != entryid.Make("Q1") || res[0].Rank != 1 {
		t.Errorf("result id/rank %+v", res[0])
	}
}

func TestSync_IdempotentZeroWrites(t *testing.T) {
	f := newFixture(t,
		models.Entry{Question: "How do I reset my password?", Answer: "Use the reset link."},
		models.Entry{Question: "Opening hours?", Answer: "9 to 18."},
	)
	f.mustSync(t)

	paths := []string{f.loc.IndexPath(), f.loc.DocstorePath(), f.loc.FingerprintPath()}
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, p := range paths {
		if err := os.Chtimes(p, old, old); err != nil {
			t.Fatal(err)
		}
	}
	assertUntouched := func(label string) {
		t.Helper()
		for _, p := range paths {
			info, err := os.Stat(p)
			if err != nil {
				t.Fatal(err)
			}
			if !info.ModTime().Equal(old) {
				t.Errorf("%s: %s was rewritten", label, p)
			}
		}
	}

	before := f.emb.texts.Load()
	stats := f.mustSync(t)
	if !stats.NoOp || stats.Vectors != 2 {
		t.Errorf("warm sync stats %+v", stats)
	}
	if f.emb.texts.Load() != before {
		t.Error("warm no-op sync called the embedder")
	}
	assertUntouched("warm")

	f.reopen(128)
	stats = f.mustSync(t)
	if !stats.NoOp {
		t.Errorf("cold sync stats %+v", stats)
	}
	if f.emb.texts.Load() != 0 {
		t.Error("cold no-op sync called the embedder")
	}
	assertUntouched("cold")
}

func TestSync_RemoveEntry(t *testing.T) {
	f := newFixture(t,
		models.Entry{Question: "Q1", Answer: "A1"},
		models.Entry{Question: "Q2", Answer: "A2"},
	)
	f.mustSync(t)
	f.setEntries(t, models.Entry{Question: "Q2", Answer: "A2"})

	stats := f.mustSync(t)
	if stats.Removed != 1 || stats.Vectors != 1 {
		t.Fatalf("stats %+v", stats)
	}
	idx, _ := vector.NewIndex("l2", 128)
	if err := idx.Load(f.loc.IndexPath()); err != nil {
		t.Fatal(err)
	}
	if idx.Contains(entryid.Make("Q1")) || !idx.Contains(entryid.Make("Q2")) {
		t.Errorf("index ids %v", idx.IDs())
	}
	if _, ok := loadDocstore(t, f.loc).Get(entryid.Make("Q1")); ok {
		t.Error("removed question still in docstore")
	}
}

func TestSync_QuestionEditLeavesNoOrphan(t *testing.T) {
	f := newFixture(t, models.Entry{Question: "Old question", Answer: "A"})
	f.mustSync(t)
	f.setEntries(t, models.Entry{Question: "New question", Answer: "A"})

	stats := f.mustSync(t)
	if stats.Added != 1 || stats.Removed != 1 || stats.Vectors != 1 {
		t.Errorf("stats %+v", stats)
	}
	docs := loadDocstore(t, f.loc)
	if docs.Len() != 1 {
		t.Errorf("docstore ids %v", docs.IDs())
	}
}

func TestSync_EmbedFailureCommitsNothing(t *testing.T) {
	f := newFixture(t, models.Entry{Question: "Q1", Answer: "Alpha"})
	ctx := context.Background()
	f.mustSync(t)
	fpBefore, _ := os.ReadFile(f.loc.FingerprintPath())

	f.setEntries(t,
		models.Entry{Question: "Q1", Answer: "Beta"},
		models.Entry{Question: "Q3", Answer: "Delta"},
	)
	f.emb.fail.Store(true)
	_, err := f.sync.Sync(ctx, f.loc)
	if !errors.Is(err, kb.ErrUpstreamUnavailable) {
		t.Fatalf("err=%v, want ErrUpstreamUnavailable", err)
	}
	fpAfter, _ := os.ReadFile(f.loc.FingerprintPath())
	if string(fpBefore) != string(fpAfter) {
		t.Error("fingerprint committed despite embedding failure")
	}

	snap, err := f.sync.Snapshot(ctx, f.loc)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Size() != 1 {
		t.Errorf("readers see %d vectors, want the last committed 1", snap.Size())
	}
	if e, ok := snap.Resolve(entryid.Make("Q1")); !ok || e.Answer != "Alpha" {
		t.Errorf("committed snapshot resolves to %+v", e)
	}

	f.emb.fail.Store(false)
	stats := f.mustSync(t)
	if stats.Added != 1 || stats.Changed != 1 || stats.Vectors != 2 {
		t.Errorf("retry stats %+v", stats)
	}
}

func TestSync_CancelledContext(t *testing.T) {
	f := newFixture(t, models.Entry{Question: "Q1", Answer: "A1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sync.Sync(ctx, f.loc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v", err)
	}
	for _, p := range []string{f.loc.IndexPath(), f.loc.DocstorePath(), f.loc.FingerprintPath()} {
		if _, err := os.Stat(p); !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s written by cancelled sync", p)
		}
	}
}

func TestSync_RebuildsUnusableArtifacts(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, loc kb.Location)
		dims    int
	}{
		{"garbage index", func(t *testing.T, loc kb.Location) {
			_ = os.WriteFile(loc.IndexPath(), []byte("garbage"), 0644)
		}, 128},
		{"missing docstore", func(t *testing.T, loc kb.Location) {
			_ = os.Remove(loc.DocstorePath())
		}, 128},
		{"corrupt docstore", func(t *testing.T, loc kb.Location) {
			_ = os.WriteFile(loc.DocstorePath(), []byte(`{"not-a-number":"Q1"}`), 0644)
		}, 128},
		{"corrupt fingerprint", func(t *testing.T, loc kb.Location) {
			_ = os.WriteFile(loc.FingerprintPath(), []byte("{"), 0644)
		}, 128},
		{"dimension change", func(t *testing.T, loc kb.Location) {}, 64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t,
				models.Entry{Question: "Q1", Answer: "A1"},
				models.Entry{Question: "Q2", Answer: "A2"},
			)
			f.mustSync(t)
			tt.corrupt(t, f.loc)
			f.reopen(tt.dims)

			stats := f.mustSync(t)
			if !stats.Rebuilt || stats.Added != 2 || stats.Vectors != 2 {
				t.Errorf("stats %+v", stats)
			}
			if again := f.mustSync(t); !again.NoOp {
				t.Errorf("sync after rebuild not a no-op: %+v", again)
			}
		})
	}
}

func TestSync_SweepsOrphans(t *testing.T) {
	f := newFixture(t,
		models.Entry{Question: "Q1", Answer: "A1"},
		models.Entry{Question: "Q2", Answer: "A2"},
	)
	ctx := context.Background()
	f.mustSync(t)

	// an index id without a docstore entry, as left by a crash between index and docstore writes
	idx, _ := vector.NewIndex("l2", 128)
	if err := idx.Load(f.loc.IndexPath()); err != nil {
		t.Fatal(err)
	}
	vec := make([]float32, 128)
	vec[5] = 1
	if err := idx.Upsert(ctx, []int64{12345}, [][]float32{vec}); err != nil {
		t.Fatal(err)
	}
	if err := idx.Save(f.loc.IndexPath()); err != nil {
		t.Fatal(err)
	}

	f.reopen(128)
	stats := f.mustSync(t)
	if stats.NoOp || stats.Orphans != 1 || stats.Vectors != 2 || stats.Added != 0 {
		t.Fatalf("stats %+v", stats)
	}
	reloaded, _ := vector.NewIndex("l2", 128)
	if err := reloaded.Load(f.loc.IndexPath()); err != nil {
		t.Fatal(err)
	}
	if reloaded.Contains(12345) || reloaded.Size() != 2 {
		t.Errorf("orphan not swept: %v", reloaded.IDs())
	}
	if again := f.mustSync(t); !again.NoOp {
		t.Errorf("sync after sweep not a no-op: %+v", again)
	}
}

func TestSync_StaleFingerprintKeyReembeds(t *testing.T) {
	f := newFixture(t,
		models.Entry{Question: "Q1", Answer: "A1"},
		models.Entry{Question: "Q2", Answer: "A2"},
	)
	f.mustSync(t)

	// docstore lost Q2 while the fingerprint still lists it
	docs := loadDocstore(t, f.loc)
	docs.Delete(entryid.Make("Q2"))
	if err := docs.Save(f.loc.DocstorePath()); err != nil {
		t.Fatal(err)
	}

	f.reopen(128)
	stats := f.mustSync(t)
	if stats.Added != 1 || stats.Orphans != 1 || stats.Vectors != 2 {
		t.Errorf("stats %+v", stats)
	}
	if _, ok := loadDocstore(t, f.loc).Get(entryid.Make("Q2")); !ok {
		t.Error("Q2 not restored in docstore")
	}
}

func TestSync_DuplicateQuestionsLastWins(t *testing.T) {
	f := newFixture(t,
		models.Entry{Question: "Q1", Answer: "first"},
		models.Entry{Question: "Q1", Answer: "second"},
	)
	stats := f.mustSync(t)
	if stats.Vectors != 1 {
		t.Fatalf("stats %+v", stats)
	}
	snap, _ := f.sync.Snapshot(context.Background(), f.loc)
	if e, _ := snap.Resolve(entryid.Make("Q1")); e.Answer != "second" {
		t.Errorf("resolved %+v", e)
	}
}

func TestSync_MissingKnowledgeBase(t *testing.T) {
	f := newFixture(t)
	missing := kb.Location{Root: f.loc.Root, ID: "nope"}
	if _, err := f.sync.Sync(context.Background(), missing); !errors.Is(err, kb.ErrNotFound) {
		t.Errorf("err=%v", err)
	}
	if _, err := f.sync.Snapshot(context.Background(), missing); !errors.Is(err, kb.ErrNotFound) {
		t.Errorf("snapshot err=%v", err)
	}
}

func TestSearch_EmptyAndTopK(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res, err := f.sync.Search(ctx, f.loc, "anything", 3)
	if err != nil || len(res) != 0 {
		t.Fatalf("empty kb: %v %v", res, err)
	}

	var entries []models.Entry
	for _, q := range []string{"alpha one", "alpha two", "alpha three", "alpha four", "beta"} {
		entries = append(entries, models.Entry{Question: q, Answer: "text"})
	}
	f.setEntries(t, entries...)
	f.mustSync(t)

	res, err = f.sync.Search(ctx, f.loc, "alpha", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 {
		t.Fatalf("got %d results", len(res))
	}
	for i, r := range res {
		if !strings.HasPrefix(r.Question, "alpha") {
			t.Errorf("result %d = %q", i, r.Question)
		}
		if r.Score <= 0 || r.Score > 1 {
			t.Errorf("score %v outside (0,1]", r.Score)
		}
		if i > 0 && r.Score > res[i-1].Score {
			t.Error("scores not descending")
		}
	}

	f.emb.fail.Store(true)
	if _, err := f.sync.Search(ctx, f.loc, "alpha", 3); !errors.Is(err, kb.ErrUpstreamUnavailable) {
		t.Errorf("query embed failure: %v", err)
	}
}

func TestSnapshot_KeywordIndex(t *testing.T) {
	f := newFixture(t,
		models.Entry{Question: "Where is the office?", Answer: "Main street 5."},
		models.Entry{Question: "Do you deliver?", Answer: "Yes, nationwide."},
	)
	f.mustSync(t)
	snap, err := f.sync.Snapshot(context.Background(), f.loc)
	if err != nil {
		t.Fatal(err)
	}
	kw, err := snap.Keyword(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	res, err := kw.Search(context.Background(), "nationwide", 5, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Fatalf("keyword results %+v", res)
	}
	if e, ok := snap.Resolve(res[0].ID); !ok || e.Question != "Do you deliver?" {
		t.Errorf("resolved %+v", e)
	}
}

func TestDrop(t *testing.T) {
	f := newFixture(t, models.Entry{Question: "Q1", Answer: "A1"})
	ctx := context.Background()
	f.mustSync(t)

	if err := f.repo.Delete(ctx, f.loc); err != nil {
		t.Fatal(err)
	}
	if _, err := f.sync.Snapshot(ctx, f.loc); err != nil {
		t.Fatalf("cached snapshot should survive until dropped: %v", err)
	}
	f.sync.Drop(f.loc)
	if _, err := f.sync.Snapshot(ctx, f.loc); !errors.Is(err, kb.ErrNotFound) {
		t.Errorf("after drop: %v", err)
	}
}

func TestRemove_SnapshotWaitsForDelete(t *testing.T) {
	f := newFixture(t, models.Entry{Question: "Q1", Answer: "A1"})
	ctx := context.Background()
	f.mustSync(t)
	f.sync.Drop(f.loc)

	started := make(chan struct{})
	release := make(chan struct{})
	removed := make(chan error, 1)
	go func() {
		removed <- f.sync.Remove(f.loc, func() error {
			close(started)
			<-release
			return f.repo.Delete(ctx, f.loc)
		})
	}()
	<-started

	loaded := make(chan error, 1)
	go func() {
		_, err := f.sync.Snapshot(ctx, f.loc)
		loaded <- err
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-removed; err != nil {
		t.Fatal(err)
	}
	if err := <-loaded; !errors.Is(err, kb.ErrNotFound) {
		t.Errorf("snapshot during delete: got %v, want ErrNotFound", err)
	}
	if f.sync.cached(f.loc) != nil {
		t.Error("deleted knowledge base is still cached")
	}
}

func TestRemove_EvictsOnFailure(t *testing.T) {
	f := newFixture(t, models.Entry{Question: "Q1", Answer: "A1"})
	f.mustSync(t)
	boom := errors.New("disk gone")
	if err := f.sync.Remove(f.loc, func() error { return boom }); !errors.Is(err, boom) {
		t.Errorf("Remove error = %v", err)
	}
	if f.sync.cached(f.loc) != nil {
		t.Error("snapshot not evicted")
	}
}

func TestSyncAll(t *testing.T) {
	f := newFixture(t, models.Entry{Question: "Q1", Answer: "A1"})
	ctx := context.Background()
	other := kb.Location{Root: f.loc.Root, ID: "sales"}
	_ = f.repo.PutInfo(ctx, other, kb.Info{Name: "Sales"})
	_ = f.repo.PutEntries(ctx, other, []models.Entry{{Question: "Price?", Answer: "Ten."}})

	if err := f.sync.SyncAll(ctx, f.loc.Root); err != nil {
		t.Fatal(err)
	}
	for _, loc := range []kb.Location{f.loc, other} {
		if _, err := os.Stat(loc.FingerprintPath()); err != nil {
			t.Errorf("%s not synced: %v", loc.ID, err)
		}
	}
}

func TestConcurrentReadersSeeCommittedSnapshots(t *testing.T) {
	f := newFixture(t,
		models.Entry{Question: "Q1", Answer: "Alpha"},
		models.Entry{Question: "Q2", Answer: "Gamma"},
	)
	f.mustSync(t)
	ctx := context.Background()

	valid := map[string]bool{"Alpha": true, "Beta": true, "Gamma": true}
	stop := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, 16)

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				res, err := f.sync.Search(ctx, f.loc, "q1", 2)
				if err != nil {
					errs <- err
					return
				}
				if len(res) != 2 {
					errs <- errors.New("reader saw a partial index")
					return
				}
				for _, hit := range res {
					if !valid[hit.Answer] {
						errs <- errors.New("reader saw unknown answer " + hit.Answer)
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		answer := "Alpha"
		if i%2 == 0 {
			answer = "Beta"
		}
		f.setEntries(t,
			models.Entry{Question: "Q1", Answer: answer},
			models.Entry{Question: "Q2", Answer: "Gamma"},
		)
		f.mustSync(t)
	}
	close(stop)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
