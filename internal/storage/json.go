package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// DialoguesFile is the per-tenant session document.
const DialoguesFile = "dialogues.json"

var _ SessionRepository = (*JSONSessionStore)(nil)

type dialogues struct {
	Metadata struct {
		CreatedAt     Time `json:"created_at"`
		LastUpdated   Time `json:"last_updated"`
		TotalSessions int  `json:"total_sessions"`
	} `json:"metadata"`
	Sessions map[string]*Record `json:"sessions"`
}

// JSONSessionStore keeps all sessions of a tenant in <root>/dialogues.json.
// Each file is rewritten atomically under its own mutex.
type JSONSessionStore struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewJSONSessionStore returns a store over per-tenant dialogue files.
func NewJSONSessionStore() *JSONSessionStore {
	return &JSONSessionStore{locks: make(map[string]*sync.Mutex)}
}

func dialoguesPath(root string) string {
	return filepath.Join(filepath.Clean(root), DialoguesFile)
}

func (s *JSONSessionStore) lock(root string) func() {
	path := dialoguesPath(root)
	s.mu.Lock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *JSONSessionStore) read(root string) (*dialogues, error) {
	var d dialogues
	err := utils.ReadJSON(dialoguesPath(root), &d)
	if errors.Is(err, fs.ErrNotExist) {
		now := Now()
		d.Metadata.CreatedAt = now
		d.Metadata.LastUpdated = now
	} else if err != nil {
		return nil, fmt.Errorf("%w: %v", kb.ErrCorruptState, err)
	}
	if d.Sessions == nil {
		d.Sessions = make(map[string]*Record)
	}
	return &d, nil
}

func (s *JSONSessionStore) write(root string, d *dialogues) error {
	d.Metadata.TotalSessions = len(d.Sessions)
	d.Metadata.LastUpdated = Now()
	if err := utils.WriteJSONAtomic(dialoguesPath(root), d); err != nil {
		return fmt.Errorf("failed to write dialogues: %w", err)
	}
	return nil
}

// update runs fn on the session document and writes it back when fn succeeds.
func (s *JSONSessionStore) update(ctx context.Context, root string, fn func(*dialogues) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(root)
	defer unlock()
	d, err := s.read(root)
	if err != nil {
		return err
	}
	if err := fn(d); err != nil {
		return err
	}
	return s.write(root, d)
}

func notFound(id string) error {
	return fmt.Errorf("%w: session %s", kb.ErrNotFound, id)
}

// Create stores rec as a new session.
func (s *JSONSessionStore) Create(ctx context.Context, root string, rec *Record) error {
	return s.update(ctx, root, func(d *dialogues) error {
		if _, ok := d.Sessions[rec.SessionID]; ok {
			return fmt.Errorf("%w: session %s exists", kb.ErrConflict, rec.SessionID)
		}
		c := rec.Clone()
		c.Metadata.TotalMessages = len(c.Messages)
		d.Sessions[rec.SessionID] = c
		return nil
	})
}

// Append adds msgs to session id.
func (s *JSONSessionStore) Append(ctx context.Context, root, id string, msgs ...Message) (*Record, error) {
	var out *Record
	err := s.update(ctx, root, func(d *dialogues) error {
		rec, ok := d.Sessions[id]
		if !ok {
			return notFound(id)
		}
		applyAppend(rec, msgs)
		out = rec.Clone()
		return nil
	})
	return out, err
}

func applyAppend(rec *Record, msgs []Message) {
	rec.Messages = append(rec.Messages, msgs...)
	rec.Metadata.TotalMessages = len(rec.Messages)
	rec.Metadata.LastUpdated = touched(msgs)
	rec.Metadata.Unread = true
	rec.Metadata.PotentialClient = nil
}

// Get returns session id.
func (s *JSONSessionStore) Get(ctx context.Context, root, id string) (*Record, error) {
	unlock := s.lock(root)
	defer unlock()
	d, err := s.read(root)
	if err != nil {
		return nil, err
	}
	rec, ok := d.Sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return rec.Clone(), nil
}

// List returns every session of the tenant, most recently updated first.
func (s *JSONSessionStore) List(ctx context.Context, root string) ([]*Record, error) {
	unlock := s.lock(root)
	defer unlock()
	d, err := s.read(root)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(d.Sessions))
	for _, rec := range d.Sessions {
		out = append(out, rec.Clone())
	}
	SortByRecency(out)
	return out, nil
}

// UpdateMetadata applies fn to the metadata of session id.
func (s *JSONSessionStore) UpdateMetadata(ctx context.Context, root, id string, at Time, fn func(*Metadata)) (*Record, error) {
	var out *Record
	err := s.update(ctx, root, func(d *dialogues) error {
		rec, ok := d.Sessions[id]
		if !ok {
			return notFound(id)
		}
		fn(&rec.Metadata)
		rec.Metadata.LastUpdated = orNow(at)
		out = rec.Clone()
		return nil
	})
	return out, err
}

// Delete removes session id.
func (s *JSONSessionStore) Delete(ctx context.Context, root, id string) error {
	return s.update(ctx, root, func(d *dialogues) error {
		if _, ok := d.Sessions[id]; !ok {
			return notFound(id)
		}
		delete(d.Sessions, id)
		return nil
	})
}

// Clear removes every session and resets the document header.
func (s *JSONSessionStore) Clear(ctx context.Context, root string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := s.lock(root)
	defer unlock()
	d := &dialogues{Sessions: make(map[string]*Record)}
	d.Metadata.CreatedAt = Now()
	return s.write(root, d)
}

// Stats summarizes the tenant's sessions.
func (s *JSONSessionStore) Stats(ctx context.Context, root string) (Stats, error) {
	unlock := s.lock(root)
	defer unlock()
	d, err := s.read(root)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		TotalSessions:  len(d.Sessions),
		StorageCreated: d.Metadata.CreatedAt,
		LastUpdated:    d.Metadata.LastUpdated,
	}
	for _, rec := range d.Sessions {
		st.TotalMessages += len(rec.Messages)
	}
	st.SizeBytes, err = SizeOf(dialoguesPath(root))
	return st, err
}

// Close is a no-op; files are closed after every call.
func (s *JSONSessionStore) Close() error {
	return nil
}

// SortByRecency orders records by last_updated, then created_at, newest first, then by id.
func SortByRecency(recs []*Record) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.Metadata.LastUpdated.Equal(b.Metadata.LastUpdated.Time) {
			return a.Metadata.LastUpdated.After(b.Metadata.LastUpdated.Time)
		}
		if !a.CreatedAt.Equal(b.CreatedAt.Time) {
			return a.CreatedAt.After(b.CreatedAt.Time)
		}
		return a.SessionID < b.SessionID
	})
}
