package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/storage"
	"github.com/hyperjump/neurobot/internal/tenant"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// Router resolves clients to sessions. Lookups are scoped to the tenant data root in ctx.
type Router struct {
	repo   storage.SessionRepository
	logger *zap.Logger
	now    func() time.Time

	ipLocks  *keyedMutex // creation lock per (root, ip)
	msgLocks *keyedMutex // write lock per (root, id)

	mu       sync.Mutex
	affinity map[string]string   // (root, ip) -> current session id
	pending  map[string]*Session // (root, id)
	clears   map[string]uint64   // root -> ClearAll generation
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = utils.LoggerOrNop(l) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter returns a Router persisting ACTIVE sessions in repo.
func NewRouter(repo storage.SessionRepository, opts ...Option) *Router {
	r := &Router{
		repo:     repo,
		logger:   zap.NewNop(),
		now:      time.Now,
		ipLocks:  newKeyedMutex(),
		msgLocks: newKeyedMutex(),
		affinity: make(map[string]string),
		pending:  make(map[string]*Session),
		clears:   make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func key(root, s string) string {
	return root + "\x00" + s
}

func tenantRoot(ctx context.Context) (string, error) {
	root, err := tenant.DataRoot(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Clean(root), nil
}

// stamp returns the router clock truncated to the stored timestamp precision.
func (r *Router) stamp() storage.Time {
	return storage.Time{Time: r.now().UTC().Truncate(time.Microsecond)}
}

func notFound(id string) error {
	return fmt.Errorf("%w: session %s", kb.ErrNotFound, id)
}

// lookup returns session id from the pending tier or the repository.
func (r *Router) lookup(ctx context.Context, root, id string) (*Session, error) {
	k := key(root, id)
	r.mu.Lock()
	if s, ok := r.pending[k]; ok {
		c := s.clone()
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()
	rec, err := r.repo.Get(ctx, root, id)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// current returns the current session of (root, ip), or nil. Callers hold the ip lock.
// The affinity map is authoritative; after a restart the most recently updated stored
// session of the ip becomes current.
func (r *Router) current(ctx context.Context, root, ip string) (*Session, error) {
	ak := key(root, ip)
	r.mu.Lock()
	id, ok := r.affinity[ak]
	r.mu.Unlock()
	if ok {
		s, err := r.lookup(ctx, root, id)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, kb.ErrNotFound) {
			return nil, err
		}
		r.mu.Lock()
		if r.affinity[ak] == id {
			delete(r.affinity, ak)
		}
		r.mu.Unlock()
	}

	recs, err := r.repo.List(ctx, root)
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.Metadata.IPAddress != ip {
			continue
		}
		r.mu.Lock()
		r.affinity[ak] = rec.SessionID
		r.mu.Unlock()
		return fromRecord(rec), nil
	}
	return nil, nil
}

// newPending makes a new PENDING session current for ip. A PENDING session it replaces is
// discarded: it holds no messages and nothing can reach it once it is not current.
// Callers hold the ip lock.
func (r *Router) newPending(root, ip string, b Binding) *Session {
	now := r.stamp().Time
	s := &Session{
		ID:          uuid.NewString(),
		IPAddress:   ip,
		KBID:        b.KBID,
		KBName:      b.KBName,
		CreatedAt:   now,
		LastUpdated: now,
		Messages:    []storage.Message{},
		State:       StatePending,
	}
	ak := key(root, ip)
	r.mu.Lock()
	if prev, ok := r.affinity[ak]; ok {
		delete(r.pending, key(root, prev))
	}
	r.pending[key(root, s.ID)] = s
	r.affinity[ak] = s.ID
	r.mu.Unlock()
	return s.clone()
}

// ResolveOrCreate returns the current session of ip, creating a PENDING session bound to hint
// when there is none. clientSessionID is honored only if it names that same session.
func (r *Router) ResolveOrCreate(ctx context.Context, ip string, hint Binding, clientSessionID string) (*Session, error) {
	root, err := tenantRoot(ctx)
	if err != nil {
		return nil, err
	}
	unlock := r.ipLocks.Lock(key(root, ip))
	defer unlock()

	s, err := r.current(ctx, root, ip)
	if err != nil {
		return nil, err
	}
	if s != nil {
		if clientSessionID != "" && clientSessionID != s.ID {
			r.logger.Debug("ignoring client session id not bound to ip",
				zap.String("tenant", tenant.ID(ctx)))
		}
		return s, nil
	}
	s = r.newPending(root, ip, hint)
	r.logger.Debug("session created", zap.String("tenant", tenant.ID(ctx)), zap.String("session", s.ID))
	return s, nil
}

// Start makes a new PENDING session bound to b the current session of ip.
// A previous ACTIVE session is kept but no longer current.
func (r *Router) Start(ctx context.Context, ip string, b Binding) (*Session, error) {
	root, err := tenantRoot(ctx)
	if err != nil {
		return nil, err
	}
	unlock := r.ipLocks.Lock(key(root, ip))
	defer unlock()
	return r.newPending(root, ip, b), nil
}

// GetByIP returns the current session of ip, or kb.ErrNotFound.
func (r *Router) GetByIP(ctx context.Context, ip string) (*Session, error) {
	root, err := tenantRoot(ctx)
	if err != nil {
		return nil, err
	}
	unlock := r.ipLocks.Lock(key(root, ip))
	defer unlock()
	s, err := r.current(ctx, root, ip)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, fmt.Errorf("%w: no session for ip", kb.ErrNotFound)
	}
	return s, nil
}

// Get returns session id.
func (r *Router) Get(ctx context.Context, id string) (*Session, error) {
	root, err := tenantRoot(ctx)
	if err != nil {
		return nil, err
	}
	return r.lookup(ctx, root, id)
}

// OnMessage appends a message to session id. The first message promotes a PENDING session
// to ACTIVE. Every message marks the session unread and resets potential_client to unknown.
func (r *Router) OnMessage(ctx context.Context, id, role, content string) (*Session, error) {
	root, err := tenantRoot(ctx)
	if err != nil {
		return nil, err
	}
	unlock := r.msgLocks.Lock(key(root, id))
	defer unlock()

	msg := storage.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: r.stamp(),
	}

	k := key(root, id)
	r.mu.Lock()
	p, isPending := r.pending[k]
	var snapshot *Session
	if isPending {
		snapshot = p.clone()
	}
	generation := r.clears[root]
	r.mu.Unlock()

	if isPending {
		rec := &storage.Record{
			SessionID: snapshot.ID,
			CreatedAt: storage.Time{Time: snapshot.CreatedAt},
			Messages:  []storage.Message{msg},
			Metadata: storage.Metadata{
				TotalMessages: 1,
				LastUpdated:   msg.Timestamp,
				Unread:        true,
				IPAddress:     snapshot.IPAddress,
				KBID:          snapshot.KBID,
				KBName:        snapshot.KBName,
			},
		}
		if err := r.repo.Create(ctx, root, rec); err != nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
		r.mu.Lock()
		delete(r.pending, k)
		cleared := r.clears[root] != generation
		r.mu.Unlock()
		if cleared {
			// ClearAll ran while the session was being stored.
			if err := r.repo.Delete(ctx, root, id); err != nil && !errors.Is(err, kb.ErrNotFound) {
				return nil, err
			}
			return nil, notFound(id)
		}
		r.logger.Debug("session promoted", zap.String("tenant", tenant.ID(ctx)), zap.String("session", id))
		return fromRecord(rec), nil
	}

	rec, err := r.repo.Append(ctx, root, id, msg)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// List returns the tenant's sessions that have messages, most recently updated first.
func (r *Router) List(ctx context.Context) ([]Summary, error) {
	root, err := tenantRoot(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := r.repo.List(ctx, root)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(recs))
	for _, rec := range recs {
		if len(rec.Messages) == 0 {
			continue
		}
		out = append(out, summarize(rec))
	}
	return out, nil
}

// MarkRead clears the unread flag of session id.
func (r *Router) MarkRead(ctx context.Context, id string) (*Session, error) {
	return r.updateMetadata(ctx, id, func(m *storage.Metadata) { m.Unread = false })
}

// SetPotentialClient records whether session id is a potential client; nil means unknown.
func (r *Router) SetPotentialClient(ctx context.Context, id string, v *bool) (*Session, error) {
	return r.updateMetadata(ctx, id, func(m *storage.Metadata) { m.PotentialClient = v })
}

func (r *Router) updateMetadata(ctx context.Context, id string, fn func(*storage.Metadata)) (*Session, error) {
	root, err := tenantRoot(ctx)
	if err != nil {
		return nil, err
	}
	unlock := r.msgLocks.Lock(key(root, id))
	defer unlock()
	rec, err := r.repo.UpdateMetadata(ctx, root, id, r.stamp(), fn)
	if err != nil {
		return nil, err
	}
	return fromRecord(rec), nil
}

// Delete moves session id to DELETED. Deleted sessions never accept messages again.
func (r *Router) Delete(ctx context.Context, id string) error {
	root, err := tenantRoot(ctx)
	if err != nil {
		return err
	}
	unlock := r.msgLocks.Lock(key(root, id))
	defer unlock()

	k := key(root, id)
	r.mu.Lock()
	_, wasPending := r.pending[k]
	r.mu.Unlock()

	err = r.repo.Delete(ctx, root, id)
	if err != nil && !(wasPending && errors.Is(err, kb.ErrNotFound)) {
		return err
	}
	r.mu.Lock()
	delete(r.pending, k)
	r.dropAffinity(root, func(sid string) bool { return sid == id })
	r.mu.Unlock()
	return nil
}

// ClearAll deletes every session of the tenant, pending ones included.
func (r *Router) ClearAll(ctx context.Context) error {
	root, err := tenantRoot(ctx)
	if err != nil {
		return err
	}
	if err := r.repo.Clear(ctx, root); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears[root]++
	prefix := root + "\x00"
	for k := range r.pending {
		if strings.HasPrefix(k, prefix) {
			delete(r.pending, k)
		}
	}
	r.dropAffinity(root, func(string) bool { return true })
	return nil
}

// dropAffinity removes the root's affinity entries whose session matches. Callers hold r.mu.
func (r *Router) dropAffinity(root string, match func(id string) bool) {
	prefix := root + "\x00"
	for k, sid := range r.affinity {
		if strings.HasPrefix(k, prefix) && match(sid) {
			delete(r.affinity, k)
		}
	}
}

// Stats summarizes the tenant's stored sessions.
func (r *Router) Stats(ctx context.Context) (storage.Stats, error) {
	root, err := tenantRoot(ctx)
	if err != nil {
		return storage.Stats{}, err
	}
	return r.repo.Stats(ctx, root)
}
