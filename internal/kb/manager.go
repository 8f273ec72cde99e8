package kb

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/internal/tenant"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// ResetToken is the chat message that switches a caller back to the default knowledge base.
// It can never be used as a password.
const ResetToken = "__RESET__"

// DefaultPageSize is the entries listing page size.
const DefaultPageSize = 50

// Syncer reconciles a knowledge base's search index with its entries.
type Syncer interface {
	Sync(ctx context.Context, loc Location) (SyncStats, error)
	// Remove runs remove under the sync lock of loc and then evicts its cached state.
	Remove(loc Location, remove func() error) error
}

// Manager owns knowledge base lifecycle and entry edits for the tenant found in the
// request context. Every entry mutation is followed by a sync of that knowledge base.
type Manager struct {
	repo   Repository
	syncer Syncer
	logger *zap.Logger
	now    func() time.Time
	locks  sync.Map // Location.Key() -> *sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithSyncer sets the index synchronizer run after entry edits.
func WithSyncer(s Syncer) Option {
	return func(m *Manager) { m.syncer = s }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over repo.
func NewManager(repo Repository, opts ...Option) *Manager {
	m := &Manager{repo: repo, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	m.logger = utils.LoggerOrNop(m.logger)
	return m
}

// Repository returns the underlying repository.
func (m *Manager) Repository() Repository {
	return m.repo
}

func (m *Manager) lock(loc Location) func() {
	v, _ := m.locks.LoadOrStore(loc.Key(), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// EnsureDefault creates the default knowledge base if the tenant has none.
func (m *Manager) EnsureDefault(ctx context.Context) (Info, error) {
	loc, err := LocationFor(ctx, DefaultID)
	if err != nil {
		return Info{}, err
	}
	unlock := m.lock(loc)
	defer unlock()

	info, err := m.repo.GetInfo(ctx, loc)
	if err == nil {
		return info, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Info{}, err
	}
	now := m.now().UTC()
	info = Info{ID: DefaultID, Name: DefaultName, CreatedAt: now, UpdatedAt: now, AnalyzeClients: true}
	if err := m.repo.PutInfo(ctx, loc, info); err != nil {
		return Info{}, err
	}
	if err := m.repo.PutEntries(ctx, loc, nil); err != nil {
		return Info{}, err
	}
	m.logger.Info("created default knowledge base", zap.String("tenant", tenant.ID(ctx)))
	return info, nil
}

// List returns all knowledge bases of the tenant, marking the current one.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	if _, err := m.EnsureDefault(ctx); err != nil {
		return nil, err
	}
	root, err := tenant.DataRoot(ctx)
	if err != nil {
		return nil, err
	}
	infos, err := m.repo.ListInfos(ctx, root)
	if err != nil {
		return nil, err
	}
	current, err := m.Current(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, len(infos))
	for i, info := range infos {
		out[i] = Summary{Info: info.Public(), IsCurrent: info.ID == current}
	}
	return out, nil
}

// Get returns the metadata of kbID. The default knowledge base is created on first access.
func (m *Manager) Get(ctx context.Context, kbID string) (Info, error) {
	if kbID == DefaultID {
		return m.EnsureDefault(ctx)
	}
	loc, err := LocationFor(ctx, kbID)
	if err != nil {
		return Info{}, err
	}
	return m.repo.GetInfo(ctx, loc)
}

// Create adds a knowledge base with a fresh 8-character id.
func (m *Manager) Create(ctx context.Context, name, password string) (Info, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Info{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	password = strings.TrimSpace(password)
	if err := m.checkPassword(ctx, "", password); err != nil {
		return Info{}, err
	}
	loc, err := LocationFor(ctx, uuid.NewString()[:8])
	if err != nil {
		return Info{}, err
	}
	now := m.now().UTC()
	info := Info{
		ID:             loc.ID,
		Name:           name,
		Password:       password,
		CreatedAt:      now,
		UpdatedAt:      now,
		AnalyzeClients: true,
	}
	if err := m.repo.PutInfo(ctx, loc, info); err != nil {
		return Info{}, err
	}
	if err := m.repo.PutEntries(ctx, loc, nil); err != nil {
		return Info{}, err
	}
	m.logger.Info("created knowledge base",
		zap.String("tenant", tenant.ID(ctx)),
		zap.String("kb", loc.ID))
	return info, nil
}

// checkPassword rejects the reset token and passwords already used by another knowledge base.
func (m *Manager) checkPassword(ctx context.Context, selfID, password string) error {
	if password == "" {
		return nil
	}
	if password == ResetToken {
		return fmt.Errorf("%w: password is reserved", ErrInvalid)
	}
	other, ok, err := m.FindByPassword(ctx, password)
	if err != nil {
		return err
	}
	if ok && other.ID != selfID {
		return fmt.Errorf("%w: password already used by another knowledge base", ErrConflict)
	}
	return nil
}

func (m *Manager) updateInfo(ctx context.Context, kbID string, fn func(*Info) error) (Info, error) {
	loc, err := LocationFor(ctx, kbID)
	if err != nil {
		return Info{}, err
	}
	if kbID == DefaultID {
		if _, err := m.EnsureDefault(ctx); err != nil {
			return Info{}, err
		}
	}
	unlock := m.lock(loc)
	defer unlock()
	info, err := m.repo.GetInfo(ctx, loc)
	if err != nil {
		return Info{}, err
	}
	if err := fn(&info); err != nil {
		return Info{}, err
	}
	info.UpdatedAt = m.now().UTC()
	if err := m.repo.PutInfo(ctx, loc, info); err != nil {
		return Info{}, err
	}
	return info, nil
}

// Rename changes the display name.
func (m *Manager) Rename(ctx context.Context, kbID, name string) (Info, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Info{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	return m.updateInfo(ctx, kbID, func(i *Info) error {
		i.Name = name
		return nil
	})
}

// SetPassword changes the switching password. An empty password disables switching to this base.
func (m *Manager) SetPassword(ctx context.Context, kbID, password string) (Info, error) {
	password = strings.TrimSpace(password)
	if err := m.checkPassword(ctx, kbID, password); err != nil {
		return Info{}, err
	}
	return m.updateInfo(ctx, kbID, func(i *Info) error {
		i.Password = password
		return nil
	})
}

// SetAnalyzeClients toggles lead analysis for sessions bound to this knowledge base.
func (m *Manager) SetAnalyzeClients(ctx context.Context, kbID string, enabled bool) (Info, error) {
	return m.updateInfo(ctx, kbID, func(i *Info) error {
		i.AnalyzeClients = enabled
		return nil
	})
}

// Delete removes a knowledge base with its entries, index, docstore and fingerprint.
// The default knowledge base cannot be deleted. If it was current, the pointer moves to default.
func (m *Manager) Delete(ctx context.Context, kbID string) error {
	if kbID == DefaultID {
		return fmt.Errorf("%w: the default knowledge base cannot be deleted", ErrInvalid)
	}
	loc, err := LocationFor(ctx, kbID)
	if err != nil {
		return err
	}
	unlock := m.lock(loc)
	defer unlock()
	if _, err := m.repo.GetInfo(ctx, loc); err != nil {
		return err
	}
	remove := func() error { return m.repo.Delete(ctx, loc) }
	if m.syncer != nil {
		err = m.syncer.Remove(loc, remove)
	} else {
		err = remove()
	}
	if err != nil {
		return err
	}
	current, err := m.repo.CurrentID(ctx, loc.Root)
	if err == nil && current == kbID {
		if err := m.repo.SetCurrentID(ctx, loc.Root, DefaultID); err != nil {
			return err
		}
	}
	m.logger.Info("deleted knowledge base",
		zap.String("tenant", tenant.ID(ctx)),
		zap.String("kb", kbID))
	return nil
}

// Current returns the tenant-wide current knowledge base, falling back to default when the
// pointer is unset, unreadable or names a deleted base.
func (m *Manager) Current(ctx context.Context) (string, error) {
	root, err := tenant.DataRoot(ctx)
	if err != nil {
		return "", err
	}
	id, err := m.repo.CurrentID(ctx, root)
	if err != nil {
		m.logger.Warn("unreadable current knowledge base pointer", zap.Error(err))
		return DefaultID, nil
	}
	if id == "" || id == DefaultID || !ValidID(id) {
		return DefaultID, nil
	}
	if _, err := m.repo.GetInfo(ctx, Location{Root: root, ID: id}); err != nil {
		return DefaultID, nil
	}
	return id, nil
}

// SetCurrent moves the tenant-wide pointer to kbID.
func (m *Manager) SetCurrent(ctx context.Context, kbID string) (Info, error) {
	info, err := m.Get(ctx, kbID)
	if err != nil {
		return Info{}, err
	}
	root, err := tenant.DataRoot(ctx)
	if err != nil {
		return Info{}, err
	}
	if err := m.repo.SetCurrentID(ctx, root, kbID); err != nil {
		return Info{}, err
	}
	return info, nil
}

// FindByPassword returns the knowledge base whose password equals candidate.
// Empty candidates never match.
func (m *Manager) FindByPassword(ctx context.Context, candidate string) (Info, bool, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return Info{}, false, nil
	}
	root, err := tenant.DataRoot(ctx)
	if err != nil {
		return Info{}, false, err
	}
	infos, err := m.repo.ListInfos(ctx, root)
	if err != nil {
		return Info{}, false, err
	}
	for _, info := range infos {
		if info.Password == "" {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(info.Password), []byte(candidate)) == 1 {
			return info, true, nil
		}
	}
	return Info{}, false, nil
}

// Settings returns the stored style settings of kbID.
func (m *Manager) Settings(ctx context.Context, kbID string) (Settings, error) {
	if _, err := m.Get(ctx, kbID); err != nil {
		return Settings{}, err
	}
	loc, err := LocationFor(ctx, kbID)
	if err != nil {
		return Settings{}, err
	}
	s, err := m.repo.Settings(ctx, loc)
	if err != nil {
		m.logger.Warn("unreadable settings, using defaults", zap.String("kb", kbID), zap.Error(err))
	}
	return s, nil
}

// UpdateSettings stores style settings, clamping out-of-range levels.
func (m *Manager) UpdateSettings(ctx context.Context, kbID string, s Settings) (Settings, error) {
	if _, err := m.Get(ctx, kbID); err != nil {
		return Settings{}, err
	}
	loc, err := LocationFor(ctx, kbID)
	if err != nil {
		return Settings{}, err
	}
	s = s.Clamp()
	if err := m.repo.PutSettings(ctx, loc, s); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Entries returns all entries of kbID.
func (m *Manager) Entries(ctx context.Context, kbID string) ([]models.Entry, error) {
	if _, err := m.Get(ctx, kbID); err != nil {
		return nil, err
	}
	loc, err := LocationFor(ctx, kbID)
	if err != nil {
		return nil, err
	}
	return m.repo.Entries(ctx, loc)
}

// ListEntries returns one page of entries, optionally filtered by a case-insensitive
// substring of the question or answer. page is 1-based.
func (m *Manager) ListEntries(ctx context.Context, kbID string, page, perPage int, search string) (models.EntryPage, error) {
	entries, err := m.Entries(ctx, kbID)
	if err != nil {
		return models.EntryPage{}, err
	}
	if perPage <= 0 {
		perPage = DefaultPageSize
	}
	if page <= 0 {
		page = 1
	}
	search = strings.TrimSpace(search)
	matched := make([]models.IndexedEntry, 0, len(entries))
	for i, e := range entries {
		if search != "" && !utils.ContainsFold(e.Question, search) && !utils.ContainsFold(e.Answer, search) {
			continue
		}
		matched = append(matched, models.IndexedEntry{Index: i, Entry: e})
	}
	total := len(matched)
	totalPages := (total + perPage - 1) / perPage
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return models.EntryPage{
		Entries:    matched[start:end],
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages,
		Search:     search,
	}, nil
}

// MutationResult reports an entry edit and the sync that followed it.
type MutationResult struct {
	DocumentCount int       `json:"document_count"`
	Sync          SyncStats `json:"sync"`
}

// mutate applies fn to the entries of kbID under the knowledge base lock, persists them,
// updates metadata and syncs the index. A sync failure is returned after the entries are saved;
// the index then stays on its last committed state until the next successful sync.
func (m *Manager) mutate(ctx context.Context, kbID string, fn func([]models.Entry) ([]models.Entry, error)) (MutationResult, error) {
	if _, err := m.Get(ctx, kbID); err != nil {
		return MutationResult{}, err
	}
	loc, err := LocationFor(ctx, kbID)
	if err != nil {
		return MutationResult{}, err
	}
	unlock := m.lock(loc)
	defer unlock()

	entries, err := m.repo.Entries(ctx, loc)
	if err != nil {
		return MutationResult{}, err
	}
	entries, err = fn(entries)
	if err != nil {
		return MutationResult{}, err
	}
	if err := m.repo.PutEntries(ctx, loc, entries); err != nil {
		return MutationResult{}, err
	}
	info, err := m.repo.GetInfo(ctx, loc)
	if err != nil {
		return MutationResult{}, err
	}
	info.DocumentCount = len(entries)
	info.UpdatedAt = m.now().UTC()
	if err := m.repo.PutInfo(ctx, loc, info); err != nil {
		return MutationResult{}, err
	}

	res := MutationResult{DocumentCount: len(entries)}
	if m.syncer == nil {
		return res, nil
	}
	stats, err := m.syncer.Sync(ctx, loc)
	res.Sync = stats
	if err != nil {
		return res, fmt.Errorf("entries saved but index sync failed: %w", err)
	}
	return res, nil
}

func normalizeAll(in []models.Entry) ([]models.Entry, error) {
	out := make([]models.Entry, 0, len(in))
	for i, e := range in {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalid, i, err)
		}
		out = append(out, e.Normalize())
	}
	return out, nil
}

// AddEntries appends entries. An entry whose question already exists replaces the old answer.
func (m *Manager) AddEntries(ctx context.Context, kbID string, add ...models.Entry) (MutationResult, error) {
	add, err := normalizeAll(add)
	if err != nil {
		return MutationResult{}, err
	}
	return m.mutate(ctx, kbID, func(entries []models.Entry) ([]models.Entry, error) {
		pos := make(map[string]int, len(entries))
		for i, e := range entries {
			pos[e.Question] = i
		}
		for _, e := range add {
			if i, ok := pos[e.Question]; ok {
				entries[i] = e
				continue
			}
			pos[e.Question] = len(entries)
			entries = append(entries, e)
		}
		return entries, nil
	})
}

// ReplaceEntries swaps the whole entry list, e.g. after an import.
func (m *Manager) ReplaceEntries(ctx context.Context, kbID string, entries []models.Entry) (MutationResult, error) {
	entries, err := normalizeAll(entries)
	if err != nil {
		return MutationResult{}, err
	}
	return m.mutate(ctx, kbID, func([]models.Entry) ([]models.Entry, error) {
		return dedupe(entries), nil
	})
}

// UpdateEntry replaces the entry at index.
func (m *Manager) UpdateEntry(ctx context.Context, kbID string, index int, e models.Entry) (MutationResult, error) {
	if err := e.Validate(); err != nil {
		return MutationResult{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	e = e.Normalize()
	return m.mutate(ctx, kbID, func(entries []models.Entry) ([]models.Entry, error) {
		if index < 0 || index >= len(entries) {
			return nil, fmt.Errorf("entry %d: %w", index, ErrNotFound)
		}
		for i, other := range entries {
			if i != index && other.Question == e.Question {
				return nil, fmt.Errorf("%w: question already exists at entry %d", ErrConflict, i)
			}
		}
		entries[index] = e
		return entries, nil
	})
}

// DeleteEntry removes the entry at index.
func (m *Manager) DeleteEntry(ctx context.Context, kbID string, index int) (MutationResult, error) {
	return m.mutate(ctx, kbID, func(entries []models.Entry) ([]models.Entry, error) {
		if index < 0 || index >= len(entries) {
			return nil, fmt.Errorf("entry %d: %w", index, ErrNotFound)
		}
		return append(entries[:index], entries[index+1:]...), nil
	})
}

// Resync runs the synchronizer for kbID without changing entries.
func (m *Manager) Resync(ctx context.Context, kbID string) (SyncStats, error) {
	if m.syncer == nil {
		return SyncStats{NoOp: true}, nil
	}
	if _, err := m.Get(ctx, kbID); err != nil {
		return SyncStats{}, err
	}
	loc, err := LocationFor(ctx, kbID)
	if err != nil {
		return SyncStats{}, err
	}
	unlock := m.lock(loc)
	defer unlock()
	return m.syncer.Sync(ctx, loc)
}

// dedupe keeps the last entry for each question, in first-seen order.
func dedupe(entries []models.Entry) []models.Entry {
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
