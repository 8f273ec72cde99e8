package chat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/storage"
	"github.com/hyperjump/neurobot/internal/tenant"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// StatusFile holds the per-tenant chatbot availability.
const StatusFile = "chatbot_status.json"

// Who stopped the chatbot.
const (
	StoppedByUser  = "user"
	StoppedByAdmin = "admin"
)

// DefaultStopMessage is shown to visitors when no custom message was set.
const DefaultStopMessage = "The chatbot is temporarily unavailable."

// ErrStopped is matched by errors returned for requests to a stopped chatbot.
var ErrStopped = errors.New("chatbot stopped")

// StoppedError carries the visitor-facing stop message.
type StoppedError struct {
	Message string
}

func (e *StoppedError) Error() string { return "chatbot stopped: " + e.Message }

// Is reports whether target is ErrStopped.
func (e *StoppedError) Is(target error) bool { return target == ErrStopped }

// Status is the contents of chatbot_status.json.
type Status struct {
	Stopped   bool          `json:"stopped"`
	StoppedAt *storage.Time `json:"stopped_at"`
	StoppedBy string        `json:"stopped_by"`
	Message   string        `json:"message"`
}

// StatusStore reads and writes chatbot_status.json under the tenant data root.
type StatusStore struct {
	mu     sync.Mutex
	logger *zap.Logger
	now    func() time.Time
}

// NewStatusStore returns a StatusStore.
func NewStatusStore(logger *zap.Logger) *StatusStore {
	return &StatusStore{logger: utils.LoggerOrNop(logger), now: time.Now}
}

func statusPath(ctx context.Context) (string, error) {
	root, err := tenant.DataRoot(ctx)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, StatusFile), nil
}

// Get returns the chatbot status. A missing or unreadable file means running.
func (s *StatusStore) Get(ctx context.Context) (Status, error) {
	path, err := statusPath(ctx)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(ctx, path), nil
}

func (s *StatusStore) read(ctx context.Context, path string) Status {
	var st Status
	err := utils.ReadJSON(path, &st)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		s.logger.Warn("unreadable chatbot status, assuming running",
			zap.String("tenant", tenant.ID(ctx)), zap.Error(err))
		return Status{}
	}
	if st.Stopped && st.Message == "" {
		st.Message = DefaultStopMessage
	}
	return st
}

// Stop stops the chatbot. A user cannot replace a stop set by an administrator.
func (s *StatusStore) Stop(ctx context.Context, by, message string) (Status, error) {
	if by != StoppedByUser && by != StoppedByAdmin {
		return Status{}, fmt.Errorf("%w: unknown stop source %q", kb.ErrInvalid, by)
	}
	path, err := statusPath(ctx)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.read(ctx, path)
	if cur.Stopped && cur.StoppedBy == StoppedByAdmin && by == StoppedByUser {
		return cur, fmt.Errorf("%w: chatbot was stopped by an administrator", kb.ErrConflict)
	}
	message = strings.TrimSpace(message)
	if message == "" {
		message = DefaultStopMessage
	}
	at := storage.Time{Time: s.now().UTC()}
	st := Status{Stopped: true, StoppedAt: &at, StoppedBy: by, Message: message}
	if err := utils.WriteJSONAtomic(path, st); err != nil {
		return Status{}, fmt.Errorf("failed to write chatbot status: %w", err)
	}
	s.logger.Info("chatbot stopped", zap.String("tenant", tenant.ID(ctx)), zap.String("by", by))
	return st, nil
}

// Start resumes the chatbot. Only an administrator can lift an administrator's stop.
func (s *StatusStore) Start(ctx context.Context, by string) (Status, error) {
	path, err := statusPath(ctx)
	if err != nil {
		return Status{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.read(ctx, path)
	if cur.Stopped && cur.StoppedBy == StoppedByAdmin && by != StoppedByAdmin {
		return cur, fmt.Errorf("%w: chatbot was stopped by an administrator", kb.ErrConflict)
	}
	st := Status{}
	if err := utils.WriteJSONAtomic(path, st); err != nil {
		return Status{}, fmt.Errorf("failed to write chatbot status: %w", err)
	}
	s.logger.Info("chatbot started", zap.String("tenant", tenant.ID(ctx)), zap.String("by", by))
	return st, nil
}

// Check returns a *StoppedError when the chatbot is stopped.
func (s *StatusStore) Check(ctx context.Context) error {
	st, err := s.Get(ctx)
	if err != nil {
		return err
	}
	if st.Stopped {
		return &StoppedError{Message: st.Message}
	}
	return nil
}
