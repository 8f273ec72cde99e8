// Package kbrouter decides which knowledge base answers a chat request and handles the
// in-band control messages that switch a caller between knowledge bases.
package kbrouter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/session"
	"github.com/hyperjump/neurobot/internal/tenant"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// Directory is the knowledge base lookup the router needs. *kb.Manager implements it.
type Directory interface {
	Get(ctx context.Context, kbID string) (kb.Info, error)
	EnsureDefault(ctx context.Context) (kb.Info, error)
	Current(ctx context.Context) (string, error)
	FindByPassword(ctx context.Context, candidate string) (kb.Info, bool, error)
}

// Sessions starts sessions. *session.Router implements it.
type Sessions interface {
	Start(ctx context.Context, ip string, b session.Binding) (*session.Session, error)
}

// Resolver proposes a knowledge base for a request. ok=false defers to the next resolver.
// s may be nil when no session exists yet.
type Resolver func(ctx context.Context, s *session.Session) (info kb.Info, ok bool, err error)

// FromOverride resolves the knowledge base pinned in the tenant context. A pinned base that
// does not exist is an error, not a fallthrough.
func FromOverride(dir Directory) Resolver {
	return func(ctx context.Context, _ *session.Session) (kb.Info, bool, error) {
		tc, err := tenant.FromContext(ctx)
		if err != nil {
			return kb.Info{}, false, err
		}
		if tc.KBOverride == "" {
			return kb.Info{}, false, nil
		}
		info, err := dir.Get(ctx, tc.KBOverride)
		if err != nil {
			return kb.Info{}, false, err
		}
		return info, true, nil
	}
}

// FromSession resolves the knowledge base bound to the caller's session. A binding to a
// base that was deleted since falls through.
func FromSession(dir Directory, logger *zap.Logger) Resolver {
	logger = utils.LoggerOrNop(logger)
	return func(ctx context.Context, s *session.Session) (kb.Info, bool, error) {
		if s == nil || s.KBID == "" {
			return kb.Info{}, false, nil
		}
		info, err := dir.Get(ctx, s.KBID)
		if errors.Is(err, kb.ErrNotFound) || errors.Is(err, kb.ErrInvalid) {
			logger.Warn("session bound to missing knowledge base",
				zap.String("tenant", tenant.ID(ctx)),
				zap.String("session", s.ID),
				zap.String("kb", s.KBID))
			return kb.Info{}, false, nil
		}
		if err != nil {
			return kb.Info{}, false, err
		}
		return info, true, nil
	}
}

// FromCurrent resolves the tenant-wide current knowledge base pointer.
func FromCurrent(dir Directory) Resolver {
	return func(ctx context.Context, _ *session.Session) (kb.Info, bool, error) {
		id, err := dir.Current(ctx)
		if err != nil {
			return kb.Info{}, false, err
		}
		info, err := dir.Get(ctx, id)
		if errors.Is(err, kb.ErrNotFound) {
			return kb.Info{}, false, nil
		}
		if err != nil {
			return kb.Info{}, false, err
		}
		return info, true, nil
	}
}

// Default resolves the default knowledge base, creating it on first use. It always matches.
func Default(dir Directory) Resolver {
	return func(ctx context.Context, _ *session.Session) (kb.Info, bool, error) {
		info, err := dir.EnsureDefault(ctx)
		if err != nil {
			return kb.Info{}, false, err
		}
		return info, true, nil
	}
}

// Chain runs resolvers in order and returns the first match.
func Chain(ctx context.Context, s *session.Session, resolvers ...Resolver) (kb.Info, error) {
	for _, r := range resolvers {
		info, ok, err := r(ctx, s)
		if err != nil {
			return kb.Info{}, err
		}
		if ok {
			return info, nil
		}
	}
	return kb.Info{}, fmt.Errorf("%w: no knowledge base resolved", kb.ErrNotFound)
}

// Outcome is the result of Intercept.
type Outcome struct {
	// Consumed is true when the message was a control message and must not reach generation.
	Consumed bool
	Session  *session.Session
	KB       kb.Info
	Reply    string
}

// Router resolves knowledge bases for the public chat and the dashboard.
type Router struct {
	dir       Directory
	sessions  Sessions
	logger    *zap.Logger
	public    []Resolver
	dashboard []Resolver
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter builds the public chain (override, session, default) and the dashboard chain
// (override, current pointer, default).
func NewRouter(dir Directory, sessions Sessions, opts ...Option) *Router {
	r := &Router{dir: dir, sessions: sessions}
	for _, o := range opts {
		o(r)
	}
	r.logger = utils.LoggerOrNop(r.logger)
	r.public = []Resolver{FromOverride(dir), FromSession(dir, r.logger), Default(dir)}
	r.dashboard = []Resolver{FromOverride(dir), FromCurrent(dir), Default(dir)}
	return r
}

// Resolve returns the knowledge base that answers a chat message in session s.
// The tenant-wide current pointer is never consulted here.
func (r *Router) Resolve(ctx context.Context, s *session.Session) (kb.Info, error) {
	return Chain(ctx, s, r.public...)
}

// ResolveDashboard returns the knowledge base dashboard operations act on by default.
func (r *Router) ResolveDashboard(ctx context.Context) (kb.Info, error) {
	return Chain(ctx, nil, r.dashboard...)
}

// Intercept handles control messages before generation. The reset token and any knowledge
// base password start a new session for ip bound to that base; the message is consumed
// and never stored. Anything else is returned unconsumed.
func (r *Router) Intercept(ctx context.Context, ip, message string) (Outcome, error) {
	var (
		info kb.Info
		err  error
	)
	if message == kb.ResetToken {
		info, err = r.dir.EnsureDefault(ctx)
		if err != nil {
			return Outcome{}, err
		}
	} else {
		var ok bool
		info, ok, err = r.dir.FindByPassword(ctx, message)
		if err != nil {
			return Outcome{}, err
		}
		if !ok {
			return Outcome{}, nil
		}
	}

	s, err := r.sessions.Start(ctx, ip, session.Binding{KBID: info.ID, KBName: info.Name})
	if err != nil {
		return Outcome{}, err
	}
	r.logger.Info("switched knowledge base",
		zap.String("tenant", tenant.ID(ctx)),
		zap.String("session", s.ID),
		zap.String("kb", info.ID))
	return Outcome{Consumed: true, Session: s, KB: info.Public(), Reply: Confirmation(info)}, nil
}

// Confirmation is the reply sent when a caller switches to info.
func Confirmation(info kb.Info) string {
	if info.ID == kb.DefaultID {
		return "Switched to default knowledge base."
	}
	return fmt.Sprintf("Switched to knowledge base '%s'.", info.Name)
}
