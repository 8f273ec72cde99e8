// Package chat answers visitor messages: it resolves the session and knowledge base,
// retrieves context, builds the prompt and records the exchange.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/kbrouter"
	"github.com/hyperjump/neurobot/internal/metrics"
	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/internal/session"
	"github.com/hyperjump/neurobot/internal/storage"
	"github.com/hyperjump/neurobot/internal/tenant"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// Retriever finds the entries of a knowledge base closest to a query.
// *indexer.Synchronizer implements it.
type Retriever interface {
	Search(ctx context.Context, loc kb.Location, query string, k int) ([]*models.SearchResult, error)
}

// KnowledgeBases exposes knowledge base metadata and style settings. *kb.Manager implements it.
type KnowledgeBases interface {
	Get(ctx context.Context, kbID string) (kb.Info, error)
	Settings(ctx context.Context, kbID string) (kb.Settings, error)
}

// Defaults for Limits.
const (
	DefaultTopK            = 3
	DefaultHistoryMessages = 10
	DefaultMaxTokens       = 1000
)

// Limits bound one chat turn.
type Limits struct {
	TopK            int
	HistoryMessages int
	MaxTokens       int
}

// Deps are the collaborators of a Service.
type Deps struct {
	Sessions  *session.Router
	KBRouter  *kbrouter.Router
	KBs       KnowledgeBases
	Retriever Retriever
	Generator Generator
	Status    *StatusStore
	Models    *ModelStore
}

// Service runs chat turns.
type Service struct {
	Deps
	analyzer Generator
	masker   *Masker
	limits   Limits
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics records chat outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLimits overrides retrieval depth, history length and reply size. Zero fields keep defaults.
func WithLimits(l Limits) Option {
	return func(s *Service) {
		if l.TopK > 0 {
			s.limits.TopK = l.TopK
		}
		if l.HistoryMessages > 0 {
			s.limits.HistoryMessages = l.HistoryMessages
		}
		if l.MaxTokens > 0 {
			s.limits.MaxTokens = l.MaxTokens
		}
	}
}

// WithAnalyzer sets the model used to classify potential clients.
func WithAnalyzer(g Generator) Option {
	return func(s *Service) { s.analyzer = g }
}

// NewService returns a Service over d.
func NewService(d Deps, opts ...Option) *Service {
	s := &Service{
		Deps:   d,
		masker: NewMasker(),
		limits: Limits{TopK: DefaultTopK, HistoryMessages: DefaultHistoryMessages, MaxTokens: DefaultMaxTokens},
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = utils.LoggerOrNop(s.logger)
	return s
}

// Question is one visitor message.
type Question struct {
	IP      string
	Message string
	// SessionID is the id the client believes it is in. It is advisory only.
	SessionID string
}

// Answer is the reply to a Question.
type Answer struct {
	Response  string       `json:"response"`
	SessionID string       `json:"session_id"`
	KBID      string       `json:"kb_id"`
	KBName    string       `json:"kb_name"`
	Model     tenant.Model `json:"model,omitempty"`
	Switched  bool         `json:"switched,omitempty"`
}

// Ask answers q for the tenant in ctx. Stopped chatbots return a *StoppedError. Control
// messages switch the caller's knowledge base and are not stored.
func (s *Service) Ask(ctx context.Context, q Question) (*Answer, error) {
	start := time.Now()
	ans, result, err := s.ask(ctx, q)
	s.metrics.RecordChat(result, time.Since(start))
	return ans, err
}

func (s *Service) ask(ctx context.Context, q Question) (*Answer, string, error) {
	msg := strings.TrimSpace(q.Message)
	if msg == "" {
		return nil, "invalid", fmt.Errorf("%w: message cannot be empty", kb.ErrInvalid)
	}
	if err := s.Status.Check(ctx); err != nil {
		return nil, "stopped", err
	}

	hint, err := s.KBRouter.Resolve(ctx, nil)
	if err != nil {
		return nil, "error", err
	}
	sess, err := s.Sessions.ResolveOrCreate(ctx, q.IP, session.Binding{KBID: hint.ID, KBName: hint.Name}, q.SessionID)
	if err != nil {
		return nil, "error", fmt.Errorf("failed to resolve session: %w", err)
	}

	out, err := s.KBRouter.Intercept(ctx, q.IP, msg)
	if err != nil {
		return nil, "error", err
	}
	if out.Consumed {
		return &Answer{
			Response:  out.Reply,
			SessionID: out.Session.ID,
			KBID:      out.KB.ID,
			KBName:    out.KB.Name,
			Switched:  true,
		}, "control", nil
	}

	info, err := s.KBRouter.Resolve(ctx, sess)
	if err != nil {
		return nil, "error", err
	}
	hits := s.retrieve(ctx, info.ID, msg)

	settings, err := s.KBs.Settings(ctx, info.ID)
	if err != nil {
		return nil, "error", err
	}
	tc, err := tenant.FromContext(ctx)
	if err != nil {
		return nil, "error", err
	}
	model, err := s.Models.Effective(ctx)
	if err != nil {
		return nil, "error", err
	}

	masked, n := s.masker.Mask(msg)
	history, hn := s.turns(sess.History(s.limits.HistoryMessages))
	if n+hn > 0 {
		s.logger.Debug("masked personal data", zap.String("tenant", tc.TenantID), zap.Int("items", n+hn))
	}

	reply, err := s.Generator.Generate(ctx, Request{
		Model:     model,
		System:    SystemPrompt(EffectiveStyle(settings, tc.Persona), hits),
		History:   history,
		Message:   masked,
		MaxTokens: s.limits.MaxTokens,
		Hits:      hits,
	})
	if err != nil {
		s.logger.Error("generation failed",
			zap.String("tenant", tc.TenantID),
			zap.String("model", string(model)),
			zap.Error(err))
		return nil, "error", fmt.Errorf("%w: %w", kb.ErrUpstreamUnavailable, err)
	}

	if _, err := s.Sessions.OnMessage(ctx, sess.ID, session.RoleUser, msg); err != nil {
		return nil, "error", fmt.Errorf("failed to record message: %w", err)
	}
	if _, err := s.Sessions.OnMessage(ctx, sess.ID, session.RoleAssistant, reply); err != nil {
		return nil, "error", fmt.Errorf("failed to record reply: %w", err)
	}
	return &Answer{
		Response:  reply,
		SessionID: sess.ID,
		KBID:      info.ID,
		KBName:    info.Name,
		Model:     model,
	}, "answered", nil
}

// retrieve returns the closest entries, or none when the index cannot be searched.
func (s *Service) retrieve(ctx context.Context, kbID, query string) []*models.SearchResult {
	loc, err := kb.LocationFor(ctx, kbID)
	if err != nil {
		return nil
	}
	hits, err := s.Retriever.Search(ctx, loc, query, s.limits.TopK)
	if err != nil {
		s.logger.Warn("retrieval failed, answering without context",
			zap.String("tenant", tenant.ID(ctx)),
			zap.String("kb", kbID),
			zap.Error(err))
		return nil
	}
	return hits
}

// turns converts stored messages to generator turns, masking visitor messages.
func (s *Service) turns(msgs []storage.Message) ([]Turn, int) {
	out := make([]Turn, 0, len(msgs))
	total := 0
	for _, m := range msgs {
		content := m.Content
		if m.Role == session.RoleUser {
			var n int
			content, n = s.masker.Mask(content)
			total += n
		}
		out = append(out, Turn{Role: m.Role, Content: content})
	}
	return out, total
}
