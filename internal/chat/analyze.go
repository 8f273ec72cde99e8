package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/session"
	"github.com/hyperjump/neurobot/internal/tenant"
)

const analysisSystem = "You are an analyst who decides from chatbot dialogues whether a visitor is a potential client. Reply only YES or NO."

const analysisPrompt = `Decide whether the visitor in the dialogue below is a potential client of the company.

A potential client:
- is interested in the company's products or services
- asks follow-up questions about a product or service
- asks to be contacted by a person

Dialogue:
%s
Reply with one word in capitals: YES if the visitor is a potential client, NO otherwise.`

// AnalysisReport summarizes one AnalyzeUnread run.
type AnalysisReport struct {
	Analyzed     int `json:"analyzed"`
	Potential    int `json:"potential_clients"`
	NotPotential int `json:"not_potential"`
	Skipped      int `json:"skipped"`
}

// AnalyzeUnread classifies every unread session that has no potential_client verdict yet.
// Sessions bound to a knowledge base with analyze_clients off are skipped. Visitor messages
// are masked before they are sent to the model.
func (s *Service) AnalyzeUnread(ctx context.Context) (AnalysisReport, error) {
	var rep AnalysisReport
	if s.analyzer == nil {
		return rep, fmt.Errorf("%w: client analysis needs a generation model", kb.ErrUpstreamUnavailable)
	}
	list, err := s.Sessions.List(ctx)
	if err != nil {
		return rep, err
	}
	for _, sum := range list {
		if !sum.Unread || sum.PotentialClient != nil {
			continue
		}
		if sum.KBID != "" {
			info, err := s.KBs.Get(ctx, sum.KBID)
			if err == nil && !info.AnalyzeClients {
				rep.Skipped++
				continue
			}
			if err != nil && !errors.Is(err, kb.ErrNotFound) {
				return rep, err
			}
		}
		sess, err := s.Sessions.Get(ctx, sum.SessionID)
		if err != nil {
			continue
		}
		verdict, err := s.classify(ctx, sess)
		if err != nil {
			s.logger.Warn("client analysis failed",
				zap.String("tenant", tenant.ID(ctx)),
				zap.String("session", sess.ID),
				zap.Error(err))
			continue
		}
		if _, err := s.Sessions.SetPotentialClient(ctx, sess.ID, &verdict); err != nil {
			return rep, err
		}
		rep.Analyzed++
		if verdict {
			rep.Potential++
		} else {
			rep.NotPotential++
		}
	}
	return rep, nil
}

func (s *Service) classify(ctx context.Context, sess *session.Session) (bool, error) {
	var b strings.Builder
	for _, m := range sess.Messages {
		if m.Role == session.RoleUser {
			masked, _ := s.masker.Mask(m.Content)
			fmt.Fprintf(&b, "Visitor: %s\n", masked)
			continue
		}
		fmt.Fprintf(&b, "Bot: %s\n", m.Content)
	}
	reply, err := s.analyzer.Generate(ctx, Request{
		Model:     tenant.ModelLite,
		System:    analysisSystem,
		Message:   fmt.Sprintf(analysisPrompt, b.String()),
		MaxTokens: 10,
	})
	if err != nil {
		return false, err
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(reply)), "YES"), nil
}
