package server

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/chat"
	"github.com/hyperjump/neurobot/internal/tenant"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`

	// Custom widget overrides. Levels may be numbers or numeric strings.
	Tone    any    `json:"tone"`
	Humor   any    `json:"humor"`
	Brevity any    `json:"brevity"`
	Mode    string `json:"mode"`
	Model   string `json:"model"`
}

// model returns the requested model: an explicit model id wins over a mode alias.
func (c chatRequest) model() tenant.Model {
	if m, ok := tenant.ParseModel(c.Model); ok {
		return m
	}
	if m, ok := tenant.ParseModel(c.Mode); ok {
		return m
	}
	return ""
}

func replyFrom(ans *chat.Answer) publicReply {
	return publicReply{
		Success:   true,
		Response:  ans.Response,
		SessionID: ans.SessionID,
		KBID:      ans.KBID,
		KBName:    ans.KBName,
		Model:     string(ans.Model),
	}
}

func (s *Server) handlePublicChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, publicReply{Error: invalidBodyError})
		return
	}
	ans, err := s.Chat.Ask(r.Context(), chat.Question{IP: clientIP(r), Message: req.Message, SessionID: req.SessionID})
	if err != nil {
		s.publicError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, replyFrom(ans))
}

// handleCustomChat is the public chat with per-request persona and model overrides.
func (s *Server) handleCustomChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.respondJSON(w, http.StatusBadRequest, publicReply{Error: invalidBodyError})
		return
	}

	tc := *tenant.MustFromContext(r.Context())
	tc.Persona = tenant.ParsePersona(req.Tone, req.Humor, req.Brevity)
	tc.Model = req.model()
	r = withTenant(r, &tc)

	ans, err := s.Chat.Ask(r.Context(), chat.Question{IP: clientIP(r), Message: req.Message, SessionID: req.SessionID})
	if err != nil {
		s.publicError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, replyFrom(ans))
}

// handleDashboardChat lets the tenant try the bot against its current knowledge base.
// Password and reset messages also move the tenant-wide current pointer.
func (s *Server) handleDashboardChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	info, err := s.KBRouter.ResolveDashboard(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tc := *tenant.MustFromContext(r.Context())
	tc.KBOverride = info.ID
	r = withTenant(r, &tc)

	ans, err := s.Chat.Ask(r.Context(), chat.Question{IP: clientIP(r), Message: req.Message, SessionID: req.SessionID})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if ans.Switched {
		if _, err := s.KBs.SetCurrent(r.Context(), ans.KBID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, replyFrom(ans))
}

func (s *Server) stopSource(r *http.Request) string {
	if principalFrom(r.Context()).Admin {
		return chat.StoppedByAdmin
	}
	return chat.StoppedByUser
}

func (s *Server) handleChatbotStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.Chat.Status.Get(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "status": st})
}

func (s *Server) handleChatbotStop(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := decodeOptionalJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	st, err := s.Chat.Status.Stop(r.Context(), s.stopSource(r), body.Message)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("chatbot stopped",
		zap.String("tenant", tenant.ID(r.Context())),
		zap.String("by", st.StoppedBy))
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "status": st})
}

func (s *Server) handleChatbotStart(w http.ResponseWriter, r *http.Request) {
	st, err := s.Chat.Status.Start(r.Context(), s.stopSource(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("chatbot started", zap.String("tenant", tenant.ID(r.Context())))
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "status": st})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.Chat.Models.Config(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "config": cfg})
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Model string `json:"model"`
		Mode  string `json:"mode"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	raw := body.Model
	if raw == "" {
		raw = body.Mode
	}
	cfg, err := s.Chat.Models.Set(r.Context(), raw)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "config": cfg})
}
