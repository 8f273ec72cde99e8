package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/tenant"
)

func (s *Server) handleListDialogues(w http.ResponseWriter, r *http.Request) {
	list, err := s.Sessions.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "sessions": list, "total": len(list)})
}

func (s *Server) handleGetDialogue(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.Get(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "session": sess})
}

func (s *Server) handleDeleteDialogue(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.Delete(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleClearDialogues(w http.ResponseWriter, r *http.Request) {
	if err := s.Sessions.ClearAll(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("dialogues cleared", zap.String("tenant", tenant.ID(r.Context())))
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleDialogueStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.Sessions.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "stats": st})
}

func (s *Server) handleDialogueByIP(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.GetByIP(r.Context(), chi.URLParam(r, "ip"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "session": sess})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Sessions.MarkRead(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "session": sess})
}

// handlePotentialClient sets the verdict; null clears it.
func (s *Server) handlePotentialClient(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PotentialClient *bool `json:"potential_client"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	sess, err := s.Sessions.SetPotentialClient(r.Context(), chi.URLParam(r, "sessionID"), body.PotentialClient)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "session": sess})
}

func (s *Server) handleAnalyzeDialogues(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Chat.AnalyzeUnread(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "report": rep})
}
