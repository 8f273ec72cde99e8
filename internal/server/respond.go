package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/chat"
	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/tenant"
)

// publicReply is the body of every public chat response.
type publicReply struct {
	Success        bool   `json:"success"`
	Response       string `json:"response,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	KBID           string `json:"kb_id,omitempty"`
	KBName         string `json:"kb_name,omitempty"`
	Model          string `json:"model,omitempty"`
	Error          string `json:"error,omitempty"`
	ChatbotStopped bool   `json:"chatbot_stopped,omitempty"`
}

const (
	genericPublicError = "Sorry, something went wrong. Please try again later."
	invalidBodyError   = "Invalid request body"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(data); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]any{"success": false, "error": message})
}

// statusFor maps the error taxonomy to HTTP status codes.
func statusFor(err error) int {
	var stopped *chat.StoppedError
	switch {
	case errors.As(err, &stopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, kb.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, kb.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, kb.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, kb.ErrUpstreamUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail writes a dashboard error carrying its cause.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("tenant", tenant.ID(r.Context())),
			zap.Error(err))
	}
	var stopped *chat.StoppedError
	if errors.As(err, &stopped) {
		s.respondJSON(w, status, publicReply{Error: stopped.Message, ChatbotStopped: true})
		return
	}
	s.respondError(w, status, err.Error())
}

// publicError writes a public chat error. Causes are logged, never returned; only the
// stop message, the empty message rule and unknown widgets are told to the visitor.
func (s *Server) publicError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	reply := publicReply{Error: genericPublicError}
	var stopped *chat.StoppedError
	switch {
	case errors.As(err, &stopped):
		reply.Error, reply.ChatbotStopped = stopped.Message, true
	case status == http.StatusNotFound && tenant.ID(r.Context()) == "":
		reply.Error = "Widget not found"
	case status == http.StatusBadRequest:
		reply.Error = "Message cannot be empty"
	default:
		status = http.StatusInternalServerError
		if errors.Is(err, kb.ErrUpstreamUnavailable) {
			status = http.StatusBadGateway
		}
		s.logger.Error("public chat failed",
			zap.String("path", r.URL.Path),
			zap.String("tenant", tenant.ID(r.Context())),
			zap.Error(err))
	}
	s.respondJSON(w, status, reply)
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, v any) error {
	if err := decodeJSON(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
