// Package server provides the HTTP API: public widget chat and the tenant dashboard.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/chat"
	"github.com/hyperjump/neurobot/internal/config"
	"github.com/hyperjump/neurobot/internal/extract"
	"github.com/hyperjump/neurobot/internal/indexer"
	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/kbrouter"
	"github.com/hyperjump/neurobot/internal/metrics"
	"github.com/hyperjump/neurobot/internal/search"
	"github.com/hyperjump/neurobot/internal/session"
	"github.com/hyperjump/neurobot/internal/tenant"
	"github.com/hyperjump/neurobot/internal/widget"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// Deps are the services behind the API.
type Deps struct {
	Config   *config.Config
	KBs      *kb.Manager
	Syncer   *indexer.Synchronizer
	Engine   *search.Engine
	Sessions *session.Router
	KBRouter *kbrouter.Router
	Chat     *chat.Service
	Widgets  *widget.Registry
	Tracker  *tenant.Tracker
	Metrics  *metrics.Metrics
	Importer *extract.Importer
	Logger   *zap.Logger
}

// Server is the HTTP server for the neurobot API.
type Server struct {
	Deps
	limiter *limiterSet
	handler http.Handler
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies and builds its routes.
func NewServer(d Deps) *Server {
	if d.Tracker == nil {
		d.Tracker = tenant.NewTracker()
	}
	if d.Importer == nil {
		d.Importer = extract.NewImporter()
	}
	s := &Server{
		Deps:    d,
		limiter: newLimiterSet(d.Config.Server.PublicRateLimit, d.Config.Server.PublicBurst),
		logger:  utils.LoggerOrNop(d.Logger),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.Config.Server.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.Config.Server.RequestTimeout))
	}
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler())
	}

	r.Route("/public", func(r chi.Router) {
		r.With(s.widgetTenant(false), s.rateLimit).Post("/widget/{widgetID}/chatbot", s.handlePublicChat)
		r.Route("/custom-widget/{widgetID}/chatbot", func(r chi.Router) {
			r.Use(s.cors)
			r.Options("/", s.handlePreflight)
			r.With(s.widgetTenant(true), s.rateLimit).Post("/", s.handleCustomChat)
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.dashboardAuth)

		r.Route("/knowledge-bases", func(r chi.Router) {
			r.Get("/", s.handleListKBs)
			r.Post("/", s.handleCreateKB)
			r.Get("/current", s.handleCurrentKB)
			r.Route("/{kbID}", func(r chi.Router) {
				r.Get("/", s.handleGetKB)
				r.Patch("/", s.handleUpdateKB)
				r.Delete("/", s.handleDeleteKB)
				r.Post("/switch", s.handleSwitchKB)
				r.Get("/settings", s.handleGetSettings)
				r.Put("/settings", s.handleUpdateSettings)
				r.Post("/sync", s.handleSyncKB)
				r.Post("/search", s.handleSearchKB)
				r.Post("/import", s.handleImport)
				r.Get("/export", s.handleExport)
				r.Route("/entries", func(r chi.Router) {
					r.Get("/", s.handleListEntries)
					r.Post("/", s.handleAddEntries)
					r.Put("/", s.handleReplaceEntries)
					r.Put("/{index}", s.handleUpdateEntry)
					r.Delete("/{index}", s.handleDeleteEntry)
				})
			})
		})
		r.Post("/semantic_search", s.handleSemanticSearch)

		r.Route("/dialogues", func(r chi.Router) {
			r.Get("/", s.handleListDialogues)
			r.Delete("/", s.handleClearDialogues)
			r.Get("/stats", s.handleDialogueStats)
			r.Post("/analyze", s.handleAnalyzeDialogues)
			r.Get("/by-ip/{ip}", s.handleDialogueByIP)
			r.Get("/{sessionID}", s.handleGetDialogue)
			r.Delete("/{sessionID}", s.handleDeleteDialogue)
			r.Post("/{sessionID}/read", s.handleMarkRead)
			r.Put("/{sessionID}/potential-client", s.handlePotentialClient)
		})

		r.Route("/chatbot", func(r chi.Router) {
			r.Post("/", s.handleDashboardChat)
			r.Get("/status", s.handleChatbotStatus)
			r.Post("/stop", s.handleChatbotStop)
			r.Post("/start", s.handleChatbotStart)
			r.Get("/model", s.handleGetModel)
			r.Put("/model", s.handleSetModel)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"active_tenants": s.Tracker.Tenants(),
	})
}
