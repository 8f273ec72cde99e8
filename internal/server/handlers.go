package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/extract"
	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/internal/tenant"
)

// maxUpload bounds import file size.
const maxUpload = 20 << 20

func (s *Server) handleListKBs(w http.ResponseWriter, r *http.Request) {
	list, err := s.KBs.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	current := kb.DefaultID
	for _, k := range list {
		if k.IsCurrent {
			current = k.ID
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"knowledge_bases": list,
		"current_kb_id":   current,
	})
}

func (s *Server) handleCreateKB(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	info, err := s.KBs.Create(r.Context(), body.Name, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("knowledge base created", zap.String("tenant", tenant.ID(r.Context())), zap.String("kb", info.ID))
	s.respondJSON(w, http.StatusCreated, map[string]any{"success": true, "knowledge_base": info.Public()})
}

func (s *Server) handleCurrentKB(w http.ResponseWriter, r *http.Request) {
	info, err := s.KBRouter.ResolveDashboard(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "knowledge_base": info.Public()})
}

func (s *Server) handleGetKB(w http.ResponseWriter, r *http.Request) {
	info, err := s.KBs.Get(r.Context(), chi.URLParam(r, "kbID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	settings, err := s.KBs.Settings(r.Context(), info.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"knowledge_base": info.Public(),
		"has_password":   info.Password != "",
		"settings":       settings,
	})
}

func (s *Server) handleUpdateKB(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name           *string `json:"name"`
		Password       *string `json:"password"`
		AnalyzeClients *bool   `json:"analyze_clients"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "kbID")
	info, err := s.KBs.Get(ctx, id)
	if err == nil && body.Name != nil {
		info, err = s.KBs.Rename(ctx, id, *body.Name)
	}
	if err == nil && body.Password != nil {
		info, err = s.KBs.SetPassword(ctx, id, *body.Password)
	}
	if err == nil && body.AnalyzeClients != nil {
		info, err = s.KBs.SetAnalyzeClients(ctx, id, *body.AnalyzeClients)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "knowledge_base": info.Public()})
}

func (s *Server) handleDeleteKB(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "kbID")
	if err := s.KBs.Delete(r.Context(), id); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("knowledge base deleted", zap.String("tenant", tenant.ID(r.Context())), zap.String("kb", id))
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSwitchKB(w http.ResponseWriter, r *http.Request) {
	info, err := s.KBs.SetCurrent(r.Context(), chi.URLParam(r, "kbID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "knowledge_base": info.Public()})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.KBs.Settings(r.Context(), chi.URLParam(r, "kbID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "settings": st})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body kb.Settings
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	st, err := s.KBs.UpdateSettings(r.Context(), chi.URLParam(r, "kbID"), body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "settings": st})
}

func (s *Server) handleSyncKB(w http.ResponseWriter, r *http.Request) {
	stats, err := s.KBs.Resync(r.Context(), chi.URLParam(r, "kbID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "sync": stats})
}

// handleSearchKB runs the hybrid keyword and semantic search over one knowledge base.
func (s *Server) handleSearchKB(w http.ResponseWriter, r *http.Request) {
	var query models.SearchQuery
	if err := decodeJSON(r, &query); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	info, err := s.KBs.Get(r.Context(), chi.URLParam(r, "kbID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	loc, err := kb.LocationFor(r.Context(), info.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Debug("search request", zap.String("kb", info.ID), zap.Int("limit", query.Limit))
	resp, err := s.Engine.Search(r.Context(), loc, &query)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleSemanticSearch returns the nearest entries of a knowledge base, the current one by default.
func (s *Server) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Query string `json:"query"`
		KBID  string `json:"kb_id"`
		K     int    `json:"k"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body.Query = strings.TrimSpace(body.Query)
	if body.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query cannot be empty")
		return
	}
	ctx := r.Context()
	var (
		info kb.Info
		err  error
	)
	if body.KBID != "" {
		info, err = s.KBs.Get(ctx, body.KBID)
	} else {
		info, err = s.KBRouter.ResolveDashboard(ctx)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	k := body.K
	if k <= 0 {
		k = s.Config.Search.DashboardTopK
	}
	loc, err := kb.LocationFor(ctx, info.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	results, err := s.Syncer.Search(ctx, loc, body.Query, k)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for i, res := range results {
		res.Rank = i + 1
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"query":   body.Query,
		"kb_id":   info.ID,
		"results": results,
	})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	perPage, _ := strconv.Atoi(q.Get("per_page"))
	if perPage <= 0 {
		perPage = s.Config.Search.PageSize
	}
	p, err := s.KBs.ListEntries(r.Context(), chi.URLParam(r, "kbID"), page, perPage, q.Get("search"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, p)
}

// handleAddEntries accepts one entry or {"entries": [...]}.
func (s *Server) handleAddEntries(w http.ResponseWriter, r *http.Request) {
	var body struct {
		models.Entry
		Entries []models.Entry `json:"entries"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	add := body.Entries
	if len(add) == 0 {
		add = []models.Entry{body.Entry}
	}
	res, err := s.KBs.AddEntries(r.Context(), chi.URLParam(r, "kbID"), add...)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{"success": true, "result": res})
}

func (s *Server) handleReplaceEntries(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Entries []models.Entry `json:"entries"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.KBs.ReplaceEntries(r.Context(), chi.URLParam(r, "kbID"), body.Entries)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func entryIndex(r *http.Request) (int, error) {
	i, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		return 0, fmt.Errorf("%w: entry index must be a number", kb.ErrInvalid)
	}
	return i, nil
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	idx, err := entryIndex(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var e models.Entry
	if err := decodeJSON(r, &e); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	res, err := s.KBs.UpdateEntry(r.Context(), chi.URLParam(r, "kbID"), idx, e)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	idx, err := entryIndex(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.KBs.DeleteEntry(r.Context(), chi.URLParam(r, "kbID"), idx)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "result": res})
}

// handleImport reads a multipart "file" and appends its entries, or replaces all entries
// when mode=replace.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)
	file, hdr, err := r.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read upload")
		return
	}
	entries, err := s.Importer.Parse(hdr.Filename, content)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "kbID")
	var res kb.MutationResult
	switch mode := r.FormValue("mode"); mode {
	case "", "append":
		res, err = s.KBs.AddEntries(ctx, id, entries...)
	case "replace":
		res, err = s.KBs.ReplaceEntries(ctx, id, entries)
	default:
		err = fmt.Errorf("%w: unknown import mode %q", kb.ErrInvalid, mode)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("entries imported",
		zap.String("tenant", tenant.ID(ctx)),
		zap.String("kb", id),
		zap.String("file", hdr.Filename),
		zap.Int("entries", len(entries)))
	s.respondJSON(w, http.StatusOK, map[string]any{"success": true, "imported": len(entries), "result": res})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	info, err := s.KBs.Get(ctx, chi.URLParam(r, "kbID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, err := s.KBs.Entries(ctx, info.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	format := strings.ToLower(r.URL.Query().Get("format"))
	body, ctype, err := extract.Export(entries, format)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{
		"filename": extract.DownloadName(info.Name, format),
	}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("export write failed", zap.Error(err))
	}
}
