package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/tenant"
)

type ctxKey int

const principalKey ctxKey = iota

// principal is the authenticated dashboard caller.
type principal struct {
	TenantID string
	Admin    bool
}

func principalFrom(ctx context.Context) principal {
	p, _ := ctx.Value(principalKey).(principal)
	return p
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

// serveTenant runs next with tc installed for exactly this request. The release runs on
// every exit path, panics included, so nothing of tc outlives the request.
func (s *Server) serveTenant(w http.ResponseWriter, r *http.Request, tc *tenant.Context, next http.Handler) {
	done := s.Metrics.TrackInFlight()
	defer done()
	ctx, release := s.Tracker.Enter(r.Context(), tc)
	defer release()
	next.ServeHTTP(w, r.WithContext(ctx))
}

// withTenant swaps the request's tenant Context for tc, keeping the same tracking scope.
func withTenant(r *http.Request, tc *tenant.Context) *http.Request {
	return r.WithContext(tenant.WithContext(r.Context(), tc))
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

// dashboardAuth maps the caller's API token to a tenant and installs its Context.
func (s *Server) dashboardAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		var p principal
		if id, ok := s.Config.Dashboard.AdminTokens[token]; ok && token != "" {
			p = principal{TenantID: id, Admin: true}
		} else if id, ok := s.Config.Dashboard.Tokens[token]; ok && token != "" {
			p = principal{TenantID: id}
		} else {
			s.respondError(w, http.StatusUnauthorized, "missing or invalid API token")
			return
		}
		if !kb.ValidID(p.TenantID) {
			s.logger.Error("dashboard token maps to an unusable tenant id", zap.String("tenant", p.TenantID))
			s.respondError(w, http.StatusInternalServerError, "tenant misconfigured")
			return
		}
		tc := &tenant.Context{TenantID: p.TenantID, DataRoot: s.Config.TenantRoot(p.TenantID)}
		if err := tc.Validate(); err != nil {
			s.logger.Error("invalid tenant context", zap.String("tenant", p.TenantID), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, "tenant misconfigured")
			return
		}
		r = r.WithContext(context.WithValue(r.Context(), principalKey, p))
		s.serveTenant(w, r, tc, next)
	})
}

// widgetTenant resolves {widgetID} to its owner and installs the owner's Context.
func (s *Server) widgetTenant(custom bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wd, err := s.Widgets.Resolve(chi.URLParam(r, "widgetID"))
			if err != nil {
				s.publicError(w, r, err)
				return
			}
			s.logger.Debug("widget request",
				zap.String("widget", wd.ID),
				zap.String("tenant", wd.TenantID),
				zap.Bool("custom", custom))
			s.serveTenant(w, r, wd.Tenant(), next)
		})
	}
}

// cors echoes the request Origin when the widget lists it exactly.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			if wd, err := s.Widgets.Resolve(chi.URLParam(r, "widgetID")); err == nil && wd.AllowsOrigin(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// rateLimit throttles public chat per (tenant, client ip).
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(tenant.ID(r.Context()) + "|" + clientIP(r)) {
			s.respondJSON(w, http.StatusTooManyRequests, publicReply{Error: "Too many requests, please slow down."})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the caller address. middleware.RealIP has already applied
// X-Forwarded-For and X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

const limiterIdle = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiterSet keeps one token bucket per key and forgets keys idle for limiterIdle.
type limiterSet struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func newLimiterSet(perSecond float64, burst int) *limiterSet {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiterSet{limit: limit, burst: burst, entries: make(map[string]*limiterEntry), lastSweep: time.Now()}
}

func (l *limiterSet) allow(key string) bool {
	now := time.Now()
	l.mu.Lock()
	if now.Sub(l.lastSweep) > limiterIdle {
		for k, e := range l.entries {
			if now.Sub(e.seen) > limiterIdle {
				delete(l.entries, k)
			}
		}
		l.lastSweep = now
	}
	e, ok := l.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = e
	}
	e.seen = now
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}
