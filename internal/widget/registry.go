// Package widget resolves public chat widgets to the tenant that owns them.
package widget

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/tenant"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// Widget is one entry of widgets.json.
type Widget struct {
	ID             string   `json:"-"`
	TenantID       string   `json:"tenant_id"`
	UserDataDir    string   `json:"user_data_dir"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// AllowsOrigin reports whether origin is listed exactly in AllowedOrigins.
func (w Widget) AllowsOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	for _, o := range w.AllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// Tenant returns a fresh tenant Context for a request made through the widget.
func (w Widget) Tenant() *tenant.Context {
	return &tenant.Context{TenantID: w.TenantID, DataRoot: w.UserDataDir}
}

// Registry reads widgets.json, reloading it when the file changes.
type Registry struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	modTime time.Time
	size    int64
	widgets map[string]Widget
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry returns a Registry backed by the file at path. The file need not exist yet.
func NewRegistry(path string, opts ...Option) *Registry {
	r := &Registry{path: path}
	for _, o := range opts {
		o(r)
	}
	r.logger = utils.LoggerOrNop(r.logger)
	return r
}

// Resolve returns the widget with id. Unknown widgets, and widgets whose entry cannot
// serve a tenant, are kb.ErrNotFound.
func (r *Registry) Resolve(id string) (Widget, error) {
	widgets, err := r.load()
	if err != nil {
		return Widget{}, err
	}
	w, ok := widgets[id]
	if !ok {
		return Widget{}, fmt.Errorf("%w: widget %q", kb.ErrNotFound, id)
	}
	return w, nil
}

// List returns all usable widgets ordered by id.
func (r *Registry) List() ([]Widget, error) {
	widgets, err := r.load()
	if err != nil {
		return nil, err
	}
	out := make([]Widget, 0, len(widgets))
	for _, w := range widgets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) load() (map[string]Widget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, err := os.Stat(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.widgets, r.modTime, r.size = nil, time.Time{}, 0
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat widget registry: %w", err)
	}
	if r.widgets != nil && st.ModTime().Equal(r.modTime) && st.Size() == r.size {
		return r.widgets, nil
	}

	var raw map[string]Widget
	if err := utils.ReadJSON(r.path, &raw); err != nil {
		return nil, fmt.Errorf("failed to read widget registry: %w", err)
	}
	base := filepath.Dir(r.path)
	widgets := make(map[string]Widget, len(raw))
	for id, w := range raw {
		w.ID = id
		if w.UserDataDir != "" && !filepath.IsAbs(w.UserDataDir) {
			w.UserDataDir = filepath.Join(base, w.UserDataDir)
		}
		w.UserDataDir = filepath.Clean(w.UserDataDir)
		if err := w.Tenant().Validate(); err != nil {
			r.logger.Warn("skipping unusable widget", zap.String("widget", id), zap.Error(err))
			continue
		}
		widgets[id] = w
	}
	r.widgets, r.modTime, r.size = widgets, st.ModTime(), st.Size()
	r.logger.Debug("widget registry loaded", zap.Int("widgets", len(widgets)))
	return widgets, nil
}
