package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/neurobot/internal/config"
	"github.com/hyperjump/neurobot/internal/embedding"
	"github.com/hyperjump/neurobot/internal/indexer"
	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/storage"
	"github.com/hyperjump/neurobot/internal/tenant"
)

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"refund policy", "-tenant", "acme"},
			expected: []string{"-tenant", "acme", "refund policy"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-tenant", "acme", "refund policy"},
			expected: []string{"-tenant", "acme", "refund policy"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"refund policy"},
			expected: []string{"refund policy"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-limit", "5"},
			expected: []string{"-limit", "5", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"refund"}, "refund"},
		{"multiple words", []string{"refund", "policy"}, "refund policy"},
		{"single quoted phrase", []string{"refund policy"}, "refund policy"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildSearchQuery(tt.args); got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
storage:
  tenants_dir: "tenants"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.TenantsDir = filepath.Join(base, "tenants")
	cfg.Storage.DataRoot = filepath.Join(base, "local")
	return cfg
}

func TestTenantContext(t *testing.T) {
	cfg := testConfig(t)
	tests := []struct {
		tenantID string
		wantID   string
		wantRoot string
		wantErr  bool
	}{
		{"", localTenant, cfg.Storage.DataRoot, false},
		{"acme", "acme", cfg.TenantRoot("acme"), false},
		{"../etc", "", "", true},
	}
	for _, tt := range tests {
		ctx, err := tenantContext(context.Background(), cfg, tt.tenantID)
		if (err != nil) != tt.wantErr {
			t.Fatalf("tenantContext(%q) error = %v", tt.tenantID, err)
		}
		if err != nil {
			continue
		}
		tc := tenant.MustFromContext(ctx)
		if tc.TenantID != tt.wantID || tc.DataRoot != tt.wantRoot {
			t.Errorf("tenantContext(%q) = %+v", tt.tenantID, tc)
		}
	}
}

func TestTenantRoots(t *testing.T) {
	cfg := testConfig(t)
	for _, name := range []string{"acme", "globex", ".hidden"} {
		if err := os.MkdirAll(filepath.Join(cfg.Storage.TenantsDir, name), 0o755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(cfg.Storage.TenantsDir, "notes.txt"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := tenantRoots(cfg.Storage.TenantsDir, cfg.Storage.DataRoot)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{cfg.TenantRoot("acme"), cfg.TenantRoot("globex"), cfg.Storage.DataRoot}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tenantRoots() = %v, want %v", got, want)
	}

	got, err = tenantRoots(filepath.Join(t.TempDir(), "missing"))
	if err != nil || len(got) != 0 {
		t.Errorf("missing tenants dir: %v, %v", got, err)
	}
}

func TestSyncRoots(t *testing.T) {
	cfg := testConfig(t)
	locs := []kb.Location{
		{Root: cfg.TenantRoot("acme"), ID: kb.DefaultID},
		{Root: cfg.Storage.DataRoot, ID: "faq"},
	}
	for _, loc := range locs {
		if err := os.MkdirAll(loc.Dir(), 0o755); err != nil {
			t.Fatal(err)
		}
		data := []byte(`[{"question":"Hours?","answer":"9 to 5."}]`)
		if err := os.WriteFile(loc.EntriesPath(), data, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	syncer := indexer.NewSynchronizer(kb.NewFileRepository(), embedding.NewMockEmbedder(8))
	if err := syncRoots(context.Background(), syncer, cfg); err != nil {
		t.Fatal(err)
	}
	for _, loc := range locs {
		if _, err := os.Stat(loc.FingerprintPath()); err != nil {
			t.Errorf("%s not synced: %v", loc, err)
		}
	}
}

func TestNewSessionStore(t *testing.T) {
	tests := []struct {
		backend string
		wantErr bool
	}{
		{"json", false},
		{"sqlite", false},
		{"redis", true},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			store, err := newSessionStore(config.StorageConfig{
				SessionBackend: tt.backend,
				SQLitePath:     filepath.Join(t.TempDir(), "db", "sessions.db"),
			})
			if (err != nil) != tt.wantErr {
				t.Fatalf("newSessionStore(%q) error = %v", tt.backend, err)
			}
			if store == nil {
				return
			}
			defer store.Close()
			if tt.backend == "sqlite" {
				if _, ok := store.(*storage.SQLiteSessionStore); !ok {
					t.Errorf("store = %T", store)
				}
			}
		})
	}
}
