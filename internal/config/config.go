// Package config provides configuration loading and structs for the neurobot server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/neurobot/internal/embedding"
	"github.com/hyperjump/neurobot/pkg/utils"
)

// Config holds all configuration for the application.
type Config struct {
	Debug      bool             `yaml:"debug"`
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Sync       SyncConfig       `yaml:"sync"`
	Search     SearchConfig     `yaml:"search"`
	Widgets    WidgetsConfig    `yaml:"widgets"`
	Dashboard  DashboardConfig  `yaml:"dashboard"`
	Watch      WatchConfig      `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// PublicRateLimit is the sustained requests per second allowed per (tenant, ip) on public chat.
	PublicRateLimit float64 `yaml:"public_rate_limit"`
	PublicBurst     int     `yaml:"public_burst"`
}

// StorageConfig holds the data locations.
type StorageConfig struct {
	// DataRoot is the root used by requests that carry no tenant data root of their own.
	DataRoot string `yaml:"data_root"`
	// TenantsDir holds one data root per tenant: <tenants_dir>/<tenant_id>.
	TenantsDir     string `yaml:"tenants_dir"`
	SessionBackend string `yaml:"session_backend"` // json or sqlite
	SQLitePath     string `yaml:"sqlite_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // openai, onnx or mock
	Model      string `yaml:"model"`
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Dimensions int    `yaml:"dimensions"`
	BatchSize  int    `yaml:"batch_size"`
	CacheSize  int    `yaml:"cache_size"`
	ModelPath  string `yaml:"model_path"`
	MaxTokens  int    `yaml:"max_tokens"`
}

// ProviderConfig returns the embedding.Config described by c, reading the API key from the environment.
func (c EmbeddingConfig) ProviderConfig() embedding.Config {
	return embedding.Config{
		Provider:   c.Provider,
		Model:      c.Model,
		BaseURL:    c.BaseURL,
		APIKey:     os.Getenv(c.APIKeyEnv),
		Dimensions: c.Dimensions,
		BatchSize:  c.BatchSize,
		CacheSize:  c.CacheSize,
		ModelPath:  c.ModelPath,
		MaxTokens:  c.MaxTokens,
	}
}

// GenerationConfig holds chat completion settings.
type GenerationConfig struct {
	Provider        string `yaml:"provider"` // openai or extractive
	DefaultModel    string `yaml:"default_model"`
	BaseURL         string `yaml:"base_url"`
	APIKeyEnv       string `yaml:"api_key_env"`
	HistoryMessages int    `yaml:"history_messages"`
	MaxTokens       int    `yaml:"max_tokens"`
}

// APIKey reads the generation API key from the configured environment variable.
func (c GenerationConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

// SyncConfig bounds the blocking work of a knowledge base sync.
type SyncConfig struct {
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
	IOTimeout    time.Duration `yaml:"io_timeout"`
}

// SearchConfig holds retrieval and listing settings.
type SearchConfig struct {
	ChatTopK       int     `yaml:"chat_top_k"`
	DashboardTopK  int     `yaml:"dashboard_top_k"`
	TopKCandidates int     `yaml:"top_k_candidates"`
	KeywordWeight  float64 `yaml:"keyword_weight"`
	SemanticWeight float64 `yaml:"semantic_weight"`
	QuestionBoost  float64 `yaml:"question_boost"`
	PhraseBoost    float64 `yaml:"phrase_boost"`
	PageSize       int     `yaml:"page_size"`
	// RankingWeight blends the lexical re-ranker into the fused score. Negative disables it.
	RankingWeight  float64 `yaml:"ranking_weight"`
}

// WidgetsConfig locates the widget registry.
type WidgetsConfig struct {
	RegistryPath string `yaml:"registry_path"`
}

// DashboardConfig maps dashboard API tokens to tenant ids. Admin tokens act for their tenant
// with operator rights, such as stopping the chatbot in a way the tenant cannot undo.
type DashboardConfig struct {
	Tokens      map[string]string `yaml:"tokens"`
	AdminTokens map[string]string `yaml:"admin_tokens"`
}

// WatchConfig holds knowledge file watch settings.
type WatchConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DataRoot = expandPath(cfg.Storage.DataRoot, configDir)
	cfg.Storage.TenantsDir = expandPath(cfg.Storage.TenantsDir, configDir)
	cfg.Storage.SQLitePath = expandPath(cfg.Storage.SQLitePath, configDir)
	cfg.Widgets.RegistryPath = expandPath(cfg.Widgets.RegistryPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path atomically.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := utils.WriteFileAtomic(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// TenantRoot returns the data root of tenantID.
func (c *Config) TenantRoot(tenantID string) string {
	return filepath.Join(c.Storage.TenantsDir, tenantID)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
