package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Server.PublicRateLimit == 0 {
		cfg.Server.PublicRateLimit = 2
	}
	if cfg.Server.PublicBurst == 0 {
		cfg.Server.PublicBurst = 10
	}
	if cfg.Storage.DataRoot == "" {
		cfg.Storage.DataRoot = "/usr/local/var/neurobot/data/default"
	}
	if cfg.Storage.TenantsDir == "" {
		cfg.Storage.TenantsDir = "/usr/local/var/neurobot/data/tenants"
	}
	if cfg.Storage.SessionBackend == "" {
		cfg.Storage.SessionBackend = "json"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "/usr/local/var/neurobot/data/db/sessions.db"
	}
	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "openai"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-large"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 3072
	}
	if cfg.Embedding.BatchSize == 0 {
		cfg.Embedding.BatchSize = 64
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Generation.Provider == "" {
		cfg.Generation.Provider = "openai"
	}
	if cfg.Generation.DefaultModel == "" {
		cfg.Generation.DefaultModel = "gpt-4o-mini"
	}
	if cfg.Generation.APIKeyEnv == "" {
		cfg.Generation.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Generation.HistoryMessages == 0 {
		cfg.Generation.HistoryMessages = 10
	}
	if cfg.Generation.MaxTokens == 0 {
		cfg.Generation.MaxTokens = 1000
	}
	if cfg.Sync.EmbedTimeout == 0 {
		cfg.Sync.EmbedTimeout = 60 * time.Second
	}
	if cfg.Sync.IOTimeout == 0 {
		cfg.Sync.IOTimeout = 30 * time.Second
	}
	if cfg.Search.ChatTopK == 0 {
		cfg.Search.ChatTopK = 3
	}
	if cfg.Search.DashboardTopK == 0 {
		cfg.Search.DashboardTopK = 5
	}
	if cfg.Search.TopKCandidates == 0 {
		cfg.Search.TopKCandidates = 50
	}
	if cfg.Search.KeywordWeight == 0 && cfg.Search.SemanticWeight == 0 {
		cfg.Search.KeywordWeight = 0.3
		cfg.Search.SemanticWeight = 0.7
	}
	if cfg.Search.QuestionBoost == 0 {
		cfg.Search.QuestionBoost = 2.0
	}
	if cfg.Search.PhraseBoost == 0 {
		cfg.Search.PhraseBoost = 1.5
	}
	if cfg.Search.RankingWeight == 0 {
		cfg.Search.RankingWeight = 0.2
	}
	if cfg.Search.PageSize == 0 {
		cfg.Search.PageSize = 50
	}
	if cfg.Widgets.RegistryPath == "" {
		cfg.Widgets.RegistryPath = "/usr/local/var/neurobot/data/widgets.json"
	}
}
