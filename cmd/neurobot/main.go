// Package main is the neurobot CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/neurobot/internal/chat"
	"github.com/hyperjump/neurobot/internal/cli"
	"github.com/hyperjump/neurobot/internal/config"
	"github.com/hyperjump/neurobot/internal/embedding"
	"github.com/hyperjump/neurobot/internal/extract"
	"github.com/hyperjump/neurobot/internal/indexer"
	"github.com/hyperjump/neurobot/internal/kb"
	"github.com/hyperjump/neurobot/internal/kbrouter"
	"github.com/hyperjump/neurobot/internal/metrics"
	"github.com/hyperjump/neurobot/internal/models"
	"github.com/hyperjump/neurobot/internal/search"
	"github.com/hyperjump/neurobot/internal/server"
	"github.com/hyperjump/neurobot/internal/session"
	"github.com/hyperjump/neurobot/internal/storage"
	"github.com/hyperjump/neurobot/internal/tenant"
	"github.com/hyperjump/neurobot/internal/watcher"
	"github.com/hyperjump/neurobot/internal/widget"
	"github.com/hyperjump/neurobot/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/neurobot/config.yaml"

// localTenant names the tenant of storage.data_root in command line operations.
const localTenant = "local"

// loadConfig loads config from path. When path is the default and config.yaml exists in
// the current directory, that file is used instead.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "sync":
		runSync()
	case "search":
		runSearch()
	case "list":
		runList()
	case "import":
		runImport()
	case "export":
		runExport()
	case "version", "--version", "-v":
		fmt.Printf("neurobot version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.String("tenants_dir", cfg.Storage.TenantsDir),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	var watchSvc *watcher.Watcher
	if cfg.Watch.Enabled {
		watchSvc = newKnowledgeWatcher(cfg, components, logger)
		if err := watchSvc.Start(bgCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		watchSvc.SyncExisting()
	} else {
		go func() {
			if err := syncRoots(bgCtx, components.Syncer, cfg); err != nil {
				logger.Warn("startup sync finished with errors", zap.Error(err))
			}
		}()
	}

	srv := server.NewServer(server.Deps{
		Config:   cfg,
		KBs:      components.KBs,
		Syncer:   components.Syncer,
		Engine:   components.Engine,
		Sessions: components.Sessions,
		KBRouter: components.KBRouter,
		Chat:     components.Chat,
		Widgets:  components.Widgets,
		Metrics:  components.Metrics,
		Importer: components.Importer,
		Logger:   logger,
	})
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if watchSvc != nil {
		watchSvc.Stop()
	}
	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// newKnowledgeWatcher re-syncs knowledge bases whose knowledge.json is edited on disk and
// drops the cached index of removed ones.
func newKnowledgeWatcher(cfg *config.Config, c *Components, logger *zap.Logger) *watcher.Watcher {
	onChange := func(loc kb.Location) {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.EmbedTimeout+cfg.Sync.IOTimeout)
		defer cancel()
		stats, err := c.Syncer.Sync(ctx, loc)
		if err != nil {
			logger.Warn("watch sync failed", zap.String("kb", loc.String()), zap.Error(err))
			return
		}
		logger.Debug("watch sync done",
			zap.String("kb", loc.String()),
			zap.Int("added", stats.Added),
			zap.Int("removed", stats.Removed),
			zap.Bool("no_op", stats.NoOp))
	}
	onRemove := func(loc kb.Location) {
		c.Syncer.Drop(loc)
		logger.Info("knowledge base removed on disk", zap.String("kb", loc.String()))
	}
	return watcher.NewWatcher(dataRoots(cfg), onChange, onRemove, watcher.WithLogger(logger))
}

// dataRoots lists the directories holding tenant data: the tenants dir and the local data root.
func dataRoots(cfg *config.Config) []string {
	return []string{cfg.Storage.TenantsDir, cfg.Storage.DataRoot}
}

// tenantRoots lists one data root per tenant under tenantsDir, followed by extra.
func tenantRoots(tenantsDir string, extra ...string) ([]string, error) {
	var out []string
	entries, err := os.ReadDir(tenantsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() && kb.ValidID(e.Name()) {
			out = append(out, filepath.Join(tenantsDir, e.Name()))
		}
	}
	return append(out, extra...), nil
}

// syncRoots syncs every knowledge base of every tenant.
func syncRoots(ctx context.Context, syncer *indexer.Synchronizer, cfg *config.Config) error {
	tenants, err := tenantRoots(cfg.Storage.TenantsDir, cfg.Storage.DataRoot)
	if err != nil {
		return err
	}
	var errs []string
	for _, root := range tenants {
		if err := syncer.SyncAll(ctx, root); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", root, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("sync failed for %d tenant(s): %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// tenantContext returns ctx scoped to tenantID, or to storage.data_root when tenantID is empty.
func tenantContext(ctx context.Context, cfg *config.Config, tenantID string) (context.Context, error) {
	tc := &tenant.Context{TenantID: localTenant, DataRoot: cfg.Storage.DataRoot}
	if tenantID != "" {
		if !kb.ValidID(tenantID) {
			return nil, fmt.Errorf("invalid tenant id %q", tenantID)
		}
		tc = &tenant.Context{TenantID: tenantID, DataRoot: cfg.TenantRoot(tenantID)}
	}
	if err := tc.Validate(); err != nil {
		return nil, fmt.Errorf("tenant %s: %w", tc.TenantID, err)
	}
	return tenant.WithContext(ctx, tc), nil
}

// commandEnv is the setup shared by the offline commands.
type commandEnv struct {
	cfg        *config.Config
	logger     *zap.Logger
	components *Components
	ctx        context.Context
}

func setupCommand(configPath, tenantID string) *commandEnv {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	ctx, err := tenantContext(context.Background(), cfg, tenantID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	return &commandEnv{cfg: cfg, logger: logger, components: components, ctx: ctx}
}

func (e *commandEnv) Close() {
	e.components.Close()
	_ = e.logger.Sync()
}

func parseFormat(s string) cli.OutputFormat {
	f, err := cli.ParseOutputFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return f
}

func runSync() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenantID := fs.String("tenant", "", "tenant id (empty = storage.data_root)")
	kbID := fs.String("kb", "", "knowledge base id (empty = every knowledge base of the tenant)")
	all := fs.Bool("all", false, "sync every knowledge base of every tenant")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	env := setupCommand(*configPath, *tenantID)
	defer env.Close()

	if *all {
		if err := syncRoots(context.Background(), env.components.Syncer, env.cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("All knowledge bases synced")
		return
	}

	ids := []string{*kbID}
	if *kbID == "" {
		list, err := env.components.KBs.List(env.ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
			os.Exit(1)
		}
		ids = ids[:0]
		for _, s := range list {
			ids = append(ids, s.ID)
		}
	}
	failed := false
	for _, id := range ids {
		stats, err := env.components.KBs.Resync(env.ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Sync of %s failed: %v\n", id, err)
			failed = true
			continue
		}
		loc, _ := kb.LocationFor(env.ctx, id)
		if err := cli.WriteSyncStats(os.Stdout, loc, stats, format); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	}
	if failed {
		os.Exit(1)
	}
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: neurobot search [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  neurobot search -tenant acme refund policy
  neurobot search -tenant acme -kb sales --keyword=false "price list"   # semantic-only
  neurobot search -tenant acme --fuzzy refnud                            # typo-tolerant search
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenantID := fs.String("tenant", "", "tenant id (empty = storage.data_root)")
	kbID := fs.String("kb", "", "knowledge base id (empty = current)")
	limit := fs.Int("limit", 10, "number of results")
	minScore := fs.Float64("min-score", 0, "minimum fused score")
	kwEnabled := fs.Bool("keyword", true, "enable keyword search")
	semEnabled := fs.Bool("semantic", true, "enable semantic search")
	fuzzyEnabled := fs.Bool("fuzzy", false, "enable fuzzy matching for typo tolerance")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	queryStr := buildSearchQuery(fs.Args())
	if queryStr == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format := parseFormat(*outputFormat)

	env := setupCommand(*configPath, *tenantID)
	defer env.Close()

	loc, err := resolveLocation(env, *kbID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	query := &models.SearchQuery{
		Query:           queryStr,
		Limit:           *limit,
		MinScore:        *minScore,
		KeywordEnabled:  *kwEnabled,
		SemanticEnabled: *semEnabled,
		FuzzyEnabled:    *fuzzyEnabled,
	}
	response, err := env.components.Engine.Search(env.ctx, loc, query)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	// Retry with typo tolerance when nothing matched.
	if !query.FuzzyEnabled && response.Total == 0 {
		query.FuzzyEnabled = true
		if fuzzy, fuzzyErr := env.components.Engine.Search(env.ctx, loc, query); fuzzyErr == nil && fuzzy.Total > 0 {
			response = fuzzy
		}
	}
	if err := cli.WriteSearchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// resolveLocation returns kbID's location, or the tenant's current knowledge base when kbID is empty.
func resolveLocation(env *commandEnv, kbID string) (kb.Location, error) {
	var (
		info kb.Info
		err  error
	)
	if kbID == "" {
		info, err = env.components.KBRouter.ResolveDashboard(env.ctx)
	} else {
		info, err = env.components.KBs.Get(env.ctx, kbID)
	}
	if err != nil {
		return kb.Location{}, err
	}
	return kb.LocationFor(env.ctx, info.ID)
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenantID := fs.String("tenant", "", "tenant id (empty = storage.data_root)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])
	format := parseFormat(*outputFormat)

	env := setupCommand(*configPath, *tenantID)
	defer env.Close()

	list, err := env.components.KBs.List(env.ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteKnowledgeBases(os.Stdout, list, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runImport() {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenantID := fs.String("tenant", "", "tenant id (empty = storage.data_root)")
	kbID := fs.String("kb", kb.DefaultID, "knowledge base id")
	mode := fs.String("mode", "append", "append or replace")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Printf("Usage: neurobot import [flags] <file>\n\nSupported formats: %s\n", strings.Join(extract.Formats, ", "))
		os.Exit(1)
	}
	path := fs.Arg(0)
	content, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", path, err)
		os.Exit(1)
	}

	env := setupCommand(*configPath, *tenantID)
	defer env.Close()

	entries, err := env.components.Importer.Parse(filepath.Base(path), content)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		os.Exit(1)
	}
	var res kb.MutationResult
	switch *mode {
	case "append":
		res, err = env.components.KBs.AddEntries(env.ctx, *kbID, entries...)
	case "replace":
		res, err = env.components.KBs.ReplaceEntries(env.ctx, *kbID, entries)
	default:
		err = fmt.Errorf("unknown import mode %q; use append or replace", *mode)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Imported %d entries into %s (%d total, %d vectors)\n",
		len(entries), *kbID, res.DocumentCount, res.Sync.Vectors)
}

func runExport() {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	tenantID := fs.String("tenant", "", "tenant id (empty = storage.data_root)")
	kbID := fs.String("kb", kb.DefaultID, "knowledge base id")
	format := fs.String("format", extract.FormatJSON, "json or xlsx")
	out := fs.String("o", "", "output file (default: <name>_knowledge.<format> in the current directory)")
	_ = fs.Parse(os.Args[2:])

	env := setupCommand(*configPath, *tenantID)
	defer env.Close()

	info, err := env.components.KBs.Get(env.ctx, *kbID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	entries, err := env.components.KBs.Entries(env.ctx, info.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	data, _, err := extract.Export(entries, strings.ToLower(*format))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	path := *out
	if path == "" {
		path = extract.DownloadName(info.Name, strings.ToLower(*format))
	}
	if err := utils.WriteFileAtomic(path, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Exported %d entries to %s\n", len(entries), path)
}

// Components holds initialized services.
type Components struct {
	Metrics  *metrics.Metrics
	Embedder embedding.Embedder
	Store    storage.SessionRepository
	Syncer   *indexer.Synchronizer
	KBs      *kb.Manager
	Sessions *session.Router
	KBRouter *kbrouter.Router
	Chat     *chat.Service
	Engine   *search.Engine
	Widgets  *widget.Registry
	Importer *extract.Importer
}

func (c *Components) Close() {
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	m := metrics.New()

	embedder, err := embedding.New(cfg.Embedding.ProviderConfig())
	if err != nil {
		if cfg.Embedding.Provider != "onnx" {
			return nil, fmt.Errorf("failed to initialize embedder: %w", err)
		}
		// ONNX runtime is optional at build time; fall back so the server still starts.
		logger.Warn("onnx embedder unavailable, using mock embeddings", zap.Error(err))
		embedder = embedding.NewCachedEmbedder(embedding.NewMockEmbedder(cfg.Embedding.Dimensions), cfg.Embedding.CacheSize)
	}

	store, err := newSessionStore(cfg.Storage)
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	repo := kb.NewFileRepository()
	syncer := indexer.NewSynchronizer(repo, embedder,
		indexer.WithLogger(logger),
		indexer.WithMetrics(m),
		indexer.WithTimeouts(cfg.Sync.EmbedTimeout, cfg.Sync.IOTimeout),
	)
	manager := kb.NewManager(repo, kb.WithSyncer(syncer), kb.WithLogger(logger))
	sessions := session.NewRouter(store, session.WithLogger(logger))
	router := kbrouter.NewRouter(manager, sessions, kbrouter.WithLogger(logger))

	fallback, ok := tenant.ParseModel(cfg.Generation.DefaultModel)
	if !ok {
		logger.Warn("unknown default model, using lite", zap.String("model", cfg.Generation.DefaultModel))
		fallback = tenant.ModelLite
	}
	gen, analyzer := newGenerator(cfg.Generation, logger)
	opts := []chat.Option{
		chat.WithLogger(logger),
		chat.WithMetrics(m),
		chat.WithLimits(chat.Limits{
			TopK:            cfg.Search.ChatTopK,
			HistoryMessages: cfg.Generation.HistoryMessages,
			MaxTokens:       cfg.Generation.MaxTokens,
		}),
	}
	if analyzer != nil {
		opts = append(opts, chat.WithAnalyzer(analyzer))
	}
	svc := chat.NewService(chat.Deps{
		Sessions:  sessions,
		KBRouter:  router,
		KBs:       manager,
		Retriever: syncer,
		Generator: gen,
		Status:    chat.NewStatusStore(logger),
		Models:    chat.NewModelStore(fallback, logger),
	}, opts...)

	return &Components{
		Metrics:  m,
		Embedder: embedder,
		Store:    store,
		Syncer:   syncer,
		KBs:      manager,
		Sessions: sessions,
		KBRouter: router,
		Chat:     svc,
		Engine:   search.NewEngine(syncer, &cfg.Search, search.WithLogger(logger), search.WithMetrics(m)),
		Widgets:  widget.NewRegistry(cfg.Widgets.RegistryPath, widget.WithLogger(logger)),
		Importer: extract.NewImporter(),
	}, nil
}

func newSessionStore(cfg config.StorageConfig) (storage.SessionRepository, error) {
	switch cfg.SessionBackend {
	case "json", "":
		return storage.NewJSONSessionStore(), nil
	case "sqlite":
		store, err := storage.NewSQLiteSessionStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize session storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown session backend: %s (supported: json, sqlite)", cfg.SessionBackend)
	}
}

// newGenerator returns the chat generator and the client analyzer. Without an API key the
// bot answers extractively and client analysis is unavailable.
func newGenerator(cfg config.GenerationConfig, logger *zap.Logger) (chat.Generator, chat.Generator) {
	if cfg.Provider == "extractive" {
		return chat.ExtractiveGenerator{}, nil
	}
	gen, err := chat.NewOpenAIGenerator(cfg.APIKey(), cfg.BaseURL)
	if err != nil {
		logger.Warn("generation model unavailable, answering extractively", zap.Error(err))
		return chat.ExtractiveGenerator{}, nil
	}
	return gen, gen
}

func printUsage() {
	fmt.Println(`neurobot - Multi-tenant knowledge base chatbot

Usage:
  neurobot server [flags]           Start the HTTP server
  neurobot sync [flags]             Sync knowledge base indexes with knowledge.json
  neurobot search [flags] <query>   Search a knowledge base
  neurobot list [flags]             List knowledge bases of a tenant
  neurobot import [flags] <file>    Import entries from a file
  neurobot export [flags]           Export entries to json or xlsx
  neurobot version                  Show version
  neurobot help                     Show this help

Common Flags:
  --config string    Config file path (default: /usr/local/etc/neurobot/config.yaml)
  --tenant string    Tenant id (default: the local data root)

Server Flags:
  --debug            Enable debug logging

Sync Flags:
  --kb string        Knowledge base id (default: all of the tenant)
  --all              Sync every tenant
  --output string    Output format: text or json

Search Flags:
  --kb string        Knowledge base id (default: current)
  --limit int        Number of results (default: 10)
  --min-score float  Minimum fused score
  --keyword          Enable keyword search (default: true)
  --semantic         Enable semantic search (default: true)
  --fuzzy            Enable fuzzy matching for typo tolerance (default: false)
  --output string    Output format: text, compact, or json

Import Flags:
  --kb string        Knowledge base id (default: default)
  --mode string      append or replace (default: append)

Export Flags:
  --kb string        Knowledge base id (default: default)
  --format string    json or xlsx (default: json)
  -o string          Output file

Examples:
  neurobot server
  neurobot sync --all
  neurobot search -tenant acme "refund policy"
  neurobot import -tenant acme -kb default faq.docx
  neurobot export -tenant acme -format xlsx -o faq.xlsx`)
}
