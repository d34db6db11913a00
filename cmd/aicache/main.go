package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/edgegeo/aicache/browserfetch"
	"github.com/edgegeo/aicache/catalog"
	"github.com/edgegeo/aicache/dbopen"
	"github.com/edgegeo/aicache/llmrewrite"
	"github.com/edgegeo/aicache/llmstxt"
	"github.com/edgegeo/aicache/netguard"
	"github.com/edgegeo/aicache/observability"
	"github.com/edgegeo/aicache/pipeline"
	"github.com/edgegeo/aicache/progress"
	"github.com/edgegeo/aicache/ragfetch"
	"github.com/edgegeo/aicache/registry"
	"github.com/edgegeo/aicache/sitemap"
	"github.com/edgegeo/aicache/traffic"
	"github.com/edgegeo/aicache/vault"
)

func main() {
	cfg, err := loadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	port := env("PORT", cfg.Port)
	dbPath := env("DATABASE_PATH", cfg.DatabasePath)
	logLevel := env("LOG_LEVEL", cfg.LogLevel)

	masterKey := os.Getenv("MASTER_API_KEY")
	if len(masterKey) < netguard.MinSecretLen {
		slog.Error("MASTER_API_KEY is required", "min_length", netguard.MinSecretLen)
		os.Exit(1)
	}
	vaultKey := os.Getenv("VAULT_MASTER_KEY")
	if vaultKey == "" {
		slog.Error("VAULT_MASTER_KEY is required")
		os.Exit(1)
	}

	// Logging.
	var lvl slog.Level
	switch logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// One database carries every subsystem's tables.
	db, err := dbopen.Open(dbPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(registry.Schema),
		dbopen.WithSchema(catalog.Schema),
		dbopen.WithSchema(progress.Schema),
		dbopen.WithSchema(traffic.Schema),
		dbopen.WithSchema(observability.Schema))
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Credential sealing.
	sealer, err := vault.NewChaChaFromString(vaultKey)
	if err != nil {
		slog.Error("vault key", "error", err)
		os.Exit(1)
	}

	// Tenant registry. GEMINI_API_KEY is the process-wide fallback for
	// tenants without their own LLM key.
	clients := registry.New(registry.NewStore(db), sealer, os.Getenv("GEMINI_API_KEY"), logger)
	pages := catalog.NewStore(db)

	// Business event log.
	events := observability.NewEventLogger(db)
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := events.Cleanup(ctx, 90*24*time.Hour); err == nil && n > 0 {
					slog.Info("event log cleanup", "removed", n)
				}
			}
		}
	}()

	// Content fetcher: Apify's hosted browser when a token is set,
	// otherwise a local headless Chrome.
	var fetcher pipeline.Fetcher
	var closeFetcher func() error
	if token := os.Getenv("APIFY_API_TOKEN"); token != "" {
		rag, err := ragfetch.New(ragfetch.Config{Token: token})
		if err != nil {
			slog.Error("apify client", "error", err)
			os.Exit(1)
		}
		fetcher = rag
		slog.Info("fetch backend", "kind", "apify")
	} else {
		bf := browserfetch.New(browserfetch.Config{RemoteURL: env("BROWSER_URL", cfg.BrowserURL)})
		fetcher = bf
		closeFetcher = bf.Close
		slog.Info("fetch backend", "kind", "browser")
	}
	if closeFetcher != nil {
		defer closeFetcher()
	}

	rewriter := llmrewrite.New(llmrewrite.Config{Model: env("GEMINI_MODEL", cfg.GeminiModel)})

	endpoint := env("PUBLIC_API_ENDPOINT", cfg.PublicEndpoint)
	if endpoint == "" {
		endpoint = "http://localhost:" + port
	}
	pipe := pipeline.New(clients, pages, fetcher, rewriter, pipeline.Config{
		MaxConcurrent: envInt("MAX_CONCURRENT", cfg.MaxConcurrent),
		KVTTL:         envInt("KV_TTL_SECONDS", cfg.KVTTLSeconds),
		APIEndpoint:   endpoint,
		MasterKey:     masterKey,
	}, logger)

	importer := sitemap.New(pages, sitemap.Config{}, logger)
	tracker := progress.New(db, clients.Store(), logger)
	trafficSvc := traffic.NewService(traffic.NewStore(db), clients.Store(), pages, logger)
	llms := llmstxt.New(clients.Store(), pages, time.Hour, logger)

	// Optional MCP stdio server for operator tooling.
	if env("MCP_TRANSPORT", "") == "stdio" {
		srv := mcp.NewServer(&mcp.Implementation{Name: "aicache", Version: "1.0.0"}, nil)
		clients.RegisterMCP(srv)
		if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
			slog.Error("mcp server", "error", err)
			os.Exit(1)
		}
		return
	}

	handler := newRouter(&services{
		clients:   clients,
		pages:     pages,
		importer:  importer,
		pipeline:  pipe,
		tracker:   tracker,
		traffic:   trafficSvc,
		llms:      llms,
		events:    events,
		masterKey: masterKey,
	})

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("listening", "port", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server", "error", err)
		os.Exit(1)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
