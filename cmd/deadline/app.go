package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/TobiSchelling/Deadline/internal/cache"
	"github.com/TobiSchelling/Deadline/internal/database"
	"github.com/TobiSchelling/Deadline/internal/extract"
	"github.com/TobiSchelling/Deadline/internal/llm"
	"github.com/TobiSchelling/Deadline/internal/metrics"
	"github.com/TobiSchelling/Deadline/internal/pipeline"
	"github.com/TobiSchelling/Deadline/internal/scrape"
	"github.com/TobiSchelling/Deadline/internal/search"
)

// app holds the process-wide services, built once per command.
type app struct {
	db       *database.DB
	cache    cache.Cache
	metrics  *metrics.Collector
	scraper  *scrape.Scraper
	analyzer *pipeline.Analyzer
	updater  *pipeline.Updater
}

func newApp(ctx context.Context) (*app, error) {
	db, err := openDB(ctx)
	if err != nil {
		return nil, err
	}

	provider, images, err := newSearchProvider(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	c, err := newCache(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}

	m, err := metrics.New()
	if err != nil {
		db.Close()
		c.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	model := llm.CreateProvider(cfg.LLM, logger)
	if !model.IsConfigured() {
		logger.Warn("LLM provider is not configured; analysis runs will fail",
			zap.String("provider", cfg.LLM.Provider), zap.String("env", cfg.LLM.APIKeyEnv))
	}
	extractor := extract.New(model, cfg.LLM, logger.Named("extract"))
	scraper := scrape.New(cfg.Scrape, logger.Named("scrape"))
	filter := search.NewFilter(cfg.Search.BlockedDomains, cfg.Search.PaywallDomains)

	a := &app{db: db, cache: c, metrics: m, scraper: scraper}
	a.analyzer = pipeline.NewAnalyzer(pipeline.AnalyzerDeps{
		Store: db,
		Searcher: search.NewPeriodSearcher(provider, filter,
			cfg.Search.ResultsPerWindow, cfg.Search.PriorityPerWindow, logger.Named("search")),
		Images:    images,
		Scraper:   scraper,
		Extractor: extractor,
		Cache:     c,
		Metrics:   m,
		Logger:    logger.Named("details"),
	}, cfg.Search, cfg.Digest)
	a.updater = pipeline.NewUpdater(pipeline.UpdaterDeps{
		Store:     db,
		Provider:  provider,
		Scraper:   scraper,
		Extractor: extractor,
		Cache:     c,
		Metrics:   m,
		Logger:    logger.Named("updates"),
	}, cfg.Search, cfg.Scrape, cfg.Digest)
	return a, nil
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		logger.Warn("closing cache", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		logger.Warn("closing database", zap.Error(err))
	}
}

func openDB(ctx context.Context) (*database.DB, error) {
	switch strings.ToLower(cfg.Database.Driver) {
	case "postgres", "postgresql":
		dsn := os.Getenv(cfg.Database.URLEnv)
		if dsn == "" {
			return nil, fmt.Errorf("postgres driver selected but $%s is empty", cfg.Database.URLEnv)
		}
		return database.OpenPostgres(ctx, dsn)
	case "sqlite", "":
		return database.Open(cfg.DatabasePath())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

// newSearchProvider returns the configured web search provider and, when it
// supports one, an image searcher.
func newSearchProvider(ctx context.Context) (search.Provider, search.ImageSearcher, error) {
	timeout := cfg.Search.Timeout()
	switch strings.ToLower(cfg.Search.Provider) {
	case "google", "":
		g, err := search.NewGoogleProvider(ctx,
			os.Getenv(cfg.Search.APIKeyEnv), os.Getenv(cfg.Search.EngineIDEnv),
			timeout, logger.Named("google"))
		if err != nil {
			return nil, nil, fmt.Errorf("%w (set $%s and $%s)", err, cfg.Search.APIKeyEnv, cfg.Search.EngineIDEnv)
		}
		return g, g, nil
	case "newsapi":
		p := search.NewNewsAPIProvider(os.Getenv(cfg.Search.NewsAPIKeyEnv), timeout)
		if !p.IsConfigured() {
			return nil, nil, fmt.Errorf("newsapi provider selected but $%s is empty", cfg.Search.NewsAPIKeyEnv)
		}
		return p, nil, nil
	case "newsfeed":
		return search.NewFeedProvider(cfg.Search.FeedURL, cfg.Scrape.UserAgent, timeout), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown search provider: %s", cfg.Search.Provider)
	}
}

func searchConfigured() bool {
	switch strings.ToLower(cfg.Search.Provider) {
	case "google", "":
		return os.Getenv(cfg.Search.APIKeyEnv) != "" && os.Getenv(cfg.Search.EngineIDEnv) != ""
	case "newsapi":
		return os.Getenv(cfg.Search.NewsAPIKeyEnv) != ""
	case "newsfeed":
		return true
	}
	return false
}

// newCache connects to Redis when an address is set and falls back to an
// in-process cache otherwise.
func newCache(ctx context.Context) (cache.Cache, error) {
	addr := os.Getenv(cfg.Cache.RedisAddrEnv)
	if addr == "" {
		return cache.NewMemory(), nil
	}
	return cache.NewRedis(ctx, addr, os.Getenv(cfg.Cache.RedisPasswordEnv),
		cfg.Cache.RedisDB, cfg.Cache.Channel, logger.Named("cache"))
}

func cacheKind() string {
	if addr := os.Getenv(cfg.Cache.RedisAddrEnv); addr != "" {
		return "redis (" + addr + ")"
	}
	return "in-process"
}
