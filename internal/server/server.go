// Package server exposes events, details and updates over a JSON HTTP API
// and triggers the research pipelines on demand.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/TobiSchelling/Deadline/internal/cache"
	"github.com/TobiSchelling/Deadline/internal/config"
	"github.com/TobiSchelling/Deadline/internal/database"
	"github.com/TobiSchelling/Deadline/internal/metrics"
	"github.com/TobiSchelling/Deadline/internal/pipeline"
)

// Analyzer runs a full analysis. *pipeline.Analyzer satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, eventID int64) (*pipeline.DetailsResult, error)
}

// Updater runs a delta update. *pipeline.Updater satisfies it.
type Updater interface {
	Run(ctx context.Context, eventID int64) (*pipeline.UpdatesResult, error)
}

// PageFetcher loads a page for title extraction. *scrape.Scraper satisfies it.
type PageFetcher interface {
	FetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error)
}

// Deps are the collaborators of a Server. Cache and Metrics may be nil.
type Deps struct {
	DB       *database.DB
	Analyzer Analyzer
	Updater  Updater
	Pages    PageFetcher
	Cache    cache.Cache
	Metrics  *metrics.Collector
	Logger   *zap.Logger
	// APIKey is the shared secret for protected endpoints. When empty
	// every protected request is rejected.
	APIKey   string
	TTL      time.Duration
	TitleTTL time.Duration
}

// Server is the HTTP API.
type Server struct {
	db       *database.DB
	analyzer Analyzer
	updater  Updater
	pages    PageFetcher
	cache    cache.Cache
	metrics  *metrics.Collector
	logger   *zap.Logger
	apiKey   string
	ttl      time.Duration
	titleTTL time.Duration
	mux      *http.ServeMux
}

// New creates a new Server.
func New(deps Deps) *Server {
	s := &Server{
		db:       deps.DB,
		analyzer: deps.Analyzer,
		updater:  deps.Updater,
		pages:    deps.Pages,
		cache:    deps.Cache,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
		apiKey:   deps.APIKey,
		ttl:      deps.TTL,
		titleTTL: deps.TitleTTL,
		mux:      http.NewServeMux(),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	s.handle("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.handle("GET /api/get/events", s.handleEvents)
	s.handle("GET /api/get/details", s.handleDetails)
	s.handle("GET /api/get/updates", s.handleUpdates)
	s.handle("GET /api/get/title", s.handleTitle)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		s.handle(method+" /api/search/details", s.handleSearchDetails)
		s.handle(method+" /api/search/updates", s.handleSearchUpdates)
		s.handle(method+" /api/revalidate", s.handleRevalidate)
	}
}

// handle registers h and labels its metrics with the pattern's path.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	_, path, _ := strings.Cut(pattern, " ")
	s.mux.Handle(pattern, s.metrics.InstrumentHandler(path, h))
}

// ListenAndServe serves on the configured address until ctx is cancelled,
// then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.Server) error {
	srv := &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", zap.String("addr", "http://"+srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}
