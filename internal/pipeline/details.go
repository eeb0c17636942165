package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/TobiSchelling/Deadline/internal/apperr"
	"github.com/TobiSchelling/Deadline/internal/cache"
	"github.com/TobiSchelling/Deadline/internal/config"
	"github.com/TobiSchelling/Deadline/internal/database"
	"github.com/TobiSchelling/Deadline/internal/digest"
	"github.com/TobiSchelling/Deadline/internal/extract"
	"github.com/TobiSchelling/Deadline/internal/metrics"
	"github.com/TobiSchelling/Deadline/internal/scrape"
	"github.com/TobiSchelling/Deadline/internal/search"
)

const detailsPipeline = "details"

// WindowSummary reports what one search window contributed.
type WindowSummary struct {
	Label    string         `json:"label"`
	Span     string         `json:"span"`
	Found    int            `json:"found"`
	Accepted int            `json:"accepted"`
	Priority int            `json:"priority"`
	Scraped  int            `json:"scraped"`
	Rejected map[string]int `json:"rejected,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// DetailsResult is the outcome of a full analysis.
type DetailsResult struct {
	RunID            string                 `json:"run_id"`
	EventID          int64                  `json:"event_id"`
	EventTitle       string                 `json:"event_title"`
	Query            string                 `json:"query"`
	Created          bool                   `json:"created"`
	Windows          []WindowSummary        `json:"windows"`
	SearchResults    int                    `json:"total_search_results"`
	ArticlesScraped  int                    `json:"articles_scraped"`
	ArticlesPacked   int                    `json:"articles_in_context"`
	ArticlesByPeriod map[string]int         `json:"articles_by_period"`
	ContextChars     int                    `json:"context_chars"`
	SourcesCount     int                    `json:"sources_count"`
	ImagesCount      int                    `json:"images_count"`
	Details          *database.EventDetails `json:"details"`
	Steps            []StepResult           `json:"steps"`
	Elapsed          time.Duration          `json:"-"`
}

// Analyzer runs the full analysis: windowed search, scraping, packing,
// extraction and persistence.
type Analyzer struct {
	store     Store
	searcher  *search.PeriodSearcher
	images    search.ImageSearcher
	scraper   Scraper
	extractor *extract.Extractor
	cache     cache.Cache
	metrics   *metrics.Collector
	logger    *zap.Logger

	budget      digest.Budget
	maxSnippets int
	maxImages   int
	windowDelay time.Duration
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

// AnalyzerDeps are the collaborators of an Analyzer. Images, Cache and
// Metrics may be nil.
type AnalyzerDeps struct {
	Store     Store
	Searcher  *search.PeriodSearcher
	Images    search.ImageSearcher
	Scraper   Scraper
	Extractor *extract.Extractor
	Cache     cache.Cache
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(deps AnalyzerDeps, searchCfg config.Search, digestCfg config.Digest) *Analyzer {
	return &Analyzer{
		store:       deps.Store,
		searcher:    deps.Searcher,
		images:      deps.Images,
		scraper:     deps.Scraper,
		extractor:   deps.Extractor,
		cache:       deps.Cache,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		budget:      digest.BudgetFromConfig(digestCfg),
		maxSnippets: searchCfg.MaxSnippets,
		maxImages:   searchCfg.MaxImages,
		windowDelay: searchCfg.WindowDelay(),
		now:         time.Now,
		sleep:       sleep,
	}
}

// Analyze researches one event and upserts its details. Nothing is
// written unless every stage succeeds; a failed watermark bump is only
// logged.
func (a *Analyzer) Analyze(ctx context.Context, eventID int64) (*DetailsResult, error) {
	start := time.Now()
	r := &DetailsResult{
		RunID:            uuid.NewString(),
		EventID:          eventID,
		ArticlesByPeriod: make(map[string]int),
	}
	logger := a.logger.With(zap.String("run_id", r.RunID), zap.Int64("event_id", eventID))

	err := a.analyze(ctx, r, logger)
	r.Elapsed = time.Since(start)
	a.metrics.RunFinished(detailsPipeline, outcome(err))
	if err != nil {
		logger.Error("analysis failed", zap.Error(err), zap.Duration("elapsed", r.Elapsed))
		return r, err
	}
	logger.Info("analysis complete",
		zap.Int("articles", r.ArticlesScraped),
		zap.Int("sources", r.SourcesCount),
		zap.Bool("created", r.Created),
		zap.Duration("elapsed", r.Elapsed),
	)
	return r, nil
}

func (a *Analyzer) analyze(ctx context.Context, r *DetailsResult, logger *zap.Logger) error {
	event, err := loadEvent(ctx, a.store, r.EventID)
	if err != nil {
		return err
	}
	r.EventTitle = event.Title
	r.Query = eventQuery(event)
	if r.Query == "" {
		return apperr.New(apperr.Validation, "event has no search query")
	}

	// Step 1-3: search each window in order, scraping as we go
	stepStart := time.Now()
	sess := search.NewSession()
	var articles []scrape.Article
	windows := search.PlanWindows(a.now())
	for i, w := range windows {
		wr := a.searcher.SearchWindow(ctx, sess, r.Query, w)
		scraped := a.scraper.ScrapeAll(ctx, wr.Priority, r.Query, w, i)
		articles = append(articles, scraped...)
		a.metrics.Articles(len(scraped), len(wr.Priority)-len(scraped))

		ws := WindowSummary{
			Label:    w.Label,
			Span:     w.Span,
			Found:    wr.Found,
			Accepted: len(wr.Accepted),
			Priority: len(wr.Priority),
			Scraped:  len(scraped),
			Rejected: wr.Rejected,
		}
		if wr.Err != nil {
			ws.Error = wr.Err.Error()
		}
		r.Windows = append(r.Windows, ws)
		r.ArticlesByPeriod[w.String()] += len(scraped)

		if i < len(windows)-1 {
			if err := a.sleep(ctx, a.windowDelay); err != nil {
				return apperr.Wrap(apperr.Upstream, err, "analysis cancelled")
			}
		}
	}
	results := sess.Results()
	r.SearchResults = len(results)
	r.ArticlesScraped = len(articles)
	r.addStep("Search", fmt.Sprintf("%d results, %d articles scraped", len(results), len(articles)), stepStart, nil)
	a.metrics.ObserveStage(detailsPipeline, "search", time.Since(stepStart))

	if len(articles) == 0 {
		return apperr.New(apperr.Upstream, "no articles found or scraped")
	}
	scrape.SortArticles(articles)

	images := a.findImages(ctx, r.Query, logger)
	r.ImagesCount = len(images)

	// Step 4: pack
	stepStart = time.Now()
	packed := digest.Pack(articles, a.budget)
	snippets := digest.Snippets(results, a.maxSnippets)
	r.ArticlesPacked = packed.Included
	r.ContextChars = len([]rune(packed.Text))
	r.addStep("Pack", fmt.Sprintf("%d of %d articles in %d chars", packed.Included, len(articles), r.ContextChars), stepStart, nil)

	// Step 5: extract
	stepStart = time.Now()
	details, err := a.extractor.Details(ctx, r.Query, snippets, packed.Text)
	a.metrics.ObserveStage(detailsPipeline, "llm", time.Since(stepStart))
	r.addStep("Extract", "details extracted", stepStart, err)
	if err != nil {
		return err
	}

	details.EventID = r.EventID
	details.Sources = articleURLs(articles)
	details.Images = images
	r.SourcesCount = len(details.Sources)

	// Step 6: persist
	stepStart = time.Now()
	created, err := a.store.UpsertEventDetails(ctx, &details)
	r.addStep("Save", "details saved", stepStart, err)
	if err != nil {
		return fmt.Errorf("saving event details: %w", err)
	}
	r.Created = created
	r.Details = &details

	if err := a.store.SetLastUpdated(ctx, r.EventID, a.now()); err != nil {
		logger.Warn("failed to update event timestamp", zap.Error(err))
	}
	if err := invalidate(ctx, a.cache, r.EventID); err != nil {
		logger.Warn("cache invalidation failed", zap.Error(err))
	}
	return nil
}

func (a *Analyzer) findImages(ctx context.Context, query string, logger *zap.Logger) []string {
	if a.images == nil || a.maxImages <= 0 {
		return []string{}
	}
	urls, err := a.images.SearchImages(ctx, query, 10)
	if err != nil {
		logger.Warn("image search failed", zap.Error(err))
		return []string{}
	}
	return search.FilterImageURLs(urls, a.maxImages)
}

func (r *DetailsResult) addStep(name, summary string, start time.Time, err error) {
	if err != nil {
		summary = err.Error()
	}
	r.Steps = append(r.Steps, StepResult{Name: name, Summary: summary, Elapsed: time.Since(start), Err: err})
}

func articleURLs(articles []scrape.Article) []string {
	urls := make([]string, 0, len(articles))
	for _, a := range articles {
		urls = append(urls, a.URL)
	}
	return urls
}
