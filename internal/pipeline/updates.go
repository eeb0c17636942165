package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/Deadline/internal/cache"
	"github.com/TobiSchelling/Deadline/internal/config"
	"github.com/TobiSchelling/Deadline/internal/database"
	"github.com/TobiSchelling/Deadline/internal/extract"
	"github.com/TobiSchelling/Deadline/internal/metrics"
	"github.com/TobiSchelling/Deadline/internal/search"
)

const updatesPipeline = "updates"

// UpdateDebug carries per-stage timings and counts of a delta run.
type UpdateDebug struct {
	EventFetchMS        int64   `json:"event_fetch_ms"`
	SearchMS            int64   `json:"search_ms"`
	ScrapeMS            int64   `json:"scrape_ms"`
	LLMMS               int64   `json:"llm_ms"`
	DatabaseInsertMS    int64   `json:"database_insert_ms"`
	TotalMS             int64   `json:"total_ms"`
	SearchResultsCount  int     `json:"search_results_count"`
	FilteredResultCount int     `json:"filtered_results_count"`
	LastUpdatedDate     *string `json:"last_updated_date"`
	DaysSinceLastUpdate int     `json:"days_since_last_update"`
	HasNewContent       bool    `json:"has_new_content"`
}

// UpdatesResult is the outcome of a delta run.
type UpdatesResult struct {
	RunID        string                 `json:"run_id"`
	EventID      int64                  `json:"event_id"`
	Message      string                 `json:"message"`
	LastUpdated  string                 `json:"last_updated"`
	NewWatermark string                 `json:"new_last_updated,omitempty"`
	Updates      []database.EventUpdate `json:"updates"`
	Dropped      int                    `json:"dropped_updates"`
	Debug        UpdateDebug            `json:"debug"`
}

// Updater finds developments newer than an event's watermark.
type Updater struct {
	store     Store
	provider  search.Provider
	scraper   Scraper
	extractor *extract.Extractor
	cache     cache.Cache
	metrics   *metrics.Collector
	logger    *zap.Logger

	numResults   int
	contentChars int
	concurrency  int
	now          func() time.Time
}

// UpdaterDeps are the collaborators of an Updater. Scraper, Cache and
// Metrics may be nil; without a scraper results carry snippets only.
type UpdaterDeps struct {
	Store     Store
	Provider  search.Provider
	Scraper   Scraper
	Extractor *extract.Extractor
	Cache     cache.Cache
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// NewUpdater creates an updater.
func NewUpdater(deps UpdaterDeps, searchCfg config.Search, scrapeCfg config.Scrape, digestCfg config.Digest) *Updater {
	return &Updater{
		store:        deps.Store,
		provider:     deps.Provider,
		scraper:      deps.Scraper,
		extractor:    deps.Extractor,
		cache:        deps.Cache,
		metrics:      deps.Metrics,
		logger:       deps.Logger,
		numResults:   searchCfg.ResultsPerWindow,
		contentChars: digestCfg.UpdateContentChars,
		concurrency:  max(scrapeCfg.Concurrency, 1),
		now:          time.Now,
	}
}

// Run searches for content newer than the event's watermark and stores
// one update per distinct date the LLM reports. No qualifying content is
// a successful empty result.
func (u *Updater) Run(ctx context.Context, eventID int64) (*UpdatesResult, error) {
	start := time.Now()
	r := &UpdatesResult{RunID: uuid.NewString(), EventID: eventID, Updates: []database.EventUpdate{}}
	logger := u.logger.With(zap.String("run_id", r.RunID), zap.Int64("event_id", eventID))

	err := u.run(ctx, r, logger)
	r.Debug.TotalMS = time.Since(start).Milliseconds()

	result := outcome(err)
	if err == nil && len(r.Updates) == 0 {
		result = "empty"
	}
	u.metrics.RunFinished(updatesPipeline, result)
	if err != nil {
		logger.Error("update run failed", zap.Error(err))
		return r, err
	}
	logger.Info("update run complete", zap.Int("updates", len(r.Updates)), zap.String("message", r.Message))
	return r, nil
}

func (u *Updater) run(ctx context.Context, r *UpdatesResult, logger *zap.Logger) error {
	t := time.Now()
	event, err := loadEvent(ctx, u.store, r.EventID)
	r.Debug.EventFetchMS = time.Since(t).Milliseconds()
	if err != nil {
		return err
	}
	query := eventQuery(event)

	watermark := time.Unix(0, 0).UTC()
	if event.LastUpdated != nil {
		watermark = event.LastUpdated.UTC()
	}
	now := u.now()
	days := DaysSince(watermark, now)
	lastUpdated := watermark.Format(time.RFC3339)
	r.LastUpdated = lastUpdated
	r.Debug.LastUpdatedDate = &lastUpdated
	r.Debug.DaysSinceLastUpdate = days

	t = time.Now()
	results, err := u.provider.Search(ctx, search.Query{Terms: query, Days: days, Num: u.numResults, SortByDate: true})
	r.Debug.SearchMS = time.Since(t).Milliseconds()
	u.metrics.ObserveStage(updatesPipeline, "search", time.Since(t))
	if err != nil {
		logger.Warn("update search failed", zap.Error(err))
		results = nil
	}
	r.Debug.SearchResultsCount = len(results)

	fresh := FilterNewer(results, watermark, now)
	r.Debug.FilteredResultCount = len(fresh)
	r.Debug.HasNewContent = len(fresh) > 0
	if len(fresh) == 0 {
		r.Message = "No new updates found since last update"
		return nil
	}

	t = time.Now()
	sources := u.fetchContent(ctx, fresh, query)
	r.Debug.ScrapeMS = time.Since(t).Milliseconds()

	t = time.Now()
	set, err := u.extractor.Updates(ctx, query, sources, watermark)
	r.Debug.LLMMS = time.Since(t).Milliseconds()
	u.metrics.ObserveStage(updatesPipeline, "llm", time.Since(t))
	if err != nil {
		return err
	}
	r.Dropped = set.Dropped
	if !set.HasNewUpdates {
		r.Message = "No new updates found after analysis"
		return nil
	}

	for i := range set.Updates {
		set.Updates[i].EventID = r.EventID
	}
	t = time.Now()
	err = u.store.InsertEventUpdates(ctx, set.Updates)
	r.Debug.DatabaseInsertMS = time.Since(t).Milliseconds()
	if err != nil {
		return fmt.Errorf("failed to insert updates: %w", err)
	}
	r.Updates = set.Updates
	r.Message = fmt.Sprintf("%d updates created successfully", len(set.Updates))

	if latest, ok := extract.LatestDate(set.Updates); ok {
		if err := u.store.SetLastUpdated(ctx, r.EventID, latest); err != nil {
			logger.Warn("failed to advance watermark", zap.Error(err))
		} else {
			r.NewWatermark = latest.Format(time.RFC3339)
		}
	}
	if err := invalidate(ctx, u.cache, r.EventID); err != nil {
		logger.Warn("cache invalidation failed", zap.Error(err))
	}
	return nil
}

// fetchContent scrapes each result for the update prompt. Failures leave
// FullContent empty.
func (u *Updater) fetchContent(ctx context.Context, results []search.Result, query string) []extract.Source {
	sources := make([]extract.Source, len(results))
	for i, res := range results {
		sources[i] = extract.Source{Title: res.Title, Link: res.Link, Snippet: res.Snippet, Published: res.Published}
	}
	if u.scraper == nil {
		return sources
	}

	var g errgroup.Group
	g.SetLimit(u.concurrency)
	for i := range sources {
		g.Go(func() error {
			a, err := u.scraper.Scrape(ctx, sources[i].Link, query)
			if err != nil {
				u.logger.Debug("update scrape failed", zap.String("url", sources[i].Link), zap.Error(err))
				return nil
			}
			sources[i].FullContent = truncate(a.Content, u.contentChars)
			return nil
		})
	}
	_ = g.Wait()
	return sources
}

// FilterNewer keeps results whose published date parses, is not in the
// future and is strictly after watermark.
func FilterNewer(results []search.Result, watermark, now time.Time) []search.Result {
	var out []search.Result
	for _, r := range results {
		t, ok := search.ParsePublished(r.Published)
		if !ok || t.After(now) || !t.After(watermark) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// DaysSince returns the whole days from watermark to now, rounded up and
// at least 1.
func DaysSince(watermark, now time.Time) int {
	days := int(math.Ceil(now.Sub(watermark).Hours() / 24))
	return max(days, 1)
}

func truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
