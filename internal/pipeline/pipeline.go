// Package pipeline runs the full-analysis and delta-update research passes
// for a single event.
package pipeline

import (
	"context"
	"time"

	"github.com/TobiSchelling/Deadline/internal/apperr"
	"github.com/TobiSchelling/Deadline/internal/cache"
	"github.com/TobiSchelling/Deadline/internal/database"
	"github.com/TobiSchelling/Deadline/internal/scrape"
	"github.com/TobiSchelling/Deadline/internal/search"
)

// Store is the persistence the pipelines need. *database.DB satisfies it.
type Store interface {
	GetEvent(ctx context.Context, id int64) (*database.Event, error)
	UpsertEventDetails(ctx context.Context, d *database.EventDetails) (bool, error)
	SetLastUpdated(ctx context.Context, id int64, t time.Time) error
	InsertEventUpdates(ctx context.Context, updates []database.EventUpdate) error
}

// Scraper fetches candidate articles. *scrape.Scraper satisfies it.
type Scraper interface {
	Scrape(ctx context.Context, pageURL, terms string) (*scrape.Article, error)
	ScrapeAll(ctx context.Context, results []search.Result, terms string, window search.Window, windowIndex int) []scrape.Article
}

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string        `json:"name"`
	Summary string        `json:"summary"`
	Elapsed time.Duration `json:"-"`
	Err     error         `json:"-"`
}

// loadEvent fetches the event a run is about. Lookup failures abort the run.
func loadEvent(ctx context.Context, store Store, id int64) (*database.Event, error) {
	event, err := store.GetEvent(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "event lookup failed")
	}
	if event == nil {
		return nil, apperr.New(apperr.NotFound, "event not found")
	}
	return event, nil
}

func eventQuery(e *database.Event) string {
	if e.Query != "" {
		return e.Query
	}
	return e.Title
}

func invalidate(ctx context.Context, c cache.Cache, eventID int64) error {
	if c == nil {
		return nil
	}
	_, err := c.Invalidate(ctx, cache.EventTags(eventID)...)
	return err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func outcome(err error) string {
	if err == nil {
		return "success"
	}
	if kind := apperr.KindOf(err); kind != "" {
		return string(kind)
	}
	return "error"
}
