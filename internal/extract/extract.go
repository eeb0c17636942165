// Package extract turns packed research into structured event records
// with a single LLM call.
package extract

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/TobiSchelling/Deadline/internal/apperr"
	"github.com/TobiSchelling/Deadline/internal/config"
	"github.com/TobiSchelling/Deadline/internal/database"
	"github.com/TobiSchelling/Deadline/internal/llm"
	"github.com/TobiSchelling/Deadline/internal/search"
)

const (
	maxTitleChars       = 100
	maxDescriptionChars = 1000
	dateLayout          = "2006-01-02"
)

// Extractor calls the LLM and maps its reply onto database records.
type Extractor struct {
	provider llm.Provider
	cfg      config.LLM
	logger   *zap.Logger
}

// New creates an extractor.
func New(provider llm.Provider, cfg config.LLM, logger *zap.Logger) *Extractor {
	return &Extractor{provider: provider, cfg: cfg, logger: logger}
}

// Details asks the LLM for the full record of an event. Provider failures
// are Upstream errors; unusable replies are Extraction errors.
func (e *Extractor) Details(ctx context.Context, query, snippets, digest string) (database.EventDetails, error) {
	raw, err := e.generateJSON(ctx, llm.Request{
		System:      detailsSystem,
		Prompt:      fmt.Sprintf(detailsPrompt, query, snippets, digest),
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		JSON:        true,
	})
	if err != nil {
		return database.EventDetails{}, err
	}
	return Normalize(raw), nil
}

// Source is one search result offered to the update prompt.
type Source struct {
	Title       string
	Link        string
	Snippet     string
	Published   string
	FullContent string
}

// UpdateSet is the validated outcome of an update extraction.
type UpdateSet struct {
	HasNewUpdates bool
	Updates       []database.EventUpdate
	// Dropped counts updates rejected by validation or for not being
	// strictly after the watermark.
	Dropped int
}

// Updates asks the LLM for one update per distinct date after watermark.
func (e *Extractor) Updates(ctx context.Context, query string, sources []Source, watermark time.Time) (UpdateSet, error) {
	since := watermark.UTC().Format(dateLayout)
	maxTokens := e.cfg.UpdateMaxTokens
	if maxTokens <= 0 {
		maxTokens = e.cfg.MaxTokens
	}

	raw, err := e.generateJSON(ctx, llm.Request{
		System:      updatesSystem,
		Prompt:      fmt.Sprintf(updatesPrompt, query, since, since, since, formatSources(sources)),
		MaxTokens:   maxTokens,
		Temperature: e.cfg.Temperature,
		JSON:        true,
	})
	if err != nil {
		return UpdateSet{}, err
	}
	return NormalizeUpdates(raw, watermark), nil
}

// NormalizeUpdates validates and trims the updates in a decoded reply.
// Updates without a date, title or description are dropped, as are those
// whose date parses to a day not after the watermark's.
func NormalizeUpdates(raw map[string]any, watermark time.Time) UpdateSet {
	set := UpdateSet{Updates: []database.EventUpdate{}}
	items, _ := raw["updates"].([]any)
	watermarkDay := day(watermark)

	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			set.Dropped++
			continue
		}
		u := database.EventUpdate{
			UpdateDate:     str(m["date"]),
			Title:          str(m["title"]),
			Description:    str(m["description"]),
			RelevanceScore: clampScore(m["relevance_score"]),
			KeyInsights:    strs(m["key_insights"]),
			Summary:        str(m["summary"]),
			Sources:        strs(m["sources"]),
		}
		if u.UpdateDate == "" || u.Title == "" || u.Description == "" {
			set.Dropped++
			continue
		}
		if t, ok := search.ParsePublished(u.UpdateDate); ok {
			if !day(t).After(watermarkDay) {
				set.Dropped++
				continue
			}
			u.UpdateDate = t.Format(dateLayout)
		}
		u.Title = truncate(u.Title, maxTitleChars)
		u.Description = truncate(u.Description, maxDescriptionChars)
		set.Updates = append(set.Updates, u)
	}

	// A reply may claim has_new_updates while every update fails
	// validation; the surviving list is what counts.
	set.HasNewUpdates = len(set.Updates) > 0
	return set
}

// LatestDate returns the latest parseable update date at midnight UTC.
func LatestDate(updates []database.EventUpdate) (time.Time, bool) {
	var latest time.Time
	found := false
	for _, u := range updates {
		t, ok := search.ParsePublished(u.UpdateDate)
		if !ok {
			continue
		}
		if t = day(t); !found || t.After(latest) {
			latest, found = t, true
		}
	}
	return latest, found
}

func (e *Extractor) generateJSON(ctx context.Context, req llm.Request) (map[string]any, error) {
	if e.provider == nil || !e.provider.IsConfigured() {
		return nil, apperr.New(apperr.Upstream, "LLM provider not configured")
	}

	start := time.Now()
	text, err := e.provider.Generate(ctx, req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "LLM request failed")
	}
	e.logger.Debug("LLM reply received",
		zap.Int("prompt_chars", utf8.RuneCountInString(req.Prompt)),
		zap.Int("reply_chars", utf8.RuneCountInString(text)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return llm.ParseJSONObject(text)
}

func formatSources(sources []Source) string {
	blocks := make([]string, len(sources))
	for i, s := range sources {
		published := s.Published
		if published == "" {
			published = "Date not available"
		}
		content := s.FullContent
		if content == "" {
			content = "Content not available"
		}
		blocks[i] = fmt.Sprintf("Result %d:\nTitle: %s\nURL: %s\nSnippet: %s\nPublished: %s\nFull Article Content:\n%s\n---",
			i+1, s.Title, s.Link, s.Snippet, published, content)
	}
	return strings.Join(blocks, "\n\n")
}

func clampScore(v any) float64 {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case string:
		f, _ = strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	if math.IsNaN(f) {
		return 0
	}
	return math.Max(0, math.Min(10, f))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
