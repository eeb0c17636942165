package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/Deadline/internal/apperr"
	"github.com/TobiSchelling/Deadline/internal/cache"
	"github.com/TobiSchelling/Deadline/internal/config"
	"github.com/TobiSchelling/Deadline/internal/database"
	"github.com/TobiSchelling/Deadline/internal/extract"
	"github.com/TobiSchelling/Deadline/internal/llm"
	"github.com/TobiSchelling/Deadline/internal/scrape"
	"github.com/TobiSchelling/Deadline/internal/search"
)

// fakeStore records writes in memory.
type fakeStore struct {
	mu           sync.Mutex
	events       map[int64]*database.Event
	getErr       error
	details      map[int64]database.EventDetails
	upserts      int
	updates      []database.EventUpdate
	watermarks   []time.Time
	watermarkErr error
}

func newFakeStore(events ...database.Event) *fakeStore {
	s := &fakeStore{events: make(map[int64]*database.Event), details: make(map[int64]database.EventDetails)}
	for i := range events {
		s.events[events[i].ID] = &events[i]
	}
	return s
}

func (s *fakeStore) GetEvent(_ context.Context, id int64) (*database.Event, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.events[id], nil
}

func (s *fakeStore) UpsertEventDetails(_ context.Context, d *database.EventDetails) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, exists := s.details[d.EventID]
	s.details[d.EventID] = *d
	s.upserts++
	return !exists, nil
}

func (s *fakeStore) SetLastUpdated(_ context.Context, _ int64, t time.Time) error {
	s.watermarks = append(s.watermarks, t)
	return s.watermarkErr
}

func (s *fakeStore) InsertEventUpdates(_ context.Context, updates []database.EventUpdate) error {
	s.updates = append(s.updates, updates...)
	return nil
}

type mockSearch struct {
	results []search.Result
	err     error
	queries []search.Query
}

func (m *mockSearch) Name() string { return "mock" }

func (m *mockSearch) Search(_ context.Context, q search.Query) ([]search.Result, error) {
	m.queries = append(m.queries, q)
	return m.results, m.err
}

type mockImages struct{ urls []string }

func (m mockImages) SearchImages(context.Context, string, int) ([]string, error) { return m.urls, nil }

// fakeScraper returns a canned article for every URL in pages.
type fakeScraper struct {
	pages map[string]string
}

func (f *fakeScraper) Scrape(_ context.Context, pageURL, terms string) (*scrape.Article, error) {
	content, ok := f.pages[pageURL]
	if !ok {
		return nil, errors.New("fetch failed")
	}
	return &scrape.Article{URL: pageURL, Title: "T", Content: content, Source: search.Hostname(pageURL), Score: scrape.Relevance(content, terms)}, nil
}

func (f *fakeScraper) ScrapeAll(ctx context.Context, results []search.Result, terms string, w search.Window, idx int) []scrape.Article {
	var out []scrape.Article
	for _, r := range results {
		if a, err := f.Scrape(ctx, r.Link, terms); err == nil && len(a.Content) > scrape.MinArticleChars {
			a.Window = w.String()
			a.WindowIndex = idx
			out = append(out, *a)
		}
	}
	return out
}

type mockLLM struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (m *mockLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, req.Prompt)
	return m.response, m.err
}

func (m *mockLLM) IsConfigured() bool { return true }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Search.WindowDelayMillis = 0
	return cfg
}

func newTestAnalyzer(store Store, provider search.Provider, scraper Scraper, model llm.Provider, c cache.Cache) *Analyzer {
	cfg := testConfig()
	logger := zap.NewNop()
	a := NewAnalyzer(AnalyzerDeps{
		Store:     store,
		Searcher:  search.NewPeriodSearcher(provider, search.NewFilter(cfg.Search.BlockedDomains, cfg.Search.PaywallDomains), 10, 8, logger),
		Images:    mockImages{urls: []string{"https://a.com/favicon.ico", "https://a.com/photo.jpg"}},
		Scraper:   scraper,
		Extractor: extract.New(model, cfg.LLM, logger),
		Cache:     c,
		Logger:    logger,
	}, cfg.Search, cfg.Digest)
	a.now = func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }
	return a
}

func newTestUpdater(store Store, provider search.Provider, scraper Scraper, model llm.Provider, now time.Time) *Updater {
	cfg := testConfig()
	logger := zap.NewNop()
	u := NewUpdater(UpdaterDeps{
		Store:     store,
		Provider:  provider,
		Scraper:   scraper,
		Extractor: extract.New(model, cfg.LLM, logger),
		Logger:    logger,
	}, cfg.Search, cfg.Scrape, cfg.Digest)
	u.now = func() time.Time { return now }
	return u
}

func articleText(n int) string {
	return strings.Repeat("Springfield fraud case hearing continues. ", n)
}

func TestAnalyzeNoArticlesFails(t *testing.T) {
	store := newFakeStore(database.Event{ID: 7, Query: "Springfield fraud case"})
	model := &mockLLM{response: `{"headline":"X"}`}
	a := newTestAnalyzer(store, &mockSearch{}, &fakeScraper{}, model, nil)

	_, err := a.Analyze(context.Background(), 7)
	if !apperr.Is(err, apperr.Upstream) {
		t.Fatalf("err = %v, want upstream error", err)
	}
	if store.upserts != 0 || len(store.watermarks) != 0 {
		t.Error("nothing should be written when no articles were scraped")
	}
	if model.calls != 0 {
		t.Error("LLM should not be called without articles")
	}
}

func TestAnalyzeFencedReplySaves(t *testing.T) {
	store := newFakeStore(database.Event{ID: 42, Query: "Springfield fraud case"})
	provider := &mockSearch{results: []search.Result{
		{Title: "A", Link: "https://a.com/1", Snippet: "s", DisplayLink: "a.com"},
		{Title: "B", Link: "https://b.com/2", Snippet: "s", DisplayLink: "b.com"},
		{Title: "Tweet", Link: "https://twitter.com/x", Snippet: "s", DisplayLink: "twitter.com"},
		{Title: "Thin", Link: "https://c.com/3", Snippet: "s", DisplayLink: "c.com"},
	}}
	scraper := &fakeScraper{pages: map[string]string{
		"https://a.com/1":      articleText(10),
		"https://b.com/2":      articleText(20),
		"https://c.com/3":      "too short",
		"https://twitter.com/x": articleText(50),
	}}
	model := &mockLLM{response: "```json {\"headline\":\"X\"} ```"}
	c := cache.NewMemory()
	c.Set(context.Background(), "details:42", []byte("stale"), 0, cache.DetailsTag(42))

	a := newTestAnalyzer(store, provider, scraper, model, c)
	r, err := a.Analyze(context.Background(), 42)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	saved, ok := store.details[42]
	if !ok {
		t.Fatal("details not saved")
	}
	if saved.Headline != "X" || saved.Accused.Individuals == nil || saved.Timeline == nil {
		t.Errorf("saved = %+v", saved)
	}
	if len(saved.Sources) != 2 {
		t.Errorf("sources = %v, want the two scraped articles", saved.Sources)
	}
	// Same window, so the higher scoring article comes first.
	if saved.Sources[0] != "https://b.com/2" {
		t.Errorf("sources order = %v", saved.Sources)
	}
	if len(saved.Images) != 1 || saved.Images[0] != "https://a.com/photo.jpg" {
		t.Errorf("images = %v", saved.Images)
	}
	if model.calls != 1 {
		t.Fatalf("LLM calls = %d, want 1", model.calls)
	}
	prompt := model.prompts[0]
	entry := "[1] b.com - T (Oldest Period (2-1 years ago))\n" + articleText(20) + "\n---"
	if !strings.Contains(prompt, entry) {
		t.Errorf("prompt is missing the packed b.com article:\n%s", prompt)
	}
	if !strings.Contains(prompt, "[2] a.com - T (Oldest Period (2-1 years ago))\n"+articleText(10)) {
		t.Errorf("prompt is missing the packed a.com article:\n%s", prompt)
	}
	if !strings.Contains(prompt, "1. [a.com] A: s") || !strings.Contains(prompt, "2. [b.com] B: s") {
		t.Errorf("prompt is missing the result snippets:\n%s", prompt)
	}
	if strings.Contains(prompt, "twitter.com") {
		t.Error("blocked result leaked into the prompt")
	}
	if len(store.watermarks) != 1 {
		t.Error("watermark not bumped")
	}
	if _, ok, _ := c.Get(context.Background(), "details:42"); ok {
		t.Error("cached details not invalidated")
	}

	if !r.Created || r.ArticlesScraped != 2 || r.SearchResults != 3 || len(r.Windows) != 4 {
		t.Errorf("result = %+v", r)
	}
	if r.Windows[0].Rejected["blocked"] != 1 || r.Windows[1].Rejected["duplicate"] != 3 {
		t.Errorf("window rejections = %v / %v", r.Windows[0].Rejected, r.Windows[1].Rejected)
	}
	if r.ArticlesByPeriod["Oldest Period (2-1 years ago)"] != 2 {
		t.Errorf("by period = %v", r.ArticlesByPeriod)
	}
}

func TestAnalyzeWaitsBetweenWindows(t *testing.T) {
	store := newFakeStore(database.Event{ID: 3, Query: "Springfield fraud case"})
	provider := &mockSearch{results: []search.Result{{Title: "A", Link: "https://a.com/1", Snippet: "s"}}}
	scraper := &fakeScraper{pages: map[string]string{"https://a.com/1": articleText(10)}}
	a := newTestAnalyzer(store, provider, scraper, &mockLLM{response: `{"headline":"X"}`}, nil)
	a.windowDelay = 250 * time.Millisecond

	var waits []time.Duration
	var searchesAtWait []int
	a.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		searchesAtWait = append(searchesAtWait, len(provider.queries))
		return nil
	}

	if _, err := a.Analyze(context.Background(), 3); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(provider.queries) != 4 {
		t.Fatalf("searches = %d, want 4", len(provider.queries))
	}
	if len(waits) != 3 {
		t.Fatalf("waits = %d, want 3 (none after the last window)", len(waits))
	}
	for i, d := range waits {
		if d != 250*time.Millisecond {
			t.Errorf("wait %d = %v", i, d)
		}
		if searchesAtWait[i] != i+1 {
			t.Errorf("wait %d happened after %d searches, want %d", i, searchesAtWait[i], i+1)
		}
	}
}

func TestAnalyzeCancelledDuringWindowDelay(t *testing.T) {
	store := newFakeStore(database.Event{ID: 3, Query: "Springfield fraud case"})
	provider := &mockSearch{results: []search.Result{{Title: "A", Link: "https://a.com/1", Snippet: "s"}}}
	scraper := &fakeScraper{pages: map[string]string{"https://a.com/1": articleText(10)}}
	model := &mockLLM{response: `{"headline":"X"}`}
	a := newTestAnalyzer(store, provider, scraper, model, nil)
	a.windowDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := a.Analyze(ctx, 3)
	if !apperr.Is(err, apperr.Upstream) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want cancelled upstream error", err)
	}
	if len(provider.queries) != 1 || model.calls != 0 || store.upserts != 0 {
		t.Errorf("searches=%d llm=%d upserts=%d after cancellation", len(provider.queries), model.calls, store.upserts)
	}
}

func TestAnalyzeErrors(t *testing.T) {
	provider := &mockSearch{results: []search.Result{{Title: "A", Link: "https://a.com/1", Snippet: "s"}}}
	scraper := &fakeScraper{pages: map[string]string{"https://a.com/1": articleText(10)}}

	tests := []struct {
		name  string
		store *fakeStore
		model *mockLLM
		id    int64
		kind  apperr.Kind
	}{
		{"missing event", newFakeStore(), &mockLLM{response: "{}"}, 1, apperr.NotFound},
		{"lookup failure", &fakeStore{getErr: errors.New("db down")}, &mockLLM{response: "{}"}, 1, apperr.Upstream},
		{"llm failure", newFakeStore(database.Event{ID: 1, Query: "q"}), &mockLLM{err: errors.New("timeout")}, 1, apperr.Upstream},
		{"unparseable reply", newFakeStore(database.Event{ID: 1, Query: "q"}), &mockLLM{response: "no json here"}, 1, apperr.Extraction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAnalyzer(tt.store, provider, scraper, tt.model, nil)
			_, err := a.Analyze(context.Background(), tt.id)
			if apperr.KindOf(err) != tt.kind {
				t.Errorf("kind = %q, want %q (err %v)", apperr.KindOf(err), tt.kind, err)
			}
			if tt.store.upserts != 0 {
				t.Error("no details should be written on failure")
			}
		})
	}
}

func TestAnalyzeWatermarkFailureIsNotFatal(t *testing.T) {
	store := newFakeStore(database.Event{ID: 3, Query: "q"})
	store.watermarkErr = errors.New("locked")
	provider := &mockSearch{results: []search.Result{{Title: "A", Link: "https://a.com/1", Snippet: "s"}}}
	scraper := &fakeScraper{pages: map[string]string{"https://a.com/1": articleText(10)}}

	a := newTestAnalyzer(store, provider, scraper, &mockLLM{response: `{"headline":"H"}`}, nil)
	if _, err := a.Analyze(context.Background(), 3); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if store.upserts != 1 {
		t.Error("details should still be saved")
	}
}

func TestAnalyzeWithDatabase(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	id, err := db.InsertEvent(ctx, database.NewEvent{Title: "Springfield fraud case"})
	if err != nil {
		t.Fatal(err)
	}

	provider := &mockSearch{results: []search.Result{{Title: "A", Link: "https://a.com/1", Snippet: "s"}}}
	scraper := &fakeScraper{pages: map[string]string{"https://a.com/1": articleText(10)}}
	a := newTestAnalyzer(db, provider, scraper, &mockLLM{response: `{"headline":"Fraud trial opens"}`}, nil)

	for range 2 {
		if _, err := a.Analyze(ctx, id); err != nil {
			t.Fatalf("Analyze: %v", err)
		}
	}

	d, err := db.GetEventDetails(ctx, id)
	if err != nil || d == nil {
		t.Fatalf("GetEventDetails = %v, %v", d, err)
	}
	if d.Headline != "Fraud trial opens" || len(d.Sources) != 1 {
		t.Errorf("details = %+v", d)
	}
	stats, _ := db.GetStats(ctx, 24*time.Hour)
	if stats.EventsWithDetails != 1 {
		t.Errorf("details rows = %d, want 1", stats.EventsWithDetails)
	}
	e, _ := db.GetEvent(ctx, id)
	if e.LastUpdated == nil {
		t.Error("watermark not set")
	}
}

func TestUpdaterScenario(t *testing.T) {
	watermark := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore(database.Event{ID: 42, Query: "Springfield fraud case", LastUpdated: &watermark})
	provider := &mockSearch{results: []search.Result{
		{Title: "Charges filed", Link: "https://a.com/charges", Snippet: "s", Published: "2024-01-05T09:00:00Z"},
		{Title: "Undated", Link: "https://b.com/undated", Snippet: "s", Published: "sometime soon"},
	}}
	scraper := &fakeScraper{pages: map[string]string{"https://a.com/charges": articleText(100)}}
	model := &mockLLM{response: `{"has_new_updates": true, "updates": [
		{"date": "2024-01-05", "title": "Charges filed", "description": "Prosecutors filed charges.", "relevance_score": 8, "sources": ["https://a.com/charges"]}
	]}`}

	u := newTestUpdater(store, provider, scraper, model, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC))
	r, err := u.Run(context.Background(), 42)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.updates) != 1 {
		t.Fatalf("inserted %d updates, want 1", len(store.updates))
	}
	got := store.updates[0]
	if got.EventID != 42 || got.UpdateDate != "2024-01-05" {
		t.Errorf("update = %+v", got)
	}
	want := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	if len(store.watermarks) != 1 || !store.watermarks[0].Equal(want) {
		t.Errorf("watermarks = %v, want [%v]", store.watermarks, want)
	}

	if q := provider.queries[0]; q.Days != 10 || !q.SortByDate || !q.Start.IsZero() {
		t.Errorf("query = %+v", q)
	}
	if r.Debug.SearchResultsCount != 2 || r.Debug.FilteredResultCount != 1 || !r.Debug.HasNewContent {
		t.Errorf("debug = %+v", r.Debug)
	}
	if r.Debug.DaysSinceLastUpdate != 10 || r.NewWatermark != "2024-01-05T00:00:00Z" {
		t.Errorf("days=%d new=%q", r.Debug.DaysSinceLastUpdate, r.NewWatermark)
	}
	if r.Message != "1 updates created successfully" {
		t.Errorf("message = %q", r.Message)
	}
}

func TestUpdaterNoNewContentSkipsLLM(t *testing.T) {
	watermark := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore(database.Event{ID: 5, Query: "q", LastUpdated: &watermark})
	provider := &mockSearch{results: []search.Result{
		{Title: "Old", Link: "https://a.com/old", Snippet: "s", Published: "2024-01-01T00:00:00Z"},
		{Title: "Future", Link: "https://a.com/future", Snippet: "s", Published: "2030-01-01"},
	}}
	model := &mockLLM{}

	u := newTestUpdater(store, provider, nil, model, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	r, err := u.Run(context.Background(), 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if model.calls != 0 || len(store.updates) != 0 || len(store.watermarks) != 0 {
		t.Errorf("calls=%d updates=%d watermarks=%d", model.calls, len(store.updates), len(store.watermarks))
	}
	if r.Message != "No new updates found since last update" || r.Debug.HasNewContent {
		t.Errorf("result = %+v", r)
	}
	if r.Updates == nil {
		t.Error("updates should be an empty list")
	}
}

func TestUpdaterSearchFailureIsEmpty(t *testing.T) {
	store := newFakeStore(database.Event{ID: 5, Query: "q"})
	u := newTestUpdater(store, &mockSearch{err: errors.New("quota")}, nil, &mockLLM{}, time.Now())

	r, err := u.Run(context.Background(), 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Debug.SearchResultsCount != 0 || len(store.updates) != 0 {
		t.Errorf("result = %+v", r)
	}
}

func TestUpdaterEpochWatermark(t *testing.T) {
	store := newFakeStore(database.Event{ID: 9, Query: "q"})
	provider := &mockSearch{}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	u := newTestUpdater(store, provider, nil, &mockLLM{}, now)

	r, err := u.Run(context.Background(), 9)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.LastUpdated != "1970-01-01T00:00:00Z" {
		t.Errorf("last updated = %q", r.LastUpdated)
	}
	if want := DaysSince(time.Unix(0, 0).UTC(), now); provider.queries[0].Days != want {
		t.Errorf("days = %d, want %d", provider.queries[0].Days, want)
	}
}

func TestUpdaterModelFindsNothing(t *testing.T) {
	watermark := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := newFakeStore(database.Event{ID: 5, Query: "q", LastUpdated: &watermark})
	provider := &mockSearch{results: []search.Result{{Title: "A", Link: "https://a.com", Snippet: "s", Published: "2024-01-03"}}}
	model := &mockLLM{response: `{"has_new_updates": false, "updates": []}`}

	r, err := newTestUpdater(store, provider, nil, model, time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)).Run(context.Background(), 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if r.Message != "No new updates found after analysis" || len(store.updates) != 0 || len(store.watermarks) != 0 {
		t.Errorf("result = %+v", r)
	}
}

func TestFilterNewer(t *testing.T) {
	w := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	results := []search.Result{
		{Link: "exact", Published: "2024-01-01T00:00:00Z"},
		{Link: "next-day", Published: "2024-01-02"},
		{Link: "unparseable", Published: "last Tuesday"},
		{Link: "missing"},
		{Link: "future", Published: "2024-04-01"},
	}
	got := FilterNewer(results, w, now)
	if len(got) != 1 || got[0].Link != "next-day" {
		t.Errorf("FilterNewer = %v", got)
	}
}

func TestDaysSince(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		now  time.Time
		want int
	}{
		{base, 1},
		{base.Add(time.Hour), 1},
		{base.Add(36 * time.Hour), 2},
		{base.AddDate(0, 0, 30), 30},
	}
	for _, tt := range tests {
		if got := DaysSince(base, tt.now); got != tt.want {
			t.Errorf("DaysSince(%v) = %d, want %d", tt.now, got, tt.want)
		}
	}
}

func TestStepsRecorded(t *testing.T) {
	store := newFakeStore(database.Event{ID: 1, Query: "q"})
	provider := &mockSearch{results: []search.Result{{Title: "A", Link: "https://a.com/1", Snippet: "s"}}}
	scraper := &fakeScraper{pages: map[string]string{"https://a.com/1": articleText(10)}}
	r, err := newTestAnalyzer(store, provider, scraper, &mockLLM{response: "{}"}, nil).Analyze(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range r.Steps {
		names = append(names, s.Name)
	}
	if fmt.Sprint(names) != "[Search Pack Extract Save]" {
		t.Errorf("steps = %v", names)
	}
}
