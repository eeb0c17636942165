// Package scrape fetches candidate pages and extracts their main text.
package scrape

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/Deadline/internal/apperr"
	"github.com/TobiSchelling/Deadline/internal/config"
	"github.com/TobiSchelling/Deadline/internal/search"
)

const (
	minBodyChars    = 200
	minContentChars = 100
	// MinArticleChars is the content length required to keep an article.
	MinArticleChars = 150
)

var (
	errTooShort   = errors.New("page body too short")
	errNoContent  = errors.New("no extractable content")
	errNotHTML    = errors.New("not an HTML page")
	errTooManyHop = errors.New("stopped after 10 redirects")
)

// Article is one scraped page. It lives only for a single run.
type Article struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
	Score   int    `json:"relevance_score"`
	// Window is the label of the search window the article came from.
	Window      string `json:"time_period"`
	WindowIndex int    `json:"-"`
	Strategy    string `json:"-"`
}

// Scraper fetches pages with a browser user agent.
type Scraper struct {
	client      *http.Client
	userAgent   string
	maxBody     int64
	concurrency int
	timeout     time.Duration
	chain       []Strategy
	logger      *zap.Logger
}

// New creates a scraper from config.
func New(cfg config.Scrape, logger *zap.Logger) *Scraper {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 5 << 20
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Scraper{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return errTooManyHop
				}
				return nil
			},
		},
		userAgent:   cfg.UserAgent,
		maxBody:     maxBody,
		concurrency: concurrency,
		timeout:     cfg.Timeout(),
		chain:       DefaultChain,
		logger:      logger,
	}
}

// FetchDocument downloads an HTML page and parses it.
func (s *Scraper) FetchDocument(ctx context.Context, pageURL string) (*goquery.Document, error) {
	body, err := s.fetchHTML(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}
	return doc, nil
}

// Scrape fetches one page and extracts its article text. terms feed the
// relevance score.
func (s *Scraper) Scrape(ctx context.Context, pageURL, terms string) (*Article, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parsing URL: %w", err)
	}

	body, err := s.fetchHTML(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	if utf8.RuneCount(body) < minBodyChars {
		return nil, errTooShort
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	title := CleanTitle(doc.Find("title").First().Text())
	Clean(doc)
	content, strategy := Extract(s.chain, doc, parsed)
	if runeLen(content) < minContentChars {
		return nil, errNoContent
	}

	return &Article{
		URL:      pageURL,
		Title:    title,
		Content:  content,
		Source:   search.Hostname(pageURL),
		Score:    Relevance(content, terms),
		Strategy: strategy,
	}, nil
}

// ScrapeAll scrapes results concurrently and returns the articles long
// enough to keep, in input order. Individual failures are logged and
// skipped; they never cancel other fetches.
func (s *Scraper) ScrapeAll(ctx context.Context, results []search.Result, terms string, window search.Window, windowIndex int) []Article {
	slots := make([]*Article, len(results))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i, r := range results {
		g.Go(func() error {
			a, err := s.Scrape(ctx, r.Link, terms)
			if err != nil {
				s.logger.Debug("scrape failed", zap.String("url", r.Link), zap.Error(err))
				return nil
			}
			a.Window = window.String()
			a.WindowIndex = windowIndex
			if a.Title == "" {
				a.Title = r.Title
			}
			slots[i] = a
			return nil
		})
	}
	_ = g.Wait()

	var out []Article
	for _, a := range slots {
		if a != nil && runeLen(a.Content) > MinArticleChars {
			out = append(out, *a)
		}
	}
	return out
}

func (s *Scraper) fetchHTML(ctx context.Context, pageURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return nil, err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "fetch failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.New(apperr.Upstream, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}
	if !strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "text/html") {
		return nil, errNotHTML
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody))
	if err != nil {
		return nil, apperr.Wrap(apperr.Upstream, err, "reading body")
	}
	return body, nil
}

// CleanTitle drops a trailing " - Site" or " | Site" suffix.
func CleanTitle(title string) string {
	title = NormalizeText(title)
	i := max(strings.LastIndex(title, " | "), strings.LastIndex(title, " - "))
	if i > 0 {
		title = title[:i]
	}
	return strings.TrimSpace(title)
}

// Relevance counts case-insensitive occurrences of every query term longer
// than three characters, plus +2 above 1000 characters and a further +3
// above 2000.
func Relevance(content, terms string) int {
	lower := strings.ToLower(content)
	score := 0
	for _, term := range strings.Fields(strings.ToLower(terms)) {
		if runeLen(term) > 3 {
			score += strings.Count(lower, term)
		}
	}
	n := runeLen(content)
	if n > 1000 {
		score += 2
	}
	if n > 2000 {
		score += 3
	}
	return score
}

// SortArticles orders by window (oldest first), then by descending score.
func SortArticles(articles []Article) {
	sort.SliceStable(articles, func(i, j int) bool {
		if articles[i].WindowIndex != articles[j].WindowIndex {
			return articles[i].WindowIndex < articles[j].WindowIndex
		}
		return articles[i].Score > articles[j].Score
	})
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
