// Package search queries web search providers and filters their results.
package search

import (
	"context"
	"net/url"
	"strings"
	"time"
)

// Result is one search hit.
type Result struct {
	Title       string `json:"title"`
	Link        string `json:"link"`
	Snippet     string `json:"snippet"`
	DisplayLink string `json:"display_link"`
	// Published is the raw published-date hint from page metadata, if any.
	Published string `json:"published,omitempty"`
}

// Query describes one provider request. Start/End restrict to a date
// range; Days restricts to the trailing N days. At most one is set.
type Query struct {
	Terms      string
	Start      time.Time
	End        time.Time
	Days       int
	Num        int
	SortByDate bool
}

// Provider runs web searches.
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Result, error)
}

// ImageSearcher finds image URLs for a query.
type ImageSearcher interface {
	SearchImages(ctx context.Context, terms string, num int) ([]string, error)
}

// Filter rejects results from blocked or paywalled hosts and results
// missing a title or snippet.
type Filter struct {
	blocked []string
	paywall []string
}

// NewFilter creates a filter for the given domain lists. A domain also
// matches its subdomains.
func NewFilter(blocked, paywall []string) *Filter {
	return &Filter{blocked: normalizeDomains(blocked), paywall: normalizeDomains(paywall)}
}

// Allow reports whether r may be kept, and the rejection reason if not.
func (f *Filter) Allow(r Result) (bool, string) {
	if r.Link == "" || strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.Snippet) == "" {
		return false, "incomplete"
	}
	hosts := []string{Hostname(r.Link), normalizeHost(r.DisplayLink)}
	for _, h := range hosts {
		if h == "" {
			continue
		}
		if matchesAny(h, f.blocked) {
			return false, "blocked"
		}
		if matchesAny(h, f.paywall) {
			return false, "paywall"
		}
	}
	return true, ""
}

// Hostname returns the lower-cased host of rawURL without a leading "www.".
func Hostname(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return normalizeHost(u.Hostname())
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	// DisplayLink may carry a path ("example.com/news").
	if i := strings.IndexByte(h, '/'); i >= 0 {
		h = h[:i]
	}
	return strings.TrimPrefix(h, "www.")
}

func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if d = normalizeHost(d); d != "" {
			out = append(out, d)
		}
	}
	return out
}

func matchesAny(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
