package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

// FeedProvider searches a query-driven RSS endpoint such as Google News
// search feeds. It needs no API key.
type FeedProvider struct {
	feedURL string
	parser  *gofeed.Parser
	timeout time.Duration
}

// NewFeedProvider creates a provider for feedURL, which receives the
// query as its q parameter.
func NewFeedProvider(feedURL string, userAgent string, timeout time.Duration) *FeedProvider {
	parser := gofeed.NewParser()
	if userAgent != "" {
		parser.UserAgent = userAgent
	}
	return &FeedProvider{feedURL: feedURL, parser: parser, timeout: timeout}
}

func (f *FeedProvider) Name() string { return "newsfeed" }

// Search encodes date restrictions with the after:/before:/when: operators.
func (f *FeedProvider) Search(ctx context.Context, q Query) ([]Result, error) {
	terms := q.Terms
	switch {
	case !q.Start.IsZero() && !q.End.IsZero():
		terms += fmt.Sprintf(" after:%s before:%s", q.Start.Format("2006-01-02"), q.End.Format("2006-01-02"))
	case q.Days > 0:
		terms += fmt.Sprintf(" when:%dd", q.Days)
	}

	u, err := url.Parse(f.feedURL)
	if err != nil {
		return nil, fmt.Errorf("parsing feed URL: %w", err)
	}
	params := u.Query()
	params.Set("q", terms)
	if params.Get("hl") == "" && strings.Contains(u.Host, "news.google.") {
		params.Set("hl", "en-US")
		params.Set("gl", "US")
		params.Set("ceid", "US:en")
	}
	u.RawQuery = params.Encode()

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	feed, err := f.parser.ParseURLWithContext(u.String(), ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	limit := int(clampNum(q.Num))
	var results []Result
	for _, item := range feed.Items {
		if len(results) >= limit {
			break
		}
		if r, ok := parseItem(item); ok {
			results = append(results, r)
		}
	}
	return results, nil
}

func parseItem(item *gofeed.Item) (Result, bool) {
	link := item.Link
	if link == "" {
		link = item.GUID
	}
	title := strings.TrimSpace(item.Title)
	if link == "" || title == "" {
		return Result{}, false
	}

	display := Hostname(link)
	// News aggregators append " - Publisher" to titles.
	if i := strings.LastIndex(title, " - "); i > 0 {
		display = strings.TrimSpace(title[i+3:])
		title = strings.TrimSpace(title[:i])
	}

	snippet := stripHTML(item.Description)
	if snippet == "" {
		snippet = stripHTML(item.Content)
	}
	if snippet == "" {
		snippet = title
	}

	var published string
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC().Format(time.RFC3339)
	} else if item.UpdatedParsed != nil {
		published = item.UpdatedParsed.UTC().Format(time.RFC3339)
	}

	return Result{
		Title:       title,
		Link:        link,
		Snippet:     snippet,
		DisplayLink: display,
		Published:   published,
	}, true
}

func stripHTML(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.Join(strings.Fields(text), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}
