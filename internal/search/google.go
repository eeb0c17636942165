package search

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

const cseDateLayout = "20060102"

// GoogleProvider searches through the Custom Search JSON API.
type GoogleProvider struct {
	svc     *customsearch.Service
	cx      string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGoogleProvider creates a Custom Search client for engine cx.
// Extra options are appended after the API key (tests pass an endpoint).
func NewGoogleProvider(ctx context.Context, apiKey, cx string, timeout time.Duration, logger *zap.Logger, opts ...option.ClientOption) (*GoogleProvider, error) {
	if apiKey == "" || cx == "" {
		return nil, fmt.Errorf("google custom search requires an API key and engine ID")
	}
	svc, err := customsearch.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating custom search client: %w", err)
	}
	return &GoogleProvider{svc: svc, cx: cx, timeout: timeout, logger: logger}, nil
}

func (g *GoogleProvider) Name() string { return "google" }

// Search runs a web query. A date range becomes a "date:r:start:end" sort
// restriction; Days becomes dateRestrict=dN.
func (g *GoogleProvider) Search(ctx context.Context, q Query) ([]Result, error) {
	call := g.svc.Cse.List().Cx(g.cx).Q(q.Terms).Num(clampNum(q.Num))

	switch {
	case !q.Start.IsZero() && !q.End.IsZero():
		call = call.Sort(fmt.Sprintf("date:r:%s:%s", q.Start.Format(cseDateLayout), q.End.Format(cseDateLayout)))
	case q.SortByDate:
		call = call.Sort("date")
	}
	if q.Days > 0 {
		call = call.DateRestrict(fmt.Sprintf("d%d", q.Days))
	}

	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("custom search: %w", err)
	}

	results := make([]Result, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil {
			continue
		}
		results = append(results, Result{
			Title:       item.Title,
			Link:        item.Link,
			Snippet:     item.Snippet,
			DisplayLink: item.DisplayLink,
			Published:   PublishedHint(item.Pagemap),
		})
	}
	return results, nil
}

// SearchImages runs a safe-search image query for medium-sized images.
func (g *GoogleProvider) SearchImages(ctx context.Context, terms string, num int) ([]string, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	resp, err := g.svc.Cse.List().Cx(g.cx).Q(terms).
		SearchType("image").
		Num(clampNum(num)).
		Safe("active").
		ImgSize("medium").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("custom image search: %w", err)
	}

	urls := make([]string, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item != nil && item.Link != "" {
			urls = append(urls, item.Link)
		}
	}
	return urls, nil
}

func (g *GoogleProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// clampNum keeps num within the API's 1..10 range.
func clampNum(num int) int64 {
	if num <= 0 || num > 10 {
		return 10
	}
	return int64(num)
}
