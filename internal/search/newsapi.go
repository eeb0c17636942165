package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const newsAPIBaseURL = "https://newsapi.org/v2/everything"

// NewsAPIProvider searches NewsAPI's /everything endpoint.
type NewsAPIProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
	now     func() time.Time
}

// NewNewsAPIProvider creates a NewsAPI provider.
func NewNewsAPIProvider(apiKey string, timeout time.Duration) *NewsAPIProvider {
	return &NewsAPIProvider{
		apiKey:  apiKey,
		baseURL: newsAPIBaseURL,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

func (c *NewsAPIProvider) Name() string { return "newsapi" }

// IsConfigured returns whether the API key is available.
func (c *NewsAPIProvider) IsConfigured() bool {
	return c.apiKey != ""
}

// Search maps the query onto from/to dates.
func (c *NewsAPIProvider) Search(ctx context.Context, q Query) ([]Result, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("NewsAPI not configured")
	}

	params := url.Values{
		"q":        {q.Terms},
		"language": {"en"},
		"pageSize": {strconv.Itoa(int(clampNum(q.Num)))},
		"sortBy":   {"relevancy"},
	}
	if q.SortByDate || q.Days > 0 {
		params.Set("sortBy", "publishedAt")
	}
	switch {
	case !q.Start.IsZero() && !q.End.IsZero():
		params.Set("from", q.Start.Format("2006-01-02"))
		params.Set("to", q.End.Format("2006-01-02"))
	case q.Days > 0:
		params.Set("from", c.now().AddDate(0, 0, -q.Days).Format("2006-01-02"))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating NewsAPI request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NewsAPI error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("NewsAPI HTTP error: %d", resp.StatusCode)
	}

	var result struct {
		Status   string `json:"status"`
		Message  string `json:"message"`
		Articles []struct {
			URL         string `json:"url"`
			Title       string `json:"title"`
			PublishedAt string `json:"publishedAt"`
			Description string `json:"description"`
			Content     string `json:"content"`
			Source      struct {
				Name string `json:"name"`
			} `json:"source"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("NewsAPI decode error: %w", err)
	}
	if result.Status != "ok" {
		return nil, fmt.Errorf("NewsAPI status %s: %s", result.Status, result.Message)
	}

	var results []Result
	for _, a := range result.Articles {
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		snippet := strings.TrimSpace(a.Description)
		if snippet == "" {
			snippet = strings.TrimSpace(a.Content)
		}

		results = append(results, Result{
			Title:       strings.TrimSpace(a.Title),
			Link:        a.URL,
			Snippet:     snippet,
			DisplayLink: Hostname(a.URL),
			Published:   a.PublishedAt,
		})
	}
	return results, nil
}
