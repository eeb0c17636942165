package digest

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/TobiSchelling/Deadline/internal/config"
	"github.com/TobiSchelling/Deadline/internal/scrape"
	"github.com/TobiSchelling/Deadline/internal/search"
)

func article(source string, n int) scrape.Article {
	return scrape.Article{
		URL:     "https://" + source + "/x",
		Title:   "Title",
		Content: strings.Repeat("a", n),
		Source:  source,
		Window:  "Recent Period (Last 3 months)",
	}
}

func defaultBudget() Budget {
	return BudgetFromConfig(config.Digest{MaxTokens: 12000, CharsPerToken: 4, MaxCharsPerSource: 3000, MinSliceChars: 100})
}

func TestBudgetFromConfig(t *testing.T) {
	b := defaultBudget()
	if b.MaxChars != 48000 || b.MaxCharsPerSource != 3000 || b.MinSliceChars != 100 {
		t.Errorf("budget = %+v", b)
	}
}

func TestPackEntryFormat(t *testing.T) {
	p := Pack([]scrape.Article{article("example.com", 200)}, defaultBudget())

	want := "[1] example.com - Title (Recent Period (Last 3 months))\n" + strings.Repeat("a", 200) + "\n---"
	if p.Text != want {
		t.Errorf("text = %q", p.Text)
	}
	if p.Included != 1 || p.Skipped != 0 {
		t.Errorf("included=%d skipped=%d", p.Included, p.Skipped)
	}
}

func TestPackTruncatesContentToSourceBudget(t *testing.T) {
	first := article("a.com", 2500)
	second := article("a.com", 2500)
	second.Content = strings.Repeat("b", 2500)
	p := Pack([]scrape.Article{first, second}, defaultBudget())

	entries := strings.Split(p.Text, separator)
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if !strings.Contains(entries[0], "\n"+strings.Repeat("a", 2500)+"\n---") {
		t.Error("first entry does not carry the full article text")
	}
	want := "[2] a.com - Title (Recent Period (Last 3 months))\n" + strings.Repeat("b", 500) + "\n---"
	if entries[1] != want {
		t.Errorf("second entry = %q, want the 500 chars left for a.com", entries[1])
	}
}

func TestPackPerSourceCap(t *testing.T) {
	articles := []scrape.Article{
		article("a.com", 2500),
		article("a.com", 2500), // only 500 left for a.com
		article("a.com", 2500), // a.com exhausted
		article("b.com", 2500),
	}
	p := Pack(articles, defaultBudget())

	if p.PerSource["a.com"] != 3000 {
		t.Errorf("a.com used %d, want 3000", p.PerSource["a.com"])
	}
	if p.Included != 3 || p.Skipped != 1 {
		t.Errorf("included=%d skipped=%d", p.Included, p.Skipped)
	}
	if !strings.Contains(p.Text, "[4] b.com") {
		t.Error("rank should reflect position in the input, not in the output")
	}
}

func TestPackMinSlice(t *testing.T) {
	articles := []scrape.Article{
		article("a.com", 2950),
		article("a.com", 500), // only 50 left
		article("c.com", 80),  // shorter than the minimum slice
	}
	p := Pack(articles, defaultBudget())
	if p.Included != 1 || p.Skipped != 2 {
		t.Errorf("included=%d skipped=%d", p.Included, p.Skipped)
	}
}

func TestPackNeverExceedsBudget(t *testing.T) {
	b := Budget{MaxChars: 5000, MaxCharsPerSource: 3000, MinSliceChars: 100}
	var articles []scrape.Article
	for i := range 30 {
		articles = append(articles, article(fmt.Sprintf("site%d.com", i%7), 400+i*137))
	}

	p := Pack(articles, b)
	if n := utf8.RuneCountInString(p.Text); n > b.MaxChars {
		t.Errorf("packed %d chars, budget %d", n, b.MaxChars)
	}
	for source, used := range p.PerSource {
		if used > b.MaxCharsPerSource {
			t.Errorf("%s used %d, cap %d", source, used, b.MaxCharsPerSource)
		}
	}
	if p.Included == 0 {
		t.Error("expected some articles to fit")
	}
}

func TestPackContinuesAfterOverflow(t *testing.T) {
	b := Budget{MaxChars: 400, MaxCharsPerSource: 3000, MinSliceChars: 100}
	// The first entry takes the whole remaining slice and its header
	// pushes it over the total, so it is skipped; the next still fits.
	articles := []scrape.Article{article("a.com", 1000), article("b.com", 150)}
	p := Pack(articles, b)
	if p.Included != 1 || !strings.Contains(p.Text, "[2] b.com") {
		t.Errorf("included=%d text=%q", p.Included, p.Text)
	}
}

func TestPackEmpty(t *testing.T) {
	p := Pack(nil, defaultBudget())
	if p.Text != "" || p.Included != 0 {
		t.Errorf("unexpected %+v", p)
	}
}

func TestSnippets(t *testing.T) {
	var results []search.Result
	for i := range 25 {
		results = append(results, search.Result{
			Title:       fmt.Sprintf("T%d", i),
			Snippet:     "s",
			DisplayLink: "news.com",
		})
	}

	out := Snippets(results, 20)
	lines := strings.Split(out, "\n")
	if len(lines) != 20 {
		t.Fatalf("got %d lines, want 20", len(lines))
	}
	if lines[0] != "1. [news.com] T0: s" {
		t.Errorf("first line = %q", lines[0])
	}
	if Snippets(nil, 20) != "" {
		t.Error("expected empty snippet list")
	}
}
