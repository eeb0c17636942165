// Package digest packs scraped articles and search snippets into the
// bounded context sent to the LLM.
package digest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/TobiSchelling/Deadline/internal/config"
	"github.com/TobiSchelling/Deadline/internal/scrape"
	"github.com/TobiSchelling/Deadline/internal/search"
)

const separator = "\n\n"

// Budget bounds a packed digest. All sizes are in characters.
type Budget struct {
	MaxChars          int
	MaxCharsPerSource int
	MinSliceChars     int
}

// BudgetFromConfig converts the token budget to characters.
func BudgetFromConfig(cfg config.Digest) Budget {
	perToken := cfg.CharsPerToken
	if perToken <= 0 {
		perToken = 4
	}
	return Budget{
		MaxChars:          cfg.MaxTokens * perToken,
		MaxCharsPerSource: cfg.MaxCharsPerSource,
		MinSliceChars:     cfg.MinSliceChars,
	}
}

// Packed is a finished digest.
type Packed struct {
	Text     string
	Included int
	Skipped  int
	// PerSource is the content characters used per source domain.
	PerSource map[string]int
}

// Pack walks articles in order, truncating each to what the per-source and
// global budgets still allow. An article is skipped when its slice would be
// shorter than MinSliceChars or its formatted entry would overflow the
// total. The result never exceeds MaxChars.
func Pack(articles []scrape.Article, b Budget) Packed {
	p := Packed{PerSource: make(map[string]int)}
	var entries []string
	total := 0

	for i, a := range articles {
		sourceLeft := b.MaxCharsPerSource - p.PerSource[a.Source]
		globalLeft := b.MaxChars - total
		allowed := min(sourceLeft, globalLeft, runeLen(a.Content))
		if allowed < b.MinSliceChars || allowed <= 0 {
			p.Skipped++
			continue
		}

		slice := truncate(a.Content, allowed)
		entry := fmt.Sprintf("[%d] %s - %s (%s)\n%s\n---", i+1, a.Source, a.Title, a.Window, slice)
		size := runeLen(entry)
		if len(entries) > 0 {
			size += len(separator)
		}
		if total+size > b.MaxChars {
			p.Skipped++
			continue
		}

		entries = append(entries, entry)
		total += size
		p.PerSource[a.Source] += allowed
		p.Included++
	}

	p.Text = strings.Join(entries, separator)
	return p
}

// Snippets lists the first limit search results, one per line, whether or
// not they were scraped.
func Snippets(results []search.Result, limit int) string {
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	lines := make([]string, len(results))
	for i, r := range results {
		lines[i] = fmt.Sprintf("%d. [%s] %s: %s", i+1, r.DisplayLink, r.Title, r.Snippet)
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if runeLen(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
