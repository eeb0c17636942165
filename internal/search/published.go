package search

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/tidwall/gjson"
)

// publishedKeys are the pagemap paths checked for a published date, in order.
var publishedKeys = []string{
	"metatags.0.article:published_time",
	"metatags.0.og:updated_time",
	"metatags.0.article:modified_time",
	"metatags.0.pubdate",
	"metatags.0.date",
	"newsarticle.0.datepublished",
	"article.0.datepublished",
}

// PublishedHint returns the first published-date value present in a
// Custom Search pagemap, or "".
func PublishedHint(pagemap []byte) string {
	if len(pagemap) == 0 || !gjson.ValidBytes(pagemap) {
		return ""
	}
	for _, key := range publishedKeys {
		if v := gjson.GetBytes(pagemap, key); v.Exists() {
			if s := strings.TrimSpace(v.String()); s != "" {
				return s
			}
		}
	}
	return ""
}

// ParsePublished parses a published-date hint. Values without a zone are
// read as UTC.
func ParsePublished(hint string) (time.Time, bool) {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseIn(hint, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
