package server

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/TobiSchelling/Deadline/internal/apperr"
	"github.com/TobiSchelling/Deadline/internal/cache"
)

const titleTimeout = 8 * time.Second

type titleResponse struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Fallback bool   `json:"fallback,omitempty"`
}

// handleTitle answers with the page title, or a name derived from the
// domain when the page cannot be read.
func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	if raw == "" {
		s.writeError(w, r, apperr.New(apperr.Validation, "URL parameter is required"), "")
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		s.writeError(w, r, apperr.New(apperr.Validation, "url must be an absolute http(s) URL"), "")
		return
	}

	key := "title:" + raw
	if s.fromCache(w, r, "get_title", key) {
		return
	}

	title := s.fetchTitle(r.Context(), raw)
	if title == "" {
		writeJSON(w, http.StatusOK, titleResponse{Title: domainTitle(u.Hostname()), URL: raw, Fallback: true})
		return
	}
	s.writeCached(w, r, key, s.titleTTL, []string{cache.TagTitles}, titleResponse{Title: title, URL: raw})
}

func (s *Server) fetchTitle(ctx context.Context, pageURL string) string {
	if s.pages == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	doc, err := s.pages.FetchDocument(ctx, pageURL)
	if err != nil {
		s.logger.Debug("title fetch failed", zap.String("url", pageURL), zap.Error(err))
		return ""
	}
	return pageTitle(doc)
}

// pageTitle prefers og:title, then twitter:title, then <title>.
func pageTitle(doc *goquery.Document) string {
	for _, sel := range []string{`meta[property="og:title"]`, `meta[name="twitter:title"]`} {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if t := collapse(content); t != "" {
				return t
			}
		}
	}
	return collapse(doc.Find("title").First().Text())
}

// domainTitle names a site by its registrable domain, e.g.
// "news.bbc.co.uk" becomes "bbc.co.uk".
func domainTitle(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	if net.ParseIP(host) != nil {
		return host
	}
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
