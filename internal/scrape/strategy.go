package scrape

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/net/html"
)

// Strategy extracts the main text from a cleaned page. An empty result
// means the strategy did not match.
type Strategy interface {
	Name() string
	Extract(doc *goquery.Document, pageURL *url.URL) string
}

// DefaultChain is the extraction order; the first strategy returning
// text wins.
var DefaultChain = []Strategy{
	landmarkStrategy{},
	contentDivStrategy{},
	paragraphStrategy{minChars: 50, minCount: 4},
	readabilityStrategy{},
}

// noiseSelector matches blocks removed before extraction.
const noiseSelector = "script, style, nav, header, footer, aside, form, noscript"

var contentMarkers = []string{"content", "article", "post", "story", "entry", "body", "text", "main"}

// Clean removes boilerplate blocks and comments in place.
func Clean(doc *goquery.Document) {
	doc.Find(noiseSelector).Remove()
	for _, n := range doc.Nodes {
		removeComments(n)
	}
}

func removeComments(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			removeComments(c)
		}
		c = next
	}
}

// Extract runs the chain and returns the first match with its strategy name.
func Extract(chain []Strategy, doc *goquery.Document, pageURL *url.URL) (string, string) {
	for _, s := range chain {
		if text := s.Extract(doc, pageURL); text != "" {
			return text, s.Name()
		}
	}
	return "", ""
}

// NormalizeText collapses all whitespace runs to single spaces.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// largest returns the normalized text of the longest element in sel.
func largest(sel *goquery.Selection) string {
	best := ""
	sel.Each(func(_ int, s *goquery.Selection) {
		if text := NormalizeText(s.Text()); len(text) > len(best) {
			best = text
		}
	})
	return best
}

type landmarkStrategy struct{}

func (landmarkStrategy) Name() string { return "article" }

func (landmarkStrategy) Extract(doc *goquery.Document, _ *url.URL) string {
	return largest(doc.Find("article, main"))
}

type contentDivStrategy struct{}

func (contentDivStrategy) Name() string { return "content-div" }

func (contentDivStrategy) Extract(doc *goquery.Document, _ *url.URL) string {
	divs := doc.Find("div").FilterFunction(func(_ int, s *goquery.Selection) bool {
		class, _ := s.Attr("class")
		id, _ := s.Attr("id")
		label := strings.ToLower(class + " " + id)
		for _, m := range contentMarkers {
			if strings.Contains(label, m) {
				return true
			}
		}
		return false
	})
	return largest(divs)
}

type paragraphStrategy struct {
	minChars int
	minCount int
}

func (paragraphStrategy) Name() string { return "paragraphs" }

func (p paragraphStrategy) Extract(doc *goquery.Document, _ *url.URL) string {
	paras := doc.Find("p")
	if paras.Length() < p.minCount {
		return ""
	}
	var parts []string
	paras.Each(func(_ int, s *goquery.Selection) {
		if text := NormalizeText(s.Text()); runeLen(text) > p.minChars {
			parts = append(parts, text)
		}
	})
	return strings.Join(parts, " ")
}

type readabilityStrategy struct{}

func (readabilityStrategy) Name() string { return "readability" }

func (readabilityStrategy) Extract(doc *goquery.Document, pageURL *url.URL) string {
	if pageURL == nil {
		return ""
	}
	raw, err := goquery.OuterHtml(doc.Selection)
	if err != nil {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(raw), pageURL)
	if err != nil {
		return ""
	}
	return NormalizeText(article.TextContent)
}
