// Package webparse turns raw HTML into the plain-text + metadata shape the
// pipeline stores as a signal payload, and extracts structured sale-page
// summaries where the page layout allows it.
package webparse

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// MaxLinks is the cap on unique links extracted from a page.
const MaxLinks = 10

// Parsed is the normalized output of WebParser.Parse.
type Parsed struct {
	Title        string
	CanonicalURL string
	TopLinks     []string
	Text         string
}

// Parse strips non-content elements, extracts title/canonical/top links,
// and converts the remainder to plain text preserving link text.
func Parse(html string) (Parsed, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Parsed{}, err
	}

	doc.Find("script, style, noscript, header, footer, nav").Remove()

	p := Parsed{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}
	if href, ok := doc.Find(`link[rel="canonical"]`).First().Attr("href"); ok {
		p.CanonicalURL = strings.TrimSpace(href)
	}

	p.TopLinks = extractLinks(doc, MaxLinks)
	p.Text = collapseWhitespace(doc.Find("body").Text())
	return p, nil
}

func extractLinks(doc *goquery.Document, max int) []string {
	seen := make(map[string]bool)
	var links []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || seen[href] {
			return true
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") ||
			strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(href, "#") {
			return true
		}
		seen[href] = true
		links = append(links, href)
		return len(links) < max
	})
	return links
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
