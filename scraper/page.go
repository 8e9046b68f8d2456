package scraper

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageTitle returns the estate display name from page HTML: og:title, then
// the first h1, then <title>.
func PageTitle(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok && strings.TrimSpace(og) != "" {
		return cleanTitle(og)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return cleanTitle(h1)
	}
	return cleanTitle(doc.Find("title").First().Text())
}

// Site titles look like "Estate Name | Centaline Property".
func cleanTitle(s string) string {
	if i := strings.Index(s, "|"); i >= 0 {
		s = s[:i]
	}
	return strings.Join(strings.Fields(s), " ")
}
