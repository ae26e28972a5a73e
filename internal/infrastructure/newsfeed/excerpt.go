package newsfeed

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// NewsAPI appends "[+1234 chars]" to truncated content.
var truncationMarker = regexp.MustCompile(`\s*\[\+\d+ chars\]\s*$`)

// CleanExcerpt strips markup from a feed excerpt, collapses whitespace and
// truncates to limit runes.
func CleanExcerpt(raw string, limit int) string {
	text := raw
	if strings.Contains(raw, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			doc.Find("script, style").Remove()
			text = doc.Text()
		}
	}

	text = truncationMarker.ReplaceAllString(text, "")
	text = strings.Join(strings.Fields(text), " ")

	if limit > 0 {
		if runes := []rune(text); len(runes) > limit {
			text = strings.TrimSpace(string(runes[:limit])) + "…"
		}
	}
	return text
}
