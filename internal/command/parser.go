// Package command turns inbound reply mail into schedule directives.
package command

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"InsightDigest/internal/domain"
)

var htmlMarkers = []string{"<html", "<body", "<div", "<p>", "<p ", "<br", "<table"}

// Parse returns the cadence requested by the first non-blank line of body.
// Only an exact, case-insensitive keyword is accepted; anything else,
// including quoted reply lines, yields ok == false.
func Parse(body string) (cadence domain.Cadence, ok bool) {
	line := firstLine(PlainText(body))
	if line == "" || strings.HasPrefix(line, ">") {
		return "", false
	}
	return domain.ParseCadence(line)
}

// PlainText flattens an HTML body into lines; plain bodies pass through.
func PlainText(body string) string {
	if !looksLikeHTML(body) {
		return body
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return body
	}

	doc.Find("head, style, script").Remove()
	doc.Find("blockquote").Each(func(_ int, s *goquery.Selection) {
		s.PrependHtml("&gt; ")
	})
	doc.Find("br").Each(func(_ int, s *goquery.Selection) {
		s.ReplaceWithHtml("\n")
	})
	doc.Find("p, div, li, tr, h1, h2, h3, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	return doc.Text()
}

func firstLine(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func looksLikeHTML(body string) bool {
	lower := strings.ToLower(body)
	for _, marker := range htmlMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
