package newsfeed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/scanner"
)

// RSSScanner reads RSS/Atom feeds and keeps items mentioning a profile keyword.
type RSSScanner struct {
	client *http.Client
}

var _ scanner.Scanner = (*RSSScanner)(nil)

// NewRSSScanner wires an HTTP client; nil gets a 20s default.
func NewRSSScanner(client *http.Client) *RSSScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &RSSScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (r *RSSScanner) Name() string {
	return "rss"
}

// Scan fetches the feed at req.URL. Set option "matchKeywords" to "false"
// to keep every item.
func (r *RSSScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.NewsCandidate, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("rss source %s has no url", req.SourceName)
	}

	parser := gofeed.NewParser()
	parser.Client = r.client
	parser.UserAgent = "InsightDigest/1.0"

	feed, err := parser.ParseURLWithContext(req.URL, ctx)
	if err != nil {
		if httpErr, ok := err.(gofeed.HTTPError); ok && httpErr.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("feed %s: %v: %w", req.URL, err, domain.ErrTransientFetch)
		}
		return nil, fmt.Errorf("parse feed %s: %w", req.URL, err)
	}

	matchKeywords := option(req.Options, "matchKeywords", "true") != "false"
	source := req.SourceName
	if feed.Title != "" {
		source = strings.TrimSpace(feed.Title)
	}

	candidates := make([]domain.NewsCandidate, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil || item.Link == "" {
			continue
		}
		excerpt := item.Description
		if excerpt == "" {
			excerpt = item.Content
		}
		if matchKeywords && !mentionsAny(item.Title+" "+excerpt, req.Profile.Keywords) {
			continue
		}

		var published time.Time
		switch {
		case item.PublishedParsed != nil:
			published = *item.PublishedParsed
		case item.UpdatedParsed != nil:
			published = *item.UpdatedParsed
		}

		candidates = append(candidates, domain.NewsCandidate{
			Headline:    item.Title,
			URL:         item.Link,
			Source:      source,
			PublishedAt: published,
			RawExcerpt:  excerpt,
		})
	}

	return candidates, nil
}

func mentionsAny(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" && strings.Contains(lower, k) {
			return true
		}
	}
	return false
}
