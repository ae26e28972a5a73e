package newsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/scanner"
)

const newsAPIEndpoint = "https://newsapi.org/v2/everything"

// NewsAPIScanner queries the NewsAPI "everything" endpoint.
type NewsAPIScanner struct {
	client *http.Client
}

var _ scanner.Scanner = (*NewsAPIScanner)(nil)

// NewNewsAPIScanner wires an HTTP client; nil gets a 20s default.
func NewNewsAPIScanner(client *http.Client) *NewsAPIScanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &NewsAPIScanner{client: client}
}

// Name identifies the strategy inside the registry.
func (n *NewsAPIScanner) Name() string {
	return "newsapi"
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"source"`
		Title       string    `json:"title"`
		Description string    `json:"description"`
		Content     string    `json:"content"`
		URL         string    `json:"url"`
		PublishedAt time.Time `json:"publishedAt"`
	} `json:"articles"`
}

// Scan searches for articles matching any profile keyword.
func (n *NewsAPIScanner) Scan(ctx context.Context, req scanner.Request) ([]domain.NewsCandidate, error) {
	if req.APIKey == "" {
		return nil, fmt.Errorf("newsapi source %s has no api key", req.SourceName)
	}
	if len(req.Profile.Keywords) == 0 {
		return nil, fmt.Errorf("newsapi source %s: topic profile has no keywords", req.SourceName)
	}

	endpoint, err := buildNewsAPIURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("X-Api-Key", req.APIKey)
	httpReq.Header.Set("User-Agent", "InsightDigest/1.0")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request newsapi: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("newsapi returned %s: %w", resp.Status, domain.ErrTransientFetch)
	}

	var payload newsAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode newsapi response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || payload.Status != "ok" {
		return nil, fmt.Errorf("newsapi error %s: %s %s", resp.Status, payload.Code, payload.Message)
	}

	candidates := make([]domain.NewsCandidate, 0, len(payload.Articles))
	for _, article := range payload.Articles {
		if article.URL == "" || article.Title == "" || article.Title == "[Removed]" {
			continue
		}
		excerpt := article.Description
		if excerpt == "" {
			excerpt = article.Content
		}
		source := article.Source.Name
		if source == "" {
			source = req.SourceName
		}
		candidates = append(candidates, domain.NewsCandidate{
			Headline:    article.Title,
			URL:         article.URL,
			Source:      source,
			PublishedAt: article.PublishedAt,
			RawExcerpt:  excerpt,
		})
	}

	return candidates, nil
}

func buildNewsAPIURL(req scanner.Request) (string, error) {
	base := req.URL
	if base == "" {
		base = newsAPIEndpoint
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid newsapi url %s: %w", base, err)
	}

	query := parsed.Query()
	query.Set("q", keywordQuery(req.Profile.Keywords))
	query.Set("sortBy", "publishedAt")
	query.Set("language", option(req.Options, "language", "en"))
	query.Set("pageSize", option(req.Options, "pageSize", "10"))
	if domains := option(req.Options, "domains", ""); domains != "" {
		query.Set("domains", domains)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// keywordQuery OR-joins keywords, quoting multi-word phrases.
func keywordQuery(keywords []string) string {
	terms := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if strings.ContainsAny(k, " \t") {
			k = `"` + k + `"`
		}
		terms = append(terms, k)
	}
	return strings.Join(terms, " OR ")
}

func option(options map[string]string, key, fallback string) string {
	if v, ok := options[key]; ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}
