package relevance

import (
	"net/url"
	"strings"

	"InsightDigest/internal/domain"
)

// Dedupe drops candidates whose normalized (source, headline) pair or
// normalized URL was already seen. The first occurrence wins.
func Dedupe(candidates []domain.NewsCandidate) []domain.NewsCandidate {
	seenTitle := make(map[string]struct{}, len(candidates))
	seenURL := make(map[string]struct{}, len(candidates))
	result := make([]domain.NewsCandidate, 0, len(candidates))

	for _, c := range candidates {
		titleKey := normalizeText(c.Source) + "|" + normalizeText(c.Headline)
		urlKey := NormalizeURL(c.URL)

		if _, dup := seenTitle[titleKey]; dup && c.Headline != "" {
			continue
		}
		if _, dup := seenURL[urlKey]; dup && urlKey != "" {
			continue
		}

		if c.Headline != "" {
			seenTitle[titleKey] = struct{}{}
		}
		if urlKey != "" {
			seenURL[urlKey] = struct{}{}
		}
		result = append(result, c)
	}

	return result
}

// NormalizeURL lowercases scheme and host and drops fragments, tracking
// parameters and trailing slashes.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return strings.ToLower(raw)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	if parsed.Scheme == "http" {
		parsed.Scheme = "https"
	}
	parsed.Host = strings.TrimPrefix(strings.ToLower(parsed.Host), "www.")
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")

	query := parsed.Query()
	for key := range query {
		if strings.HasPrefix(strings.ToLower(key), "utm_") {
			query.Del(key)
		}
	}
	parsed.RawQuery = query.Encode()

	return parsed.String()
}

func normalizeText(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}
