package newsfeed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"InsightDigest/internal/config"
	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
	"InsightDigest/internal/retry"
	"InsightDigest/internal/scanner"
)

const maxExcerptRunes = 1200

// StrategySource implements ports.NewsSource via registered scanner strategies.
type StrategySource struct {
	registry *scanner.Registry
	sources  []config.SourceConfig
	policy   retry.Policy
	logger   *slog.Logger
}

var _ ports.NewsSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined sources.
func NewStrategySource(reg *scanner.Registry, sources []config.SourceConfig, policy retry.Policy, log *slog.Logger) *StrategySource {
	return &StrategySource{
		registry: reg,
		sources:  sources,
		policy:   policy,
		logger:   log,
	}
}

// FetchCandidates queries every configured source. A failing source is
// logged and skipped; if all sources fail the error wraps domain.ErrFatalData.
func (s *StrategySource) FetchCandidates(ctx context.Context, profile domain.TopicProfile) ([]domain.NewsCandidate, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("scanner registry is not configured: %w", domain.ErrFatalData)
	}
	if len(s.sources) == 0 {
		return nil, nil
	}

	s.debug("fetch candidates", "sources", len(s.sources), "keywords", len(profile.Keywords))

	var (
		aggregated []domain.NewsCandidate
		failures   []string
	)
	for _, source := range s.sources {
		strategy, err := s.registry.Resolve(source.Scanner)
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", source.Name, err))
			s.warn("source skipped", "source", source.Name, "error", err)
			continue
		}

		req := scanner.Request{
			SourceName: source.Name,
			URL:        source.URL,
			APIKey:     source.APIKey,
			Profile:    profile,
			Options:    source.Options,
		}

		var results []domain.NewsCandidate
		err = retry.Do(ctx, s.policy, func(ctx context.Context) error {
			var scanErr error
			results, scanErr = strategy.Scan(ctx, req)
			return scanErr
		})
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", source.Name, err))
			s.warn("source skipped", "source", source.Name, "error", err)
			continue
		}

		for i := range results {
			normalize(&results[i], source.Name)
		}
		s.debug("source produced candidates", "source", source.Name, "count", len(results))
		aggregated = append(aggregated, results...)
	}

	if len(failures) == len(s.sources) {
		return nil, fmt.Errorf("all news sources failed (%s): %w", strings.Join(failures, "; "), domain.ErrFatalData)
	}

	s.debug("strategy source done", "total_candidates", len(aggregated))
	return aggregated, nil
}

func normalize(c *domain.NewsCandidate, sourceName string) {
	if c.Source == "" {
		c.Source = sourceName
	}
	if c.ID == "" {
		key := c.URL
		if key == "" {
			key = c.Source + "|" + c.Headline
		}
		sum := sha256.Sum256([]byte(key))
		c.ID = hex.EncodeToString(sum[:12])
	}
	c.Headline = strings.TrimSpace(c.Headline)
	c.RawExcerpt = CleanExcerpt(c.RawExcerpt, maxExcerptRunes)
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}

func (s *StrategySource) warn(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}
