// Package relevance scores news candidates against the topic profile and
// picks the ones that make it into the report.
package relevance

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
)

const (
	defaultThreshold   = 0.5
	defaultTopK        = 5
	defaultConcurrency = 3
)

// Options tunes the filter.
type Options struct {
	// Threshold is the score floor below which an item is not included.
	// Zero includes every scored item; negative selects the default.
	Threshold float64
	TopK      int
	// MaxAge drops candidates published longer ago than this; zero disables it.
	MaxAge      time.Duration
	Concurrency int
}

// Result carries every scored item (for audit) plus skip accounting.
type Result struct {
	// Items is sorted by score, then recency; Included marks report items.
	Items   []domain.ScoredNewsItem
	Skipped int
	Stale   int
}

// Selected returns the included items in rank order.
func (r Result) Selected() []domain.ScoredNewsItem {
	selected := make([]domain.ScoredNewsItem, 0, len(r.Items))
	for _, item := range r.Items {
		if item.Included {
			selected = append(selected, item)
		}
	}
	return selected
}

// Filter delegates scoring to a ports.Scorer and owns ordering, thresholding
// and partial-failure isolation.
type Filter struct {
	scorer ports.Scorer
	opts   Options
	logger *slog.Logger
}

// NewFilter wires a scorer with options, filling defaults.
func NewFilter(scorer ports.Scorer, opts Options, logger *slog.Logger) *Filter {
	if opts.Threshold < 0 {
		opts.Threshold = defaultThreshold
	}
	if opts.TopK <= 0 {
		opts.TopK = defaultTopK
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Filter{scorer: scorer, opts: opts, logger: logger}
}

// Apply scores candidates and ranks them. A scorer failure for one
// candidate drops only that candidate; Apply itself never fails.
func (f *Filter) Apply(ctx context.Context, candidates []domain.NewsCandidate, profile domain.TopicProfile, now time.Time) Result {
	var result Result

	fresh := make([]domain.NewsCandidate, 0, len(candidates))
	for _, c := range candidates {
		if f.opts.MaxAge > 0 && !c.PublishedAt.IsZero() && now.Sub(c.PublishedAt) > f.opts.MaxAge {
			result.Stale++
			continue
		}
		fresh = append(fresh, c)
	}

	// Score most recent first so that request order is deterministic.
	sort.SliceStable(fresh, func(i, j int) bool {
		return fresh[i].PublishedAt.After(fresh[j].PublishedAt)
	})

	scored := make([]*domain.ScoredNewsItem, len(fresh))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.opts.Concurrency)

	for i, candidate := range fresh {
		group.Go(func() error {
			assessment, err := f.scorer.ScoreAndSummarize(groupCtx, candidate, profile)
			if err != nil {
				f.warn("candidate skipped", "id", candidate.ID, "headline", candidate.Headline, "error", err)
				return nil
			}
			scored[i] = &domain.ScoredNewsItem{
				NewsCandidate:  candidate,
				RelevanceScore: clampScore(assessment.Score),
				Summary:        assessment.Summary,
			}
			return nil
		})
	}
	_ = group.Wait()

	for _, item := range scored {
		if item == nil {
			result.Skipped++
			continue
		}
		result.Items = append(result.Items, *item)
	}

	sort.SliceStable(result.Items, func(i, j int) bool {
		a, b := result.Items[i], result.Items[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if !a.PublishedAt.Equal(b.PublishedAt) {
			return a.PublishedAt.After(b.PublishedAt)
		}
		return a.ID < b.ID
	})

	included := 0
	for i := range result.Items {
		if included < f.opts.TopK && result.Items[i].RelevanceScore >= f.opts.Threshold {
			result.Items[i].Included = true
			included++
		}
	}

	return result
}

func clampScore(score float64) float64 {
	switch {
	case math.IsNaN(score) || score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

func (f *Filter) warn(msg string, args ...interface{}) {
	if f.logger != nil {
		f.logger.Warn(msg, args...)
	}
}
