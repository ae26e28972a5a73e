// Package report assembles the digest from already-fetched inputs and
// renders it as an HTML email.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
)

// FallbackNarrative is used when the narrative call fails.
const FallbackNarrative = "Traffic figures are included below; an automated summary was not available this time."

// Input is everything the composer needs for one report.
type Input struct {
	GeneratedAt time.Time
	Cadence     domain.Cadence
	News        []domain.ScoredNewsItem
	Comparisons []domain.TrendComparison
}

// Composer merges news, trend comparisons, narrative text and charts. It
// never fetches data itself.
type Composer struct {
	narrator ports.Narrator
	charts   ports.ChartRenderer
	logger   *slog.Logger
}

// NewComposer wires the narrative and chart collaborators; both are optional.
func NewComposer(narrator ports.Narrator, charts ports.ChartRenderer, logger *slog.Logger) *Composer {
	return &Composer{narrator: narrator, charts: charts, logger: logger}
}

// Compose builds the report. Narrative and chart failures degrade the report
// (fallback sentence, missing chart) but never fail it.
func (c *Composer) Compose(ctx context.Context, in Input) domain.Report {
	report := domain.Report{
		GeneratedAt: in.GeneratedAt,
		Cadence:     in.Cadence,
		NewsItems:   included(in.News),
		Comparisons: in.Comparisons,
		Narrative:   FallbackNarrative,
		ChartRefs:   make(map[string][]byte, len(in.Comparisons)),
	}

	if c.narrator != nil && len(in.Comparisons) > 0 {
		text, err := c.narrator.Narrate(ctx, in.Comparisons)
		switch {
		case err != nil:
			c.warn("narrative fallback", "error", err)
		case strings.TrimSpace(text) == "":
			c.warn("narrative fallback", "error", "empty narrative")
		default:
			report.Narrative = text
		}
	}

	if c.charts == nil {
		return report
	}
	for _, cmp := range in.Comparisons {
		if len(cmp.Entries) == 0 {
			continue
		}
		id := ChartID(cmp)
		title := fmt.Sprintf("%s, %s", cmp.Dimension.Label(), cmp.CurrentWindow)
		image, err := c.charts.RenderBarChart(ctx, title, cmp.Entries)
		if err != nil {
			c.warn("chart skipped", "chart", id, "error", err)
			continue
		}
		report.ChartRefs[id] = image
	}

	return report
}

// ChartID is the stable chart key for a comparison.
func ChartID(cmp domain.TrendComparison) string {
	return fmt.Sprintf("%s_%s", strings.ToLower(string(cmp.Dimension)), cmp.CurrentWindow.Start.Format(time.DateOnly))
}

func included(items []domain.ScoredNewsItem) []domain.ScoredNewsItem {
	out := make([]domain.ScoredNewsItem, 0, len(items))
	for _, item := range items {
		if item.Included {
			out = append(out, item)
		}
	}
	return out
}

func (c *Composer) warn(msg string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Warn(msg, args...)
	}
}
