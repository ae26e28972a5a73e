// Package chart rasterizes trend entries into PNG bar charts.
package chart

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	gochart "github.com/wcharczuk/go-chart/v2"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
)

const maxLabelRunes = 18

// ErrNothingToPlot is returned when every bar would be zero.
var ErrNothingToPlot = errors.New("chart: no non-zero values to plot")

// BarRenderer implements ports.ChartRenderer with go-chart.
type BarRenderer struct {
	Width  int
	Height int
}

var _ ports.ChartRenderer = (*BarRenderer)(nil)

// NewBarRenderer returns a renderer sized for email clients.
func NewBarRenderer() *BarRenderer {
	return &BarRenderer{Width: 640, Height: 360}
}

// RenderBarChart draws current-window totals, one bar per entry in rank order.
func (r *BarRenderer) RenderBarChart(ctx context.Context, title string, entries []domain.TrendEntry) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bars := make([]gochart.Value, 0, len(entries))
	var peak int64
	for _, e := range entries {
		if e.CurrentTotal > peak {
			peak = e.CurrentTotal
		}
		bars = append(bars, gochart.Value{
			Label: shorten(e.DimensionValue),
			Value: float64(e.CurrentTotal),
		})
	}
	if len(bars) == 0 || peak == 0 {
		return nil, ErrNothingToPlot
	}

	graph := gochart.BarChart{
		Title:      title,
		Width:      r.Width,
		Height:     r.Height,
		BarWidth:   barWidth(r.Width, len(bars)),
		Background: gochart.Style{Padding: gochart.Box{Top: 40, Left: 10, Right: 10, Bottom: 10}},
		YAxis: gochart.YAxis{
			Range:          &gochart.ContinuousRange{Min: 0, Max: float64(peak) * 1.1},
			ValueFormatter: func(v interface{}) string { return fmt.Sprintf("%.0f", v) },
		},
		Bars: bars,
	}

	var buf bytes.Buffer
	if err := graph.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render bar chart %q: %w", title, err)
	}
	return buf.Bytes(), nil
}

func barWidth(width, bars int) int {
	w := (width - 80) / (bars * 2)
	switch {
	case w < 12:
		return 12
	case w > 60:
		return 60
	default:
		return w
	}
}

func shorten(label string) string {
	if label == "" {
		return "(not set)"
	}
	runes := []rune(label)
	if len(runes) <= maxLabelRunes {
		return label
	}
	return string(runes[:maxLabelRunes-1]) + "…"
}
