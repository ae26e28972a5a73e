package report

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"InsightDigest/internal/domain"
)

//go:embed templates/digest.html.tmpl
var templateFS embed.FS

var digestTemplate = template.Must(template.ParseFS(templateFS, "templates/digest.html.tmpl"))

// Renderer turns a report into a deliverable email.
type Renderer struct {
	title string
}

// NewRenderer uses title for the subject line and greeting.
func NewRenderer(title string) *Renderer {
	if strings.TrimSpace(title) == "" {
		title = "Insight Digest"
	}
	return &Renderer{title: title}
}

type newsView struct {
	Headline string
	Source   string
	Score    string
	Summary  string
	URL      string
}

type rowView struct {
	Value   string
	Current int64
	Prior   int64
	Delta   string
}

type sectionView struct {
	Label        string
	Window       string
	PriorWindow  string
	CurrentTotal int64
	PriorTotal   int64
	Rows         []rowView
	ChartCID     string
}

type digestView struct {
	Title        string
	CadenceLower string
	Date         string
	News         []newsView
	Sections     []sectionView
	Narrative    string
}

// Subject returns the subject line for a report.
func (r *Renderer) Subject(report domain.Report) string {
	cadence := report.Cadence.Title()
	if cadence == "" {
		cadence = domain.CadenceDaily.Title()
	}
	return fmt.Sprintf("%s: %s Media & Analytics Brief (%s)", r.title, cadence, report.GeneratedAt.Format(time.DateOnly))
}

// Render produces the complete email. Charts are attached inline and only
// referenced when present in report.ChartRefs.
func (r *Renderer) Render(report domain.Report, recipients []string) (domain.Email, error) {
	view := digestView{
		Title:        r.title,
		CadenceLower: string(report.Cadence),
		Date:         report.GeneratedAt.Format(time.DateOnly),
		Narrative:    report.Narrative,
	}
	if view.CadenceLower == "" {
		view.CadenceLower = string(domain.CadenceDaily)
	}

	for _, item := range report.NewsItems {
		view.News = append(view.News, newsView{
			Headline: item.Headline,
			Source:   item.Source,
			Score:    fmt.Sprintf("%.2f", item.RelevanceScore),
			Summary:  item.Summary,
			URL:      item.URL,
		})
	}

	images := make(map[string][]byte, len(report.ChartRefs))
	for _, cmp := range report.Comparisons {
		section := sectionView{
			Label:        cmp.Dimension.Label(),
			Window:       cmp.CurrentWindow.String(),
			PriorWindow:  cmp.PriorWindow.String(),
			CurrentTotal: cmp.CurrentTotal,
			PriorTotal:   cmp.PriorTotal,
		}
		for _, entry := range cmp.Entries {
			section.Rows = append(section.Rows, rowView{
				Value:   entry.DimensionValue,
				Current: entry.CurrentTotal,
				Prior:   entry.PriorTotal,
				Delta:   FormatDelta(entry),
			})
		}
		if image, ok := report.ChartRefs[ChartID(cmp)]; ok {
			name := ChartID(cmp) + ".png"
			section.ChartCID = name
			images[name] = image
		}
		view.Sections = append(view.Sections, section)
	}

	var body bytes.Buffer
	if err := digestTemplate.Execute(&body, view); err != nil {
		return domain.Email{}, fmt.Errorf("render digest: %w", err)
	}

	return domain.Email{
		Recipients:   append([]string(nil), recipients...),
		Subject:      r.Subject(report),
		HTMLBody:     body.String(),
		InlineImages: images,
	}, nil
}

// FormatDelta renders a trend delta as "+100%", "-50%" or "new".
func FormatDelta(entry domain.TrendEntry) string {
	if entry.IsNew {
		return "new"
	}
	return fmt.Sprintf("%+.0f%%", entry.DeltaPct*100)
}
