package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"InsightDigest/internal/domain"
)

func scoringPrompt(candidate domain.NewsCandidate, profile domain.TopicProfile) string {
	var b strings.Builder
	name := profile.Name
	if name == "" {
		name = "our organization"
	}
	fmt.Fprintf(&b, "You are helping %s track public conversations", name)
	if len(profile.Themes) > 0 {
		fmt.Fprintf(&b, " about %s", strings.Join(profile.Themes, ", "))
	}
	b.WriteString(".\n\n")
	if len(profile.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords of interest: %s.\n\n", strings.Join(profile.Keywords, ", "))
	}
	b.WriteString("Rate how relevant the following article is to these themes on a scale from 0 to 1 ")
	b.WriteString("and summarise it in 2 sentences.\n")
	b.WriteString(`Reply with JSON only: {"score": <number 0..1>, "summary": "<two sentences>"}` + "\n\n")
	fmt.Fprintf(&b, "Title: %s\nSource: %s\nContent: %s\n", candidate.Headline, candidate.Source, candidate.RawExcerpt)
	return b.String()
}

type narrativeEntry struct {
	Value   string `json:"value"`
	Current int64  `json:"current"`
	Prior   int64  `json:"prior"`
	Delta   string `json:"delta"`
}

type narrativeSection struct {
	Dimension     string           `json:"dimension"`
	CurrentWindow string           `json:"current_window"`
	PriorWindow   string           `json:"prior_window"`
	CurrentTotal  int64            `json:"current_total"`
	PriorTotal    int64            `json:"prior_total"`
	Entries       []narrativeEntry `json:"entries"`
}

func narrativePrompt(comparisons []domain.TrendComparison) (string, error) {
	sections := make([]narrativeSection, 0, len(comparisons))
	for _, cmp := range comparisons {
		section := narrativeSection{
			Dimension:     cmp.Dimension.Label(),
			CurrentWindow: cmp.CurrentWindow.String(),
			PriorWindow:   cmp.PriorWindow.String(),
			CurrentTotal:  cmp.CurrentTotal,
			PriorTotal:    cmp.PriorTotal,
		}
		for _, e := range cmp.Entries {
			delta := "new"
			if !e.IsNew {
				delta = fmt.Sprintf("%+.0f%%", e.DeltaPct*100)
			}
			section.Entries = append(section.Entries, narrativeEntry{
				Value:   e.DimensionValue,
				Current: e.CurrentTotal,
				Prior:   e.PriorTotal,
				Delta:   delta,
			})
		}
		sections = append(sections, section)
	}

	payload, err := json.MarshalIndent(sections, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal narrative payload: %w", err)
	}

	return "Summarise the recent website traffic trends based on this period-over-period breakdown of sessions.\n\n" +
		string(payload) +
		"\n\nWrite 2-3 sentences identifying standout traffic patterns or opportunities.", nil
}
