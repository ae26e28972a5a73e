// Package trend compares analytics totals across two adjacent date windows.
package trend

import (
	"fmt"
	"sort"
	"time"

	"InsightDigest/internal/domain"
)

const defaultTopK = 5

// Windows returns the current window of days ending yesterday (today is
// still being collected) and the equally long prior window right before it.
func Windows(today time.Time, days int) (current, prior domain.DateRange) {
	if days <= 0 {
		days = 1
	}
	end := domain.DateOf(today).AddDate(0, 0, -1)
	start := end.AddDate(0, 0, -(days - 1))

	current = domain.DateRange{Start: start, End: end}
	prior = domain.DateRange{Start: start.AddDate(0, 0, -days), End: start.AddDate(0, 0, -1)}
	return current, prior
}

// ValidateWindows checks the windows are equal-length, non-overlapping and
// contiguous with prior ending the day before current starts.
func ValidateWindows(current, prior domain.DateRange) error {
	if current.Days() <= 0 || prior.Days() <= 0 {
		return fmt.Errorf("empty window: current %s, prior %s", current, prior)
	}
	if current.Days() != prior.Days() {
		return fmt.Errorf("window lengths differ: current %d days, prior %d days", current.Days(), prior.Days())
	}
	if !domain.DateOf(prior.End).Equal(domain.DateOf(current.Start).AddDate(0, 0, -1)) {
		return fmt.Errorf("prior window %s must end the day before current window %s", prior, current)
	}
	return nil
}

// Compare groups rows by dimension value, sums each window and ranks the
// entries by current total (ties alphabetical). Values with no traffic in
// either window are omitted. Rows outside their window or for another
// dimension are ignored.
func Compare(dimension domain.Dimension, current, prior domain.DateRange, currentRows, priorRows []domain.AnalyticsRow, topK int) (domain.TrendComparison, error) {
	if err := ValidateWindows(current, prior); err != nil {
		return domain.TrendComparison{}, err
	}
	if topK <= 0 {
		topK = defaultTopK
	}

	comparison := domain.TrendComparison{
		Dimension:     dimension,
		CurrentWindow: current,
		PriorWindow:   prior,
	}

	currentTotals := sumByValue(dimension, current, currentRows)
	priorTotals := sumByValue(dimension, prior, priorRows)

	values := make(map[string]struct{}, len(currentTotals)+len(priorTotals))
	for value, total := range currentTotals {
		values[value] = struct{}{}
		comparison.CurrentTotal += total
	}
	for value, total := range priorTotals {
		values[value] = struct{}{}
		comparison.PriorTotal += total
	}

	entries := make([]domain.TrendEntry, 0, len(values))
	for value := range values {
		entry, ok := newEntry(value, currentTotals[value], priorTotals[value])
		if ok {
			entries = append(entries, entry)
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CurrentTotal != entries[j].CurrentTotal {
			return entries[i].CurrentTotal > entries[j].CurrentTotal
		}
		return entries[i].DimensionValue < entries[j].DimensionValue
	})

	if len(entries) > topK {
		entries = entries[:topK]
	}
	comparison.Entries = entries
	return comparison, nil
}

func newEntry(value string, current, prior int64) (domain.TrendEntry, bool) {
	entry := domain.TrendEntry{
		DimensionValue: value,
		CurrentTotal:   current,
		PriorTotal:     prior,
	}

	switch {
	case current == 0 && prior == 0:
		return entry, false
	case prior == 0:
		entry.IsNew = true
	default:
		entry.DeltaPct = float64(current-prior) / float64(prior)
	}
	return entry, true
}

func sumByValue(dimension domain.Dimension, window domain.DateRange, rows []domain.AnalyticsRow) map[string]int64 {
	totals := make(map[string]int64)
	for _, row := range rows {
		if row.Dimension != dimension || !window.Contains(row.Date) {
			continue
		}
		value := row.DimensionValue
		if value == "" {
			value = "(not set)"
		}
		totals[value] += row.MetricValue
	}
	return totals
}
