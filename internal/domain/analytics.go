package domain

import (
	"fmt"
	"strings"
	"time"
)

// Dimension is the analytics breakdown used for trend comparisons.
type Dimension string

const (
	DimensionSource  Dimension = "SOURCE"
	DimensionCountry Dimension = "COUNTRY"
)

// ParseDimension accepts "source"/"country" in any case.
func ParseDimension(value string) (Dimension, error) {
	switch Dimension(strings.ToUpper(strings.TrimSpace(value))) {
	case DimensionSource:
		return DimensionSource, nil
	case DimensionCountry:
		return DimensionCountry, nil
	default:
		return "", fmt.Errorf("unknown dimension %q", value)
	}
}

// Label is the human readable dimension name.
func (d Dimension) Label() string {
	switch d {
	case DimensionSource:
		return "Traffic sources"
	case DimensionCountry:
		return "Countries"
	default:
		return string(d)
	}
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// Days returns the number of calendar days covered by the range.
func (r DateRange) Days() int {
	return int(DateOf(r.End).Sub(DateOf(r.Start)).Hours()/24) + 1
}

// Contains reports whether the calendar date of t falls inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := DateOf(t)
	return !d.Before(DateOf(r.Start)) && !d.After(DateOf(r.End))
}

func (r DateRange) String() string {
	return r.Start.Format(time.DateOnly) + ".." + r.End.Format(time.DateOnly)
}

// AnalyticsRow is one aggregated metric value for a date and dimension value.
type AnalyticsRow struct {
	Date           time.Time
	Dimension      Dimension
	DimensionValue string
	MetricValue    int64
}

// TrendEntry compares one dimension value across the two windows.
type TrendEntry struct {
	DimensionValue string
	CurrentTotal   int64
	PriorTotal     int64
	// DeltaPct is a fraction (1.0 == +100%); meaningless when IsNew is set.
	DeltaPct float64
	IsNew    bool
}

// TrendComparison is the ranked result for a single dimension.
type TrendComparison struct {
	Dimension     Dimension
	CurrentWindow DateRange
	PriorWindow   DateRange
	Entries       []TrendEntry
	CurrentTotal  int64
	PriorTotal    int64
}
