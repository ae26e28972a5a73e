package domain

import (
	"strings"
	"time"
)

// Cadence is the configured reporting frequency.
type Cadence string

const (
	CadenceDaily       Cadence = "daily"
	CadenceWeekly      Cadence = "weekly"
	CadenceFortnightly Cadence = "fortnightly"
)

// ParseCadence matches a cadence keyword case-insensitively.
func ParseCadence(value string) (Cadence, bool) {
	switch Cadence(strings.ToLower(strings.TrimSpace(value))) {
	case CadenceDaily:
		return CadenceDaily, true
	case CadenceWeekly:
		return CadenceWeekly, true
	case CadenceFortnightly:
		return CadenceFortnightly, true
	default:
		return "", false
	}
}

// Valid reports whether c is one of the known cadences.
func (c Cadence) Valid() bool {
	switch c {
	case CadenceDaily, CadenceWeekly, CadenceFortnightly:
		return true
	default:
		return false
	}
}

// PeriodDays is the distance between two consecutive due slots.
func (c Cadence) PeriodDays() int {
	switch c {
	case CadenceWeekly:
		return 7
	case CadenceFortnightly:
		return 14
	default:
		return 1
	}
}

// Title returns the capitalized cadence name used in subjects.
func (c Cadence) Title() string {
	if c == "" {
		return ""
	}
	return strings.ToUpper(string(c[:1])) + string(c[1:])
}

// ScheduleState is the single persisted schedule record per recipient set.
type ScheduleState struct {
	Cadence Cadence
	// AnchorDate is a calendar date (UTC midnight) that due slots are counted from.
	AnchorDate     time.Time
	LastRunAt      *time.Time
	NextDueAt      time.Time
	InboxCheckedAt time.Time
	// Version increments on every successful save.
	Version int64
}

// SendRecord remembers a delivered report for idempotent re-runs.
type SendRecord struct {
	Fingerprint string
	SentAt      time.Time
}

// DateOf truncates t to its calendar date, expressed as UTC midnight.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
