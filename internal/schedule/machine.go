// Package schedule implements the cadence state machine behind the digest
// schedule. It is pure: persistence and locking live with the callers.
package schedule

import (
	"fmt"
	"time"

	"InsightDigest/internal/domain"
)

// Machine evaluates schedule transitions in a fixed timezone. Due slots are
// midnights in that timezone, counted in whole cadence periods from the
// anchor date.
type Machine struct {
	loc *time.Location
}

// NewMachine returns a machine bound to loc (UTC when nil).
func NewMachine(loc *time.Location) *Machine {
	if loc == nil {
		loc = time.UTC
	}
	return &Machine{loc: loc}
}

// New creates the first schedule record with the given cadence.
func (m *Machine) New(cadence domain.Cadence, at time.Time) (domain.ScheduleState, error) {
	if !cadence.Valid() {
		return domain.ScheduleState{}, fmt.Errorf("invalid cadence %q", cadence)
	}
	state := domain.ScheduleState{
		Cadence:    cadence,
		AnchorDate: m.Anchor(cadence, at),
	}
	state.NextDueAt = m.NextDue(state)
	return state, nil
}

// Anchor returns the natural boundary for cadence at or before at: the same
// day for daily, the Monday of that week otherwise.
func (m *Machine) Anchor(cadence domain.Cadence, at time.Time) time.Time {
	day := domain.DateOf(at.In(m.loc))
	if cadence == domain.CadenceWeekly || cadence == domain.CadenceFortnightly {
		sinceMonday := (int(day.Weekday()) + 6) % 7
		day = day.AddDate(0, 0, -sinceMonday)
	}
	return day
}

// NextDue derives next_due_at from cadence, anchor and last run.
func (m *Machine) NextDue(state domain.ScheduleState) time.Time {
	if state.LastRunAt == nil {
		return m.slot(state, 0)
	}
	return m.firstSlotAfter(state, *state.LastRunAt)
}

// IsDue reports whether now has reached next_due_at.
func (m *Machine) IsDue(state domain.ScheduleState, now time.Time) bool {
	return !now.Before(state.NextDueAt)
}

// SetCadence switches cadence and re-anchors. Applying the current cadence
// again changes nothing; changed reports whether the state was modified.
func (m *Machine) SetCadence(state domain.ScheduleState, cadence domain.Cadence, at time.Time) (next domain.ScheduleState, changed bool, err error) {
	if !cadence.Valid() {
		return state, false, fmt.Errorf("invalid cadence %q", cadence)
	}
	if state.Cadence == cadence {
		return state, false, nil
	}

	state.Cadence = cadence
	state.AnchorDate = m.Anchor(cadence, at)
	state.NextDueAt = m.NextDue(state)
	return state, true, nil
}

// MarkRun records a completed run at now and moves next_due_at strictly
// forward. It is only valid once per due period.
func (m *Machine) MarkRun(state domain.ScheduleState, now time.Time) (domain.ScheduleState, error) {
	if !m.IsDue(state, now) {
		return state, fmt.Errorf("mark run at %s before %s: %w",
			now.Format(time.RFC3339), state.NextDueAt.Format(time.RFC3339), domain.ErrNotDue)
	}

	previous := state.NextDueAt
	ranAt := now
	state.LastRunAt = &ranAt

	next := m.firstSlotAfter(state, now)
	if next.Before(previous) {
		next = previous
	}
	state.NextDueAt = next
	return state, nil
}

func (m *Machine) slot(state domain.ScheduleState, k int) time.Time {
	a := state.AnchorDate
	return time.Date(a.Year(), a.Month(), a.Day()+k*state.Cadence.PeriodDays(), 0, 0, 0, 0, m.loc)
}

// firstSlotAfter returns the earliest slot strictly after t.
func (m *Machine) firstSlotAfter(state domain.ScheduleState, t time.Time) time.Time {
	base := m.slot(state, 0)
	if t.Before(base) {
		return base
	}

	period := state.Cadence.PeriodDays()
	k := int(t.Sub(base).Hours()/24) / period
	for !m.slot(state, k).After(t) {
		k++
	}
	for k > 0 && m.slot(state, k-1).After(t) {
		k--
	}
	return m.slot(state, k)
}
