package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"InsightDigest/internal/domain"
)

func TestPostgresLoadScheduleUsesDollarPlaceholders(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := New(db, DialectPostgres, time.Minute)

	rows := sqlmock.NewRows([]string{"cadence", "anchor_date", "last_run_ms", "next_due_ms", "inbox_checked_ms", "version"}).
		AddRow("weekly", "2026-10-12", nil, time.Date(2026, time.October, 12, 0, 0, 0, 0, time.UTC).UnixMilli(), 0, 3)
	mock.ExpectQuery(regexp.QuoteMeta("FROM schedule_state WHERE store_key = $1")).
		WithArgs("team").
		WillReturnRows(rows)

	state, err := store.LoadSchedule(context.Background(), "team")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if state.Cadence != domain.CadenceWeekly || state.LastRunAt != nil || state.Version != 3 || !state.InboxCheckedAt.IsZero() {
		t.Fatalf("unexpected state %+v", state)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresSaveScheduleConflict(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := New(db, DialectPostgres, time.Minute)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE schedule_state SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err = store.SaveSchedule(context.Background(), "team", domain.ScheduleState{
		Cadence:    domain.CadenceDaily,
		AnchorDate: time.Date(2026, time.October, 12, 0, 0, 0, 0, time.UTC),
		NextDueAt:  time.Date(2026, time.October, 13, 0, 0, 0, 0, time.UTC),
		Version:    4,
	})
	if !errors.Is(err, domain.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresTryLockContention(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer db.Close()

	store := New(db, DialectPostgres, time.Minute)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_locks (lock_key,holder,expires_ms) VALUES ($1,$2,$3) ON CONFLICT (lock_key) DO NOTHING")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE run_locks SET holder = $1, expires_ms = $2 WHERE lock_key = $3 AND expires_ms < $4")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if _, err := store.TryLock(context.Background(), "team"); !errors.Is(err, domain.ErrLockContention) {
		t.Fatalf("expected contention, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
