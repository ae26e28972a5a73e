package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"InsightDigest/internal/domain"
	"InsightDigest/internal/ports"
)

// Dialect selects driver and placeholder style.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const (
	scheduleTable = "schedule_state"
	sendTable     = "send_records"
	lockTable     = "run_locks"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS schedule_state (
		store_key TEXT PRIMARY KEY,
		cadence TEXT NOT NULL,
		anchor_date TEXT NOT NULL,
		last_run_ms BIGINT,
		next_due_ms BIGINT NOT NULL,
		inbox_checked_ms BIGINT NOT NULL DEFAULT 0,
		version BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS send_records (
		store_key TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		sent_ms BIGINT NOT NULL,
		PRIMARY KEY (store_key, fingerprint)
	)`,
	`CREATE TABLE IF NOT EXISTS run_locks (
		lock_key TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		expires_ms BIGINT NOT NULL
	)`,
}

// Store persists the schedule record, the bounded send history and the
// run lease in SQLite or Postgres.
type Store struct {
	db      *sql.DB
	dialect Dialect
	sb      sq.StatementBuilderType
	lockTTL time.Duration
	now     func() time.Time
}

var (
	_ ports.ScheduleRepository = (*Store)(nil)
	_ ports.RunLocker          = (*Store)(nil)
)

// Open connects to the database named by driver and dsn and applies the schema.
func Open(ctx context.Context, driver, dsn string, lockTTL time.Duration) (*Store, error) {
	dialect := Dialect(driver)
	if dialect != DialectSQLite && dialect != DialectPostgres {
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	store := New(db, dialect, lockTTL)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection pool.
func New(db *sql.DB, dialect Dialect, lockTTL time.Duration) *Store {
	var placeholder sq.PlaceholderFormat = sq.Question
	if dialect == DialectPostgres {
		placeholder = sq.Dollar
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Store{
		db:      db,
		dialect: dialect,
		sb:      sq.StatementBuilder.PlaceholderFormat(placeholder),
		lockTTL: lockTTL,
		now:     time.Now,
	}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// LoadSchedule returns the schedule for key or domain.ErrNotFound.
func (s *Store) LoadSchedule(ctx context.Context, key string) (domain.ScheduleState, error) {
	query, args, err := s.sb.
		Select("cadence", "anchor_date", "last_run_ms", "next_due_ms", "inbox_checked_ms", "version").
		From(scheduleTable).
		Where(sq.Eq{"store_key": key}).
		ToSql()
	if err != nil {
		return domain.ScheduleState{}, fmt.Errorf("build load schedule: %w", err)
	}

	var (
		state          domain.ScheduleState
		cadence        string
		anchor         string
		lastRunMS      sql.NullInt64
		nextDueMS      int64
		inboxCheckedMS int64
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&cadence, &anchor, &lastRunMS, &nextDueMS, &inboxCheckedMS, &state.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduleState{}, fmt.Errorf("schedule %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ScheduleState{}, fmt.Errorf("load schedule: %w", err)
	}

	state.Cadence = domain.Cadence(cadence)
	state.AnchorDate, err = time.Parse(time.DateOnly, anchor)
	if err != nil {
		return domain.ScheduleState{}, fmt.Errorf("parse anchor date %q: %w", anchor, err)
	}
	if lastRunMS.Valid {
		lastRun := fromMillis(lastRunMS.Int64)
		state.LastRunAt = &lastRun
	}
	state.NextDueAt = fromMillis(nextDueMS)
	if inboxCheckedMS > 0 {
		state.InboxCheckedAt = fromMillis(inboxCheckedMS)
	}

	return state, nil
}

// SaveSchedule inserts (Version == 0) or updates the record with an
// optimistic version check, returning the stored state.
func (s *Store) SaveSchedule(ctx context.Context, key string, state domain.ScheduleState) (domain.ScheduleState, error) {
	return s.saveSchedule(ctx, s.db, key, state)
}

// HasSendRecord reports whether fingerprint was already delivered for key.
func (s *Store) HasSendRecord(ctx context.Context, key, fingerprint string) (bool, error) {
	query, args, err := s.sb.
		Select("COUNT(*)").
		From(sendTable).
		Where(sq.Eq{"store_key": key, "fingerprint": fingerprint}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build send record lookup: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, fmt.Errorf("lookup send record: %w", err)
	}
	return count > 0, nil
}

// CommitRun records a delivered report, trims the history to the newest
// keep entries and saves the advanced schedule in one transaction.
func (s *Store) CommitRun(ctx context.Context, key string, record domain.SendRecord, state domain.ScheduleState, keep int) (domain.ScheduleState, error) {
	if keep <= 0 {
		keep = 30
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleState{}, fmt.Errorf("begin commit run: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert, args, err := s.sb.
		Insert(sendTable).
		Columns("store_key", "fingerprint", "sent_ms").
		Values(key, record.Fingerprint, toMillis(record.SentAt)).
		Suffix("ON CONFLICT (store_key, fingerprint) DO NOTHING").
		ToSql()
	if err != nil {
		return domain.ScheduleState{}, fmt.Errorf("build send record insert: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return domain.ScheduleState{}, fmt.Errorf("insert send record: %w", err)
	}

	prune, args, err := s.sb.
		Delete(sendTable).
		Where(sq.Eq{"store_key": key}).
		Where(sq.Expr("fingerprint NOT IN (SELECT fingerprint FROM send_records WHERE store_key = ? ORDER BY sent_ms DESC LIMIT ?)", key, keep)).
		ToSql()
	if err != nil {
		return domain.ScheduleState{}, fmt.Errorf("build prune: %w", err)
	}
	if _, err := tx.ExecContext(ctx, prune, args...); err != nil {
		return domain.ScheduleState{}, fmt.Errorf("prune send records: %w", err)
	}

	saved, err := s.saveSchedule(ctx, tx, key, state)
	if err != nil {
		return domain.ScheduleState{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.ScheduleState{}, fmt.Errorf("commit run: %w", err)
	}
	return saved, nil
}

// History lists send records for key, newest first.
func (s *Store) History(ctx context.Context, key string) ([]domain.SendRecord, error) {
	query, args, err := s.sb.
		Select("fingerprint", "sent_ms").
		From(sendTable).
		Where(sq.Eq{"store_key": key}).
		OrderBy("sent_ms DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var records []domain.SendRecord
	for rows.Next() {
		var (
			record domain.SendRecord
			sentMS int64
		)
		if err := rows.Scan(&record.Fingerprint, &sentMS); err != nil {
			return nil, fmt.Errorf("scan send record: %w", err)
		}
		record.SentAt = fromMillis(sentMS)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return records, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) saveSchedule(ctx context.Context, ex execer, key string, state domain.ScheduleState) (domain.ScheduleState, error) {
	var lastRun any
	if state.LastRunAt != nil {
		lastRun = toMillis(*state.LastRunAt)
	}
	var inboxChecked int64
	if !state.InboxCheckedAt.IsZero() {
		inboxChecked = toMillis(state.InboxCheckedAt)
	}
	anchor := state.AnchorDate.Format(time.DateOnly)
	next := state.Version + 1

	var builder interface {
		ToSql() (string, []interface{}, error)
	}
	if state.Version == 0 {
		builder = s.sb.
			Insert(scheduleTable).
			Columns("store_key", "cadence", "anchor_date", "last_run_ms", "next_due_ms", "inbox_checked_ms", "version").
			Values(key, string(state.Cadence), anchor, lastRun, toMillis(state.NextDueAt), inboxChecked, next).
			Suffix("ON CONFLICT (store_key) DO NOTHING")
	} else {
		builder = s.sb.
			Update(scheduleTable).
			SetMap(map[string]interface{}{
				"cadence":          string(state.Cadence),
				"anchor_date":      anchor,
				"last_run_ms":      lastRun,
				"next_due_ms":      toMillis(state.NextDueAt),
				"inbox_checked_ms": inboxChecked,
				"version":          next,
			}).
			Where(sq.Eq{"store_key": key, "version": state.Version})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return domain.ScheduleState{}, fmt.Errorf("build save schedule: %w", err)
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.ScheduleState{}, fmt.Errorf("save schedule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.ScheduleState{}, fmt.Errorf("save schedule rows: %w", err)
	}
	if affected == 0 {
		return domain.ScheduleState{}, fmt.Errorf("schedule %s at version %d: %w", key, state.Version, domain.ErrVersionConflict)
	}

	state.Version = next
	return state, nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
