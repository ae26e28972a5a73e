package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"InsightDigest/internal/domain"
)

// TryLock takes a lease on key that expires after the store's lock TTL,
// so a crashed holder cannot block later runs forever. It never waits.
func (s *Store) TryLock(ctx context.Context, key string) (func(context.Context) error, error) {
	holder := uuid.NewString()
	now := s.now()

	seed, args, err := s.sb.
		Insert(lockTable).
		Columns("lock_key", "holder", "expires_ms").
		Values(key, "", 0).
		Suffix("ON CONFLICT (lock_key) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lock seed: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, seed, args...); err != nil {
		return nil, fmt.Errorf("seed lock row: %w", err)
	}

	acquire, args, err := s.sb.
		Update(lockTable).
		Set("holder", holder).
		Set("expires_ms", toMillis(now.Add(s.lockTTL))).
		Where(sq.Eq{"lock_key": key}).
		Where(sq.Lt{"expires_ms": toMillis(now)}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lock acquire: %w", err)
	}
	res, err := s.db.ExecContext(ctx, acquire, args...)
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("acquire lock rows: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("lock %s: %w", key, domain.ErrLockContention)
	}

	release := func(ctx context.Context) error {
		query, args, err := s.sb.
			Update(lockTable).
			Set("holder", "").
			Set("expires_ms", 0).
			Where(sq.Eq{"lock_key": key, "holder": holder}).
			ToSql()
		if err != nil {
			return fmt.Errorf("build lock release: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		return nil
	}
	return release, nil
}
