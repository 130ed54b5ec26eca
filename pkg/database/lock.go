package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"

	"gorm.io/gorm"
)

// ErrLockHeld is returned when another session already holds the advisory lock.
var ErrLockHeld = errors.New("advisory lock held by another session")

// AdvisoryLocker hands out session-level Postgres advisory locks.
// Each lock pins one pooled connection until it is released.
type AdvisoryLocker struct {
	db *gorm.DB
}

func NewAdvisoryLocker(db *gorm.DB) *AdvisoryLocker {
	return &AdvisoryLocker{db: db}
}

// TryLock acquires the lock for name without waiting. The returned release
// function must be called on every exit path.
func (l *AdvisoryLocker) TryLock(ctx context.Context, name string) (func(), error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}

	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve connection: %w", err)
	}

	key := lockKey(name)
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("pg_try_advisory_lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, ErrLockHeld
	}

	return func() { unlock(conn, key) }, nil
}

func unlock(conn *sql.Conn, key int64) {
	// Unlock on a fresh context so a cancelled request still frees the lock.
	_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key)
	_ = conn.Close()
}

func lockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
