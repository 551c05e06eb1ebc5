package database

import (
	"context"
	"database/sql"
	"math/rand"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// isBusyError checks if the error is a SQLite BUSY or LOCKED error. Works with
// both mattn/go-sqlite3 and modernc.org/sqlite.
func isBusyError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// IsUniqueViolation reports whether err was raised by a UNIQUE constraint or
// unique index.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLITE_CONSTRAINT_UNIQUE")
}

// withRetry runs fn, retrying with exponential backoff and jitter while it
// fails with a busy error. Any other error is returned immediately.
func withRetry(ctx context.Context, maxRetries int, fn func() error) error {
	baseDelay := 50 * time.Millisecond

	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err = fn()
		if err == nil || !isBusyError(err) || attempt == maxRetries {
			return err
		}

		delay := baseDelay * time.Duration(1<<attempt)
		delay += time.Duration(rand.Int63n(int64(delay / 4)))
		if delay > 2*time.Second {
			delay = 2 * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// RunInTx runs fn in a transaction, retrying the whole transaction when
// SQLite reports lock contention from another process. fn must only use the
// tx it is handed.
func RunInTx(ctx context.Context, db bun.IDB, maxRetries int, fn func(ctx context.Context, tx bun.Tx) error) error {
	return withRetry(ctx, maxRetries, func() error {
		return db.RunInTx(ctx, &sql.TxOptions{}, fn)
	})
}
