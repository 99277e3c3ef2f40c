// Package shared provides common utilities used across the codebase.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// IsSQLiteBusyError checks if the error is a SQLITE_BUSY error.
func IsSQLiteBusyError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "SQLITE_BUSY")
}

// IsSQLiteLockedError checks if the error is a "database is locked" error.
func IsSQLiteLockedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsSQLiteConflictError reports either form of SQLite lock contention.
func IsSQLiteConflictError(err error) bool {
	return IsSQLiteBusyError(err) || IsSQLiteLockedError(err)
}

// RetryOnConflict runs op up to attempts times, backing off exponentially
// from base while op keeps failing with a SQLite conflict.
func RetryOnConflict(ctx context.Context, attempts int, base time.Duration, op func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = op()
		if err == nil || !IsSQLiteConflictError(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		delay := base * time.Duration(1<<i)
		slog.Debug("SQLite busy, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
