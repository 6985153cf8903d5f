package store

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

const (
	conflictMaxRetries = 3
	conflictBaseDelay  = 50 * time.Millisecond
)

// isConflictError reports SQLITE_BUSY and "database is locked" errors,
// the two forms SQLite uses for write contention.
func isConflictError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withConflictRetry runs op, retrying write conflicts with exponential backoff
// (50ms, 100ms). Any other error is returned immediately.
func withConflictRetry(ctx context.Context, name string, op func() error) error {
	var err error
	for i := 0; i < conflictMaxRetries; i++ {
		err = op()
		if err == nil || !isConflictError(err) {
			return err
		}
		if i == conflictMaxRetries-1 {
			break
		}
		delay := conflictBaseDelay * time.Duration(1<<i)
		slog.Debug("Database locked, retrying", "op", name, "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
