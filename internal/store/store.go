// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/studyrelay/internal/domain"
)

// Repository defines the interface for persisting sender sessions, the
// question log and weekly tests.
type Repository interface {
	// GetSession retrieves a session by sender. Returns nil, nil when unseen.
	GetSession(ctx context.Context, sender string) (*domain.UserSession, error)

	// UpsertSession creates or replaces the session record of one sender.
	UpsertSession(ctx context.Context, session *domain.UserSession) error

	// AppendQuestionLog appends an entry to the question log.
	AppendQuestionLog(ctx context.Context, entry domain.QuestionLogEntry) error

	// CreateTest stores a new weekly test record.
	CreateTest(ctx context.Context, test domain.TestRecord) error

	// PruneQuestionLog removes log entries older than before and returns how many were removed.
	PruneQuestionLog(ctx context.Context, before time.Time) (int64, error)

	// Snapshot loads the whole persisted state. An absent backing store yields an empty snapshot.
	Snapshot(ctx context.Context) (*domain.Snapshot, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases the backing store.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverJSON   = "json"
)

// Open creates the repository selected by driver.
func Open(driver, path string) (Repository, error) {
	switch driver {
	case DriverJSON:
		return NewJSONFile(path)
	default:
		return NewSQLite(path)
	}
}
