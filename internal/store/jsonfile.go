package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/studyrelay/internal/domain"
)

// JSONFileStore implements Repository on a single JSON document holding
// users, logs and tests. Every mutation rewrites the document atomically.
type JSONFileStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONFile creates a repository backed by the JSON document at path.
// The document is created lazily on the first write.
func NewJSONFile(path string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &JSONFileStore{path: path}, nil
}

// load reads the document. Missing or unreadable content yields the empty state.
// An unparseable document is renamed aside so the next write cannot replace it.
func (s *JSONFileStore) load() *domain.Snapshot {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Failed to read data file, starting empty", "path", s.path, "error", err)
		}
		return domain.NewSnapshot()
	}

	var snap domain.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UnixNano())
		if renameErr := os.Rename(s.path, aside); renameErr != nil {
			slog.Error("Failed to move corrupt data file aside", "path", s.path, "error", renameErr)
		} else {
			slog.Warn("Data file is corrupt, moved aside and starting empty",
				"path", s.path, "moved_to", aside, "error", err)
		}
		return domain.NewSnapshot()
	}
	snap.Normalize()
	return &snap
}

// save writes the document to a temp file and renames it into place.
func (s *JSONFileStore) save(snap *domain.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal data file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".db-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace data file: %w", err)
	}
	return nil
}

func (s *JSONFileStore) mutate(fn func(*domain.Snapshot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.load()
	fn(snap)
	return s.save(snap)
}

// GetSession retrieves the session of one sender.
func (s *JSONFileStore) GetSession(_ context.Context, sender string) (*domain.UserSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.load().Users[sender]
	if !ok {
		return nil, nil
	}
	return session, nil
}

// UpsertSession creates or replaces the session record of one sender.
func (s *JSONFileStore) UpsertSession(_ context.Context, session *domain.UserSession) error {
	stored := *session
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = time.Now()
	}
	return s.mutate(func(snap *domain.Snapshot) {
		snap.Users[session.Sender] = &stored
	})
}

// AppendQuestionLog appends an entry to the question log.
func (s *JSONFileStore) AppendQuestionLog(_ context.Context, entry domain.QuestionLogEntry) error {
	return s.mutate(func(snap *domain.Snapshot) {
		snap.Logs = append(snap.Logs, entry)
	})
}

// CreateTest stores a new weekly test record.
func (s *JSONFileStore) CreateTest(_ context.Context, test domain.TestRecord) error {
	return s.mutate(func(snap *domain.Snapshot) {
		snap.Tests[test.ID] = test
	})
}

// PruneQuestionLog removes log entries older than before.
func (s *JSONFileStore) PruneQuestionLog(_ context.Context, before time.Time) (int64, error) {
	var removed int64
	err := s.mutate(func(snap *domain.Snapshot) {
		kept := snap.Logs[:0]
		for _, entry := range snap.Logs {
			if entry.Timestamp.Before(before) {
				removed++
				continue
			}
			kept = append(kept, entry)
		}
		snap.Logs = kept
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Snapshot loads the whole document.
func (s *JSONFileStore) Snapshot(_ context.Context) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(), nil
}

// Ping verifies the data directory is reachable.
func (s *JSONFileStore) Ping(_ context.Context) error {
	if _, err := os.Stat(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("stat data directory: %w", err)
	}
	return nil
}

// Close is a no-op; the document is closed after every write.
func (s *JSONFileStore) Close() error {
	return nil
}
