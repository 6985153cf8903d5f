package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/studyrelay/internal/domain"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite with one row per record.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(8)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		sender TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		lang TEXT NOT NULL,
		pending_student_id TEXT,
		authenticated_id TEXT,
		session_expiry INTEGER,
		voice_style TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS question_logs (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		question TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_question_logs_created ON question_logs(created_at);

	CREATE TABLE IF NOT EXISTS tests (
		id TEXT PRIMARY KEY,
		sender TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

const selectUserColumns = `
	SELECT sender, state, lang, pending_student_id, authenticated_id,
	       session_expiry, voice_style, created_at, updated_at
	FROM users`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.UserSession, error) {
	var session domain.UserSession
	var state, voice string
	var pending, authenticated, voiceStyle sql.NullString
	var expiry sql.NullInt64
	var createdAt, updatedAt int64

	if err := row.Scan(
		&session.Sender, &state, &session.LanguagePreference, &pending, &authenticated,
		&expiry, &voiceStyle, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	voice = voiceStyle.String
	session.State = domain.SessionState(state)
	session.VoiceStyle = domain.VoiceStyle(voice)
	session.PendingStudentID = pending.String
	session.AuthenticatedID = authenticated.String
	if expiry.Valid {
		ts := time.Unix(expiry.Int64, 0)
		session.SessionExpiry = &ts
	}
	session.CreatedAt = time.Unix(createdAt, 0)
	session.UpdatedAt = time.Unix(updatedAt, 0)
	return &session, nil
}

// GetSession retrieves the session of one sender.
func (s *SQLiteStore) GetSession(ctx context.Context, sender string) (*domain.UserSession, error) {
	row := s.db.QueryRowContext(ctx, selectUserColumns+` WHERE sender = ?`, sender)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}
	return session, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UpsertSession creates or replaces the session record of one sender.
func (s *SQLiteStore) UpsertSession(ctx context.Context, session *domain.UserSession) error {
	query := `
	INSERT INTO users (sender, state, lang, pending_student_id, authenticated_id,
	                   session_expiry, voice_style, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(sender) DO UPDATE SET
		state = excluded.state,
		lang = excluded.lang,
		pending_student_id = excluded.pending_student_id,
		authenticated_id = excluded.authenticated_id,
		session_expiry = excluded.session_expiry,
		voice_style = excluded.voice_style,
		updated_at = excluded.updated_at`

	var expiry any
	if session.SessionExpiry != nil {
		expiry = session.SessionExpiry.Unix()
	}

	updatedAt := session.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	err := withConflictRetry(ctx, "upsert_session", func() error {
		_, err := s.db.ExecContext(ctx, query,
			session.Sender, string(session.State), session.Language(),
			nullableString(session.PendingStudentID), nullableString(session.AuthenticatedID),
			expiry, nullableString(string(session.VoiceStyle)),
			session.CreatedAt.Unix(), updatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// AppendQuestionLog appends an entry to the question log.
func (s *SQLiteStore) AppendQuestionLog(ctx context.Context, entry domain.QuestionLogEntry) error {
	err := withConflictRetry(ctx, "append_question_log", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO question_logs (id, sender, question, created_at) VALUES (?, ?, ?, ?)`,
			entry.ID, entry.Sender, entry.QuestionText, entry.Timestamp.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert question log: %w", err)
	}
	return nil
}

// CreateTest stores a new weekly test record.
func (s *SQLiteStore) CreateTest(ctx context.Context, test domain.TestRecord) error {
	err := withConflictRetry(ctx, "create_test", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO tests (id, sender, status, created_at) VALUES (?, ?, ?, ?)`,
			test.ID, test.Sender, test.Status, test.CreatedAt.Unix(),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("insert test: %w", err)
	}
	return nil
}

// PruneQuestionLog removes log entries older than before.
func (s *SQLiteStore) PruneQuestionLog(ctx context.Context, before time.Time) (int64, error) {
	var result sql.Result
	err := withConflictRetry(ctx, "prune_question_log", func() error {
		var err error
		result, err = s.db.ExecContext(ctx, `DELETE FROM question_logs WHERE created_at < ?`, before.Unix())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune question log: %w", err)
	}
	return result.RowsAffected()
}

// Snapshot loads every user, log entry and test.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*domain.Snapshot, error) {
	snap := domain.NewSnapshot()

	if err := s.scanAll(ctx, selectUserColumns, func(rows *sql.Rows) error {
		session, err := scanSession(rows)
		if err != nil {
			return err
		}
		snap.Users[session.Sender] = session
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}

	if err := s.scanAll(ctx, `SELECT id, sender, question, created_at FROM question_logs ORDER BY created_at, rowid`, func(rows *sql.Rows) error {
		var entry domain.QuestionLogEntry
		var ts int64
		if err := rows.Scan(&entry.ID, &entry.Sender, &entry.QuestionText, &ts); err != nil {
			return err
		}
		entry.Timestamp = time.Unix(ts, 0)
		snap.Logs = append(snap.Logs, entry)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load question log: %w", err)
	}

	if err := s.scanAll(ctx, `SELECT id, sender, status, created_at FROM tests`, func(rows *sql.Rows) error {
		var test domain.TestRecord
		var ts int64
		if err := rows.Scan(&test.ID, &test.Sender, &test.Status, &ts); err != nil {
			return err
		}
		test.CreatedAt = time.Unix(ts, 0)
		snap.Tests[test.ID] = test
		return nil
	}); err != nil {
		return nil, fmt.Errorf("load tests: %w", err)
	}

	return snap, nil
}

func (s *SQLiteStore) scanAll(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close rows", "error", closeErr)
		}
	}()

	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
