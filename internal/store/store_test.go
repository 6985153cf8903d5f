package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/studyrelay/internal/domain"
)

func openBackends(t *testing.T) map[string]Repository {
	t.Helper()
	dir := t.TempDir()

	sqliteRepo, err := NewSQLite(filepath.Join(dir, "relay.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	jsonRepo, err := NewJSONFile(filepath.Join(dir, "db.json"))
	if err != nil {
		t.Fatalf("NewJSONFile: %v", err)
	}
	t.Cleanup(func() {
		_ = sqliteRepo.Close()
		_ = jsonRepo.Close()
	})
	return map[string]Repository{DriverSQLite: sqliteRepo, DriverJSON: jsonRepo}
}

func TestRepositorySessionRoundTrip(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			got, err := repo.GetSession(ctx, "919000000001")
			if err != nil {
				t.Fatalf("GetSession on empty store: %v", err)
			}
			if got != nil {
				t.Fatalf("expected nil session for unseen sender, got %+v", got)
			}

			now := time.Unix(1_700_000_000, 0)
			session := domain.NewUserSession("919000000001", domain.StateNeedID, now)
			session.LanguagePreference = "Hindi"
			session.SetPending("STU-7")
			session.Authenticate(now.Add(6 * time.Hour))

			if err := repo.UpsertSession(ctx, session); err != nil {
				t.Fatalf("UpsertSession: %v", err)
			}

			got, err = repo.GetSession(ctx, "919000000001")
			if err != nil {
				t.Fatalf("GetSession: %v", err)
			}
			if got == nil {
				t.Fatal("expected stored session")
			}
			if got.State != domain.StateLoggedIn || got.LanguagePreference != "Hindi" || got.AuthenticatedID != "STU-7" {
				t.Errorf("unexpected session: %+v", got)
			}
			if got.SessionExpiry == nil || !got.SessionExpiry.Equal(now.Add(6*time.Hour)) {
				t.Errorf("expiry not preserved: %v", got.SessionExpiry)
			}

			got.Reset(domain.StateNeedID)
			if err := repo.UpsertSession(ctx, got); err != nil {
				t.Fatalf("UpsertSession after reset: %v", err)
			}
			again, err := repo.GetSession(ctx, "919000000001")
			if err != nil {
				t.Fatalf("GetSession after reset: %v", err)
			}
			if again.SessionExpiry != nil || again.AuthenticatedID != "" || again.LanguagePreference != "Hindi" {
				t.Errorf("reset not persisted: %+v", again)
			}
		})
	}
}

func TestRepositoryLogsAndTests(t *testing.T) {
	for name, repo := range openBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Unix(1_700_000_000, 0)

			for i, q := range []string{"what is osmosis", "define gravity", "explain photosynthesis"} {
				entry := domain.QuestionLogEntry{
					ID:           "log" + string(rune('a'+i)),
					Sender:       "91900",
					QuestionText: q,
					Timestamp:    base.Add(time.Duration(i) * time.Hour),
				}
				if err := repo.AppendQuestionLog(ctx, entry); err != nil {
					t.Fatalf("AppendQuestionLog: %v", err)
				}
			}
			test := domain.TestRecord{ID: "Ab3xY9", Sender: "91900", CreatedAt: base, Status: domain.TestStatusCreated}
			if err := repo.CreateTest(ctx, test); err != nil {
				t.Fatalf("CreateTest: %v", err)
			}

			snap, err := repo.Snapshot(ctx)
			if err != nil {
				t.Fatalf("Snapshot: %v", err)
			}
			if len(snap.Logs) != 3 || snap.Logs[0].QuestionText != "what is osmosis" {
				t.Fatalf("unexpected logs: %+v", snap.Logs)
			}
			if got := snap.Tests["Ab3xY9"]; got.Sender != "91900" || got.Status != domain.TestStatusCreated {
				t.Fatalf("unexpected test record: %+v", got)
			}

			removed, err := repo.PruneQuestionLog(ctx, base.Add(90*time.Minute))
			if err != nil {
				t.Fatalf("PruneQuestionLog: %v", err)
			}
			if removed != 2 {
				t.Errorf("expected 2 pruned entries, got %d", removed)
			}
			snap, err = repo.Snapshot(ctx)
			if err != nil {
				t.Fatalf("Snapshot after prune: %v", err)
			}
			if len(snap.Logs) != 1 || snap.Logs[0].QuestionText != "explain photosynthesis" {
				t.Errorf("unexpected logs after prune: %+v", snap.Logs)
			}
		})
	}
}

func TestJSONFileCorruptDocumentStartsEmpty(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "db.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	repo, err := NewJSONFile(path)
	if err != nil {
		t.Fatalf("NewJSONFile: %v", err)
	}
	snap, err := repo.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Users) != 0 || len(snap.Logs) != 0 || len(snap.Tests) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}

	session := domain.NewUserSession("91900", domain.StateAnswering, time.Now())
	if err := repo.UpsertSession(context.Background(), session); err != nil {
		t.Fatalf("UpsertSession over corrupt file: %v", err)
	}
	got, err := repo.GetSession(context.Background(), "91900")
	if err != nil || got == nil {
		t.Fatalf("expected session after rewrite, got %v, %v", got, err)
	}

	moved, err := filepath.Glob(path + ".corrupt-*")
	if err != nil || len(moved) != 1 {
		t.Fatalf("expected the corrupt document to be moved aside, got %v, %v", moved, err)
	}
	kept, err := os.ReadFile(moved[0])
	if err != nil || string(kept) != "{not json" {
		t.Errorf("corrupt document not preserved: %q, %v", kept, err)
	}
}

func TestJSONFileLoadsEpochMillisDocument(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "db.json")
	legacy := `{
  "users": {"919000000001": {"lang": "Hindi", "createdAt": 1700000000000}},
  "logs": [{"user": "919000000001", "q": "what is osmosis", "time": 1700000000123}],
  "tests": {"Ab12Cd": {"user": "919000000001", "createdAt": 1700000000000}}
}`
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}
	repo, err := NewJSONFile(path)
	if err != nil {
		t.Fatalf("NewJSONFile: %v", err)
	}
	ctx := context.Background()

	session, err := repo.GetSession(ctx, "919000000001")
	if err != nil || session == nil {
		t.Fatalf("expected legacy session, got %v, %v", session, err)
	}
	if session.LanguagePreference != "Hindi" || !session.CreatedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("unexpected legacy session: %+v", session)
	}

	entry := domain.QuestionLogEntry{ID: "new", Sender: "919000000002", QuestionText: "define gravity", Timestamp: time.UnixMilli(1700000100000)}
	if err := repo.AppendQuestionLog(ctx, entry); err != nil {
		t.Fatalf("AppendQuestionLog: %v", err)
	}

	snap, err := repo.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Users) != 1 || len(snap.Logs) != 2 || len(snap.Tests) != 1 {
		t.Fatalf("legacy records lost after write: users=%d logs=%d tests=%d", len(snap.Users), len(snap.Logs), len(snap.Tests))
	}
	if !snap.Logs[0].Timestamp.Equal(time.UnixMilli(1700000000123)) {
		t.Errorf("legacy log time changed: %v", snap.Logs[0].Timestamp)
	}
	if got := snap.Tests["Ab12Cd"]; got.Sender != "919000000001" || !got.CreatedAt.Equal(time.UnixMilli(1700000000000)) {
		t.Errorf("unexpected legacy test: %+v", got)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read data file: %v", err)
	}
	var raw struct {
		Users map[string]map[string]any `json:"users"`
		Logs  []map[string]any          `json:"logs"`
		Tests map[string]map[string]any `json:"tests"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("decode written file: %v", err)
	}
	if v, ok := raw.Users["919000000001"]["createdAt"].(float64); !ok || v != 1700000000000 {
		t.Errorf("user createdAt not written as epoch ms: %v", raw.Users["919000000001"]["createdAt"])
	}
	if v, ok := raw.Logs[1]["time"].(float64); !ok || v != 1700000100000 {
		t.Errorf("log time not written as epoch ms: %v", raw.Logs[1]["time"])
	}
	if v, ok := raw.Tests["Ab12Cd"]["createdAt"].(float64); !ok || v != 1700000000000 {
		t.Errorf("test createdAt not written as epoch ms: %v", raw.Tests["Ab12Cd"]["createdAt"])
	}
	if moved, _ := filepath.Glob(path + ".corrupt-*"); len(moved) != 0 {
		t.Errorf("legacy document must not be treated as corrupt: %v", moved)
	}
}

func TestJSONFileConcurrentWritesKeepEveryRecord(t *testing.T) {
	t.Parallel()
	repo, err := NewJSONFile(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatalf("NewJSONFile: %v", err)
	}

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry := domain.QuestionLogEntry{
				ID:           string(rune('A' + i)),
				Sender:       "91900",
				QuestionText: "question",
				Timestamp:    time.Now(),
			}
			if err := repo.AppendQuestionLog(context.Background(), entry); err != nil {
				t.Errorf("AppendQuestionLog: %v", err)
			}
		}(i)
	}
	wg.Wait()

	snap, err := repo.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap.Logs) != writers {
		t.Fatalf("expected %d log entries, got %d", writers, len(snap.Logs))
	}
}

func TestWithConflictRetry(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := withConflictRetry(context.Background(), "test", func() error {
		attempts++
		if attempts < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}

	attempts = 0
	permanent := errors.New("constraint failed")
	err = withConflictRetry(context.Background(), "test", func() error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) || attempts != 1 {
		t.Errorf("expected immediate failure, got %v after %d attempts", err, attempts)
	}
}

func TestPruneQuestionLogHelper(t *testing.T) {
	t.Parallel()
	repo, err := NewJSONFile(filepath.Join(t.TempDir(), "db.json"))
	if err != nil {
		t.Fatalf("NewJSONFile: %v", err)
	}
	ctx := context.Background()
	now := time.Now()
	old := domain.QuestionLogEntry{ID: "old", Sender: "1", QuestionText: "q", Timestamp: now.Add(-48 * time.Hour)}
	fresh := domain.QuestionLogEntry{ID: "new", Sender: "1", QuestionText: "q", Timestamp: now}
	for _, e := range []domain.QuestionLogEntry{old, fresh} {
		if err := repo.AppendQuestionLog(ctx, e); err != nil {
			t.Fatalf("AppendQuestionLog: %v", err)
		}
	}

	pruneQuestionLog(ctx, repo, 24*time.Hour, now)

	snap, _ := repo.Snapshot(ctx)
	if len(snap.Logs) != 1 || snap.Logs[0].ID != "new" {
		t.Fatalf("expected only fresh entry, got %+v", snap.Logs)
	}
}
