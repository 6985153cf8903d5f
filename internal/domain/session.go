package domain

import (
	"time"
)

// InboundEvent is the normalized sender/text pair extracted from a webhook delivery.
type InboundEvent struct {
	Sender string
	Text   string
}

// AnswerResult is a structured answer produced by the answer engine.
type AnswerResult struct {
	ShortAnswer    string
	DetailedAnswer string
	DiagramSource  string
	VideoLinks     []string
}

// IsEmpty reports whether the result carries no content at all.
func (a AnswerResult) IsEmpty() bool {
	return a.ShortAnswer == "" && a.DetailedAnswer == "" && a.DiagramSource == "" && len(a.VideoLinks) == 0
}

// QuestionLogEntry records one question forwarded to the answer engine.
type QuestionLogEntry struct {
	ID           string    `json:"id"`
	Sender       string    `json:"user"`
	QuestionText string    `json:"q"`
	Timestamp    time.Time `json:"time"`
}

// TestStatusCreated is the status of a freshly generated weekly test.
const TestStatusCreated = "created"

// TestRecord is a weekly test requested by a sender.
type TestRecord struct {
	ID        string    `json:"-"`
	Sender    string    `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
	Status    string    `json:"status"`
}

// Snapshot is the full persisted state: users, question log and tests.
type Snapshot struct {
	Users map[string]*UserSession `json:"users"`
	Logs  []QuestionLogEntry      `json:"logs"`
	Tests map[string]TestRecord   `json:"tests"`
}

// NewSnapshot returns the empty default state.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Users: make(map[string]*UserSession),
		Logs:  []QuestionLogEntry{},
		Tests: make(map[string]TestRecord),
	}
}

// Normalize fills nil collections and restores keys that are not serialized inline.
func (s *Snapshot) Normalize() {
	if s.Users == nil {
		s.Users = make(map[string]*UserSession)
	}
	if s.Logs == nil {
		s.Logs = []QuestionLogEntry{}
	}
	if s.Tests == nil {
		s.Tests = make(map[string]TestRecord)
	}
	for sender, u := range s.Users {
		if u == nil {
			delete(s.Users, sender)
			continue
		}
		u.Sender = sender
	}
	for id, t := range s.Tests {
		t.ID = id
		s.Tests[id] = t
	}
}
