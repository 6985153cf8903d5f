// Package domain contains core domain types for the study relay.
package domain

import (
	"time"
)

// DefaultLanguage is the answer language used until a sender picks another one.
const DefaultLanguage = "English"

// SessionState is the position of a sender in the conversation state machine.
type SessionState string

const (
	// StateNeedID waits for the student identifier.
	StateNeedID SessionState = "NEED_ID"
	// StateNeedPassword waits for the credential that belongs to the pending identifier.
	StateNeedPassword SessionState = "NEED_PASSWORD"
	// StateLoggedIn is the authenticated question-answering state.
	StateLoggedIn SessionState = "LOGGED_IN"
	// StateChangingTeacher waits for a voice style selection.
	StateChangingTeacher SessionState = "CHANGING_TEACHER"
	// StateAnswering is the single state used when login is disabled.
	StateAnswering SessionState = "ANSWERING"
)

// VoiceStyle is the cosmetic "teacher" persona a sender picked.
type VoiceStyle string

const (
	VoiceMale   VoiceStyle = "MALE"
	VoiceFemale VoiceStyle = "FEMALE"
	VoiceYouth  VoiceStyle = "YOUTH"
	VoiceRobot  VoiceStyle = "ROBOT"
)

// ParseVoiceStyle maps user input onto a known voice style.
func ParseVoiceStyle(s string) (VoiceStyle, bool) {
	switch v := VoiceStyle(s); v {
	case VoiceMale, VoiceFemale, VoiceYouth, VoiceRobot:
		return v, true
	}
	return "", false
}

// UserSession is the persisted preference and session record for one sender.
type UserSession struct {
	Sender             string       `json:"-"`
	State              SessionState `json:"state"`
	LanguagePreference string       `json:"lang"`
	PendingStudentID   string       `json:"pendingStudentId,omitempty"`
	AuthenticatedID    string       `json:"authenticatedId,omitempty"`
	SessionExpiry      *time.Time   `json:"sessionExpiry,omitempty"`
	VoiceStyle         VoiceStyle   `json:"voiceStyle,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// NewUserSession returns the record created on the first message of an unseen sender.
func NewUserSession(sender string, initial SessionState, now time.Time) *UserSession {
	return &UserSession{
		Sender:             sender,
		State:              initial,
		LanguagePreference: DefaultLanguage,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Expired reports whether the session has an expiry that lies before now.
func (s *UserSession) Expired(now time.Time) bool {
	return s.SessionExpiry != nil && s.SessionExpiry.Before(now)
}

// Reset drops login data and moves the session back to the initial state.
// Language and voice preferences survive a reset.
func (s *UserSession) Reset(initial SessionState) {
	s.State = initial
	s.PendingStudentID = ""
	s.AuthenticatedID = ""
	s.SessionExpiry = nil
}

// SetPending records a student identifier awaiting its credential.
func (s *UserSession) SetPending(studentID string) {
	s.PendingStudentID = studentID
	s.AuthenticatedID = ""
	s.State = StateNeedPassword
}

// Authenticate promotes the pending identifier and sets the expiry.
func (s *UserSession) Authenticate(expiry time.Time) {
	s.AuthenticatedID = s.PendingStudentID
	s.PendingStudentID = ""
	s.SessionExpiry = &expiry
	s.State = StateLoggedIn
}

// Language returns the preferred answer language, falling back to the default.
func (s *UserSession) Language() string {
	if s.LanguagePreference == "" {
		return DefaultLanguage
	}
	return s.LanguagePreference
}

// NextMidnight returns the first midnight strictly after now in now's location.
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}
