package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Millis is a time encoded in JSON as Unix epoch milliseconds, the format of
// existing db.json documents. Decoding also accepts RFC 3339 strings and null.
type Millis struct {
	time.Time
}

// MarshalJSON encodes the time as epoch milliseconds, or null when zero.
func (m Millis) MarshalJSON() ([]byte, error) {
	if m.IsZero() {
		return []byte("null"), nil
	}
	return strconv.AppendInt(nil, m.UnixMilli(), 10), nil
}

// UnmarshalJSON decodes epoch milliseconds, an RFC 3339 string or null.
func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		m.Time = time.Time{}
		return nil
	case data[0] == '"':
		var t time.Time
		if err := json.Unmarshal(data, &t); err != nil {
			return fmt.Errorf("parse timestamp %s: %w", data, err)
		}
		m.Time = t
		return nil
	}

	if ms, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		m.Time = time.UnixMilli(ms)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("parse timestamp %s: not epoch milliseconds", data)
	}
	m.Time = time.UnixMilli(int64(f))
	return nil
}

func millisPtr(t *time.Time) *Millis {
	if t == nil {
		return nil
	}
	return &Millis{Time: *t}
}

func (m *Millis) timePtr() *time.Time {
	if m == nil || m.IsZero() {
		return nil
	}
	t := m.Time
	return &t
}

// MarshalJSON writes the session with epoch-millisecond timestamps.
func (s UserSession) MarshalJSON() ([]byte, error) {
	type plain UserSession
	return json.Marshal(struct {
		plain
		SessionExpiry *Millis `json:"sessionExpiry,omitempty"`
		CreatedAt     Millis  `json:"createdAt"`
		UpdatedAt     Millis  `json:"updatedAt"`
	}{
		plain:         plain(s),
		SessionExpiry: millisPtr(s.SessionExpiry),
		CreatedAt:     Millis{s.CreatedAt},
		UpdatedAt:     Millis{s.UpdatedAt},
	})
}

// UnmarshalJSON reads a session record. Legacy records carry only lang and
// createdAt; the remaining fields keep their zero values.
func (s *UserSession) UnmarshalJSON(data []byte) error {
	type plain UserSession
	aux := struct {
		*plain
		SessionExpiry *Millis `json:"sessionExpiry,omitempty"`
		CreatedAt     Millis  `json:"createdAt"`
		UpdatedAt     Millis  `json:"updatedAt"`
	}{plain: (*plain)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	s.SessionExpiry = aux.SessionExpiry.timePtr()
	s.CreatedAt = aux.CreatedAt.Time
	s.UpdatedAt = aux.UpdatedAt.Time
	return nil
}

// MarshalJSON writes the entry with an epoch-millisecond time.
func (e QuestionLogEntry) MarshalJSON() ([]byte, error) {
	type plain QuestionLogEntry
	return json.Marshal(struct {
		plain
		Timestamp Millis `json:"time"`
	}{plain: plain(e), Timestamp: Millis{e.Timestamp}})
}

// UnmarshalJSON reads a log entry written by either encoding.
func (e *QuestionLogEntry) UnmarshalJSON(data []byte) error {
	type plain QuestionLogEntry
	aux := struct {
		*plain
		Timestamp Millis `json:"time"`
	}{plain: (*plain)(e)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Timestamp = aux.Timestamp.Time
	return nil
}

// MarshalJSON writes the test record with an epoch-millisecond createdAt.
func (t TestRecord) MarshalJSON() ([]byte, error) {
	type plain TestRecord
	return json.Marshal(struct {
		plain
		CreatedAt Millis `json:"createdAt"`
	}{plain: plain(t), CreatedAt: Millis{t.CreatedAt}})
}

// UnmarshalJSON reads a test record written by either encoding.
func (t *TestRecord) UnmarshalJSON(data []byte) error {
	type plain TestRecord
	aux := struct {
		*plain
		CreatedAt Millis `json:"createdAt"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.CreatedAt = aux.CreatedAt.Time
	return nil
}
