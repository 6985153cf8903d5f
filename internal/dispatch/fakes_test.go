package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/studyrelay/internal/agent"
	"github.com/ashureev/studyrelay/internal/domain"
	"github.com/ashureev/studyrelay/internal/feed"
)

// memoryRepo is an in-memory store.Repository.
type memoryRepo struct {
	mu       sync.Mutex
	sessions map[string]domain.UserSession
	logs     []domain.QuestionLogEntry
	tests    map[string]domain.TestRecord

	getErr   error
	writeErr error
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sessions: make(map[string]domain.UserSession),
		tests:    make(map[string]domain.TestRecord),
	}
}

func (r *memoryRepo) GetSession(_ context.Context, sender string) (*domain.UserSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	s, ok := r.sessions[sender]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (r *memoryRepo) UpsertSession(_ context.Context, s *domain.UserSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.sessions[s.Sender] = *s
	return nil
}

func (r *memoryRepo) AppendQuestionLog(_ context.Context, e domain.QuestionLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.logs = append(r.logs, e)
	return nil
}

func (r *memoryRepo) CreateTest(_ context.Context, t domain.TestRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.tests[t.ID] = t
	return nil
}

func (r *memoryRepo) PruneQuestionLog(context.Context, time.Time) (int64, error) {
	return 0, errors.New("not implemented")
}

func (r *memoryRepo) Snapshot(context.Context) (*domain.Snapshot, error) {
	return nil, errors.New("not implemented")
}

func (r *memoryRepo) Ping(context.Context) error { return nil }
func (r *memoryRepo) Close() error               { return nil }

func (r *memoryRepo) session(sender string) (domain.UserSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sender]
	return s, ok
}

func (r *memoryRepo) put(s domain.UserSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.Sender] = s
}

func (r *memoryRepo) logCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.logs)
}

// sentMessage is one recorded outbound send.
type sentMessage struct {
	To      string
	Kind    string
	Body    string
	Caption string
}

// recordingGateway records every send.
type recordingGateway struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (g *recordingGateway) SendText(_ context.Context, to, body string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{To: to, Kind: "text", Body: body})
}

func (g *recordingGateway) SendImage(_ context.Context, to, imageURL, caption string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, sentMessage{To: to, Kind: "image", Body: imageURL, Caption: caption})
}

func (g *recordingGateway) messages() []sentMessage {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]sentMessage(nil), g.sent...)
}

func (g *recordingGateway) reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = nil
}

// askCall is one recorded answer engine call.
type askCall struct {
	Question string
	Language string
}

// scriptedEngine returns a fixed result and records calls.
type scriptedEngine struct {
	mu     sync.Mutex
	calls  []askCall
	result domain.AnswerResult
	block  chan struct{}
}

func (e *scriptedEngine) Ask(_ context.Context, question, language string) domain.AnswerResult {
	e.mu.Lock()
	e.calls = append(e.calls, askCall{Question: question, Language: language})
	block := e.block
	e.mu.Unlock()
	if block != nil {
		<-block
	}
	return e.result
}

func (e *scriptedEngine) recorded() []askCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]askCall(nil), e.calls...)
}

// recordingPublisher captures feed events.
type recordingPublisher struct {
	mu     sync.Mutex
	events []feed.Event
}

func (p *recordingPublisher) Publish(ev feed.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

// recordingTranscript captures conversation log events.
type recordingTranscript struct {
	mu     sync.Mutex
	events []agent.ConversationLogEvent
}

func (l *recordingTranscript) Log(ev agent.ConversationLogEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *recordingTranscript) Close() error { return nil }

func (l *recordingTranscript) recorded() []agent.ConversationLogEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]agent.ConversationLogEvent(nil), l.events...)
}
