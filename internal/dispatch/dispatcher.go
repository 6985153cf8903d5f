// Package dispatch routes inbound chat events through commands, the login
// state machine and the answer engine, then fans answers out to the sender.
package dispatch

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/studyrelay/internal/agent"
	"github.com/ashureev/studyrelay/internal/domain"
	"github.com/ashureev/studyrelay/internal/feed"
	"github.com/ashureev/studyrelay/internal/identity"
	"github.com/ashureev/studyrelay/internal/store"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// DefaultChunkSize is the maximum rune count of one detailed-answer message.
	DefaultChunkSize = 1500

	testIDLength = 6
)

// Gateway sends outbound messages. Sends are best-effort.
type Gateway interface {
	SendText(ctx context.Context, to, body string)
	SendImage(ctx context.Context, to, imageURL, caption string)
}

// AnswerEngine answers study questions. It never fails outward.
type AnswerEngine interface {
	Ask(ctx context.Context, question, language string) domain.AnswerResult
}

// Config controls dispatcher behavior.
type Config struct {
	LoginRequired bool
	ChunkSize     int
	Location      *time.Location
	RatePerMinute int
}

// Dispatcher is the relay core. Deliveries for the same sender are
// serialized; different senders are handled in parallel.
type Dispatcher struct {
	repo    store.Repository
	gateway Gateway
	engine  AnswerEngine
	auth    Authenticator
	events  feed.Publisher
	convLog agent.ConversationLogger
	cfg     Config

	locks   *keyedMutex
	limiter *senderLimiter

	now       func() time.Time
	newLogID  func() string
	newTestID func() (string, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithAuthenticator replaces the default AcceptAll authenticator.
func WithAuthenticator(a Authenticator) Option {
	return func(d *Dispatcher) { d.auth = a }
}

// WithPublisher sets the activity feed publisher.
func WithPublisher(p feed.Publisher) Option {
	return func(d *Dispatcher) { d.events = p }
}

// WithConversationLogger sets the transcript logger.
func WithConversationLogger(l agent.ConversationLogger) Option {
	return func(d *Dispatcher) { d.convLog = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

// WithTestIDGenerator overrides weekly test id generation.
func WithTestIDGenerator(gen func() (string, error)) Option {
	return func(d *Dispatcher) { d.newTestID = gen }
}

// New creates a dispatcher.
func New(repo store.Repository, gateway Gateway, engine AnswerEngine, cfg Config, opts ...Option) *Dispatcher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	d := &Dispatcher{
		repo:      repo,
		gateway:   gateway,
		engine:    engine,
		auth:      AcceptAll{},
		events:    feed.Discard,
		convLog:   agent.NewNoopConversationLogger(),
		cfg:       cfg,
		locks:     newKeyedMutex(),
		limiter:   newSenderLimiter(cfg.RatePerMinute),
		now:       time.Now,
		newLogID:  uuid.NewString,
		newTestID: newNanoID,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func newNanoID() (string, error) {
	return gonanoid.New(testIDLength)
}

func (d *Dispatcher) initialState() domain.SessionState {
	if d.cfg.LoginRequired {
		return domain.StateNeedID
	}
	return domain.StateAnswering
}

// Dispatch handles one inbound event end to end. Failures are logged and
// never returned: the webhook acknowledgment does not depend on them.
func (d *Dispatcher) Dispatch(ctx context.Context, ev domain.InboundEvent) {
	unlock := d.locks.Lock(ev.Sender)
	defer unlock()

	deliveryID := identity.DeliveryIDFromContext(ctx)
	now := d.now()
	session := d.loadSession(ctx, ev.Sender, now)

	slog.Info("Inbound message",
		"sender", identity.Mask(ev.Sender),
		"delivery_id", deliveryID,
		"state", session.State,
		"text", preview(ev.Text))
	// Message content stays out of the operator feed.
	d.publish(feed.EventInbound, session, "")

	before := session.State
	switch session.State {
	case domain.StateNeedID:
		d.handleNeedID(ctx, session, ev.Text)
	case domain.StateNeedPassword:
		d.handleNeedPassword(ctx, session, ev.Text, now)
	case domain.StateChangingTeacher:
		d.handleChangingTeacher(ctx, session, ev.Text)
	default:
		d.handleAnswering(ctx, session, ev.Text, now)
	}
	if session.State != before {
		slog.Info("Session state changed",
			"sender", identity.Mask(ev.Sender),
			"delivery_id", deliveryID,
			"from", before,
			"to", session.State)
		d.publish(feed.EventTransition, session, string(before)+" -> "+string(session.State))
	}

	session.UpdatedAt = now
	if err := d.repo.UpsertSession(ctx, session); err != nil {
		slog.Error("Failed to persist session",
			"sender", identity.Mask(ev.Sender),
			"delivery_id", deliveryID,
			"error", err)
	}
}

// loadSession returns the stored session, a fresh one for unseen senders, or
// a fresh one when the store cannot be read. Sessions are mapped onto the
// configured login mode and reset when their expiry has passed.
func (d *Dispatcher) loadSession(ctx context.Context, sender string, now time.Time) *domain.UserSession {
	session, err := d.repo.GetSession(ctx, sender)
	if err != nil {
		slog.Error("Failed to load session, treating sender as new", "sender", identity.Mask(sender), "error", err)
		session = nil
	}
	if session == nil {
		return domain.NewUserSession(sender, d.initialState(), now)
	}
	session.Sender = sender

	switch session.State {
	case domain.StateNeedID, domain.StateNeedPassword, domain.StateLoggedIn, domain.StateChangingTeacher:
		if !d.cfg.LoginRequired {
			session.Reset(domain.StateAnswering)
		}
	case domain.StateAnswering:
		if d.cfg.LoginRequired {
			session.Reset(domain.StateNeedID)
		}
	default:
		session.Reset(d.initialState())
	}

	if session.Expired(now) {
		slog.Info("Session expired, resetting", "sender", identity.Mask(sender), "expiry", session.SessionExpiry)
		session.Reset(d.initialState())
	}
	return session
}

func (d *Dispatcher) handleNeedID(ctx context.Context, s *domain.UserSession, text string) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || isGreeting(strings.ToLower(trimmed)) {
		d.reply(ctx, s, msgWelcome)
		return
	}
	s.SetPending(trimmed)
	d.reply(ctx, s, msgAskPassword)
}

func (d *Dispatcher) handleNeedPassword(ctx context.Context, s *domain.UserSession, text string, now time.Time) {
	ok, err := d.auth.Verify(ctx, s.PendingStudentID, strings.TrimSpace(text))
	if err != nil {
		slog.Error("Authenticator failed", "sender", identity.Mask(s.Sender), "error", err)
		d.reply(ctx, s, msgLoginUnavailable)
		return
	}
	if !ok {
		s.Reset(domain.StateNeedID)
		d.reply(ctx, s, msgLoginFailed)
		return
	}

	s.Authenticate(domain.NextMidnight(now.In(d.cfg.Location)))
	d.reply(ctx, s, msgLoggedIn(s.AuthenticatedID))
}

func (d *Dispatcher) handleChangingTeacher(ctx context.Context, s *domain.UserSession, text string) {
	voice, ok := domain.ParseVoiceStyle(strings.ToUpper(strings.TrimSpace(text)))
	if !ok {
		d.reply(ctx, s, msgTeacherInvalid)
		return
	}
	s.VoiceStyle = voice
	s.State = domain.StateLoggedIn
	d.reply(ctx, s, msgTeacherChanged(voice))
}

func (d *Dispatcher) handleAnswering(ctx context.Context, s *domain.UserSession, text string, now time.Time) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		slog.Debug("Ignoring empty message", "sender", identity.Mask(s.Sender))
		return
	}
	if d.runCommand(ctx, s, trimmed, now) {
		return
	}
	if s.State == domain.StateLoggedIn && d.runKeyword(ctx, s, trimmed) {
		return
	}
	d.answer(ctx, s, trimmed, now)
}

// runCommand executes set language, help and weekly test. It reports whether
// text was a command.
func (d *Dispatcher) runCommand(ctx context.Context, s *domain.UserSession, text string, now time.Time) bool {
	lc := strings.ToLower(text)

	if lang, ok := parseSetLanguage(text); ok {
		s.LanguagePreference = lang
		d.publish(feed.EventCommand, s, cmdSetLanguage+" "+lang)
		d.reply(ctx, s, msgLanguageSet(lang))
		return true
	}

	if isHelp(lc) {
		d.publish(feed.EventCommand, s, lc)
		if s.State == domain.StateLoggedIn {
			d.reply(ctx, s, menuLoggedIn)
		} else {
			d.reply(ctx, s, menuBase)
		}
		return true
	}

	if strings.Contains(lc, cmdWeeklyTest) {
		d.publish(feed.EventCommand, s, cmdWeeklyTest)
		d.createWeeklyTest(ctx, s, now)
		return true
	}
	return false
}

func (d *Dispatcher) createWeeklyTest(ctx context.Context, s *domain.UserSession, now time.Time) {
	id, err := d.newTestID()
	if err != nil {
		slog.Error("Failed to generate test id", "sender", identity.Mask(s.Sender), "error", err)
		d.reply(ctx, s, msgTestFailed)
		return
	}
	test := domain.TestRecord{
		ID:        id,
		Sender:    s.Sender,
		CreatedAt: now,
		Status:    domain.TestStatusCreated,
	}
	if err := d.repo.CreateTest(ctx, test); err != nil {
		slog.Error("Failed to persist weekly test", "sender", identity.Mask(s.Sender), "test_id", id, "error", err)
	}
	d.reply(ctx, s, msgTestCreated(id))
}

// runKeyword handles the LOGGED_IN menu keywords.
func (d *Dispatcher) runKeyword(ctx context.Context, s *domain.UserSession, text string) bool {
	upper := strings.ToUpper(text)
	if upper == cmdChangeTeacher {
		s.State = domain.StateChangingTeacher
		d.reply(ctx, s, msgTeacherMenu)
		return true
	}
	if fn, ok := keywordReplies[upper]; ok {
		d.publish(feed.EventCommand, s, upper)
		d.reply(ctx, s, fn(s))
		return true
	}
	return false
}

func (d *Dispatcher) answer(ctx context.Context, s *domain.UserSession, question string, now time.Time) {
	if !d.limiter.Allow(s.Sender, now) {
		slog.Warn("Question rate limited", "sender", identity.Mask(s.Sender))
		d.publish(feed.EventRateLimited, s, "")
		d.reply(ctx, s, msgRateLimited)
		return
	}

	d.transcript(ctx, s, now, "inbound", "question", question)
	result := d.engine.Ask(ctx, question, s.Language())
	if result.IsEmpty() {
		slog.Warn("Answer engine returned no content",
			"sender", identity.Mask(s.Sender),
			"delivery_id", identity.DeliveryIDFromContext(ctx))
		d.publish(feed.EventAnswer, s, "empty")
	} else {
		d.fanOut(ctx, s, result)
		d.transcript(ctx, s, now, "outbound", "answer", result.ShortAnswer+"\n\n"+result.DetailedAnswer)
		d.publish(feed.EventAnswer, s, preview(result.ShortAnswer))
	}

	entry := domain.QuestionLogEntry{
		ID:           d.newLogID(),
		Sender:       s.Sender,
		QuestionText: question,
		Timestamp:    now,
	}
	if err := d.repo.AppendQuestionLog(ctx, entry); err != nil {
		slog.Error("Failed to append question log", "sender", identity.Mask(s.Sender), "error", err)
	}
}

// fanOut sends the short answer, the detailed answer in chunks, the diagram
// and the video list, in that order. Empty parts are skipped.
func (d *Dispatcher) fanOut(ctx context.Context, s *domain.UserSession, result domain.AnswerResult) {
	if strings.TrimSpace(result.ShortAnswer) != "" {
		d.gateway.SendText(ctx, s.Sender, shortAnswerPrefix+result.ShortAnswer)
	}
	if strings.TrimSpace(result.DetailedAnswer) != "" {
		for _, chunk := range chunkRunes(result.DetailedAnswer, d.cfg.ChunkSize) {
			d.gateway.SendText(ctx, s.Sender, chunk)
		}
	}
	if result.DiagramSource != "" {
		d.gateway.SendImage(ctx, s.Sender, mermaidRenderURL+url.PathEscape(result.DiagramSource), diagramCaption)
	}
	if len(result.VideoLinks) > 0 {
		d.gateway.SendText(ctx, s.Sender, formatVideos(result.VideoLinks))
	}
}

func (d *Dispatcher) reply(ctx context.Context, s *domain.UserSession, text string) {
	d.gateway.SendText(ctx, s.Sender, text)
}

func (d *Dispatcher) publish(eventType string, s *domain.UserSession, detail string) {
	d.events.Publish(feed.Event{
		Type:   eventType,
		Sender: identity.Mask(s.Sender),
		State:  string(s.State),
		Detail: detail,
	})
}

func (d *Dispatcher) transcript(ctx context.Context, s *domain.UserSession, now time.Time, direction, eventType, content string) {
	d.convLog.Log(agent.ConversationLogEvent{
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
		UserID:     s.Sender,
		SessionID:  now.In(d.cfg.Location).Format("2006-01-02"),
		Channel:    "whatsapp",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: content,
		Meta: map[string]any{
			"lang":        s.Language(),
			"state":       string(s.State),
			"delivery_id": identity.DeliveryIDFromContext(ctx),
		},
	})
}
