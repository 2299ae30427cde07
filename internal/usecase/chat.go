package usecase

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"health-companion/internal/domain"
	"health-companion/internal/observability"
)

const (
	defaultMaxMessageLen = 2000
	completeTurnTimeout  = 10 * time.Second

	// WelcomeMessage opens every session.
	WelcomeMessage = "أهلاً وسهلاً بك! أنا رفيق صحتي. أخبرني، ما هو هدفك الصحي اليوم؟ هل ترغب في إنقاص وزنك، بناء العضلات، أم مجرد اعتماد أسلوب حياة أكثر صحة؟"
	// FallbackMessage is recorded as the assistant's reply when the provider call fails.
	FallbackMessage = "عذراً، حدث خطأ ما. يرجى المحاولة مرة أخرى."
)

// Advisor produces the assistant reply for one user turn.
type Advisor interface {
	Advise(ctx context.Context, profile domain.UserProfile, message string, history []domain.Message) (string, error)
}

// SessionStore keeps session state for the lifetime of a session. The store
// owns expiry. BeginTurn appends the user message and marks the session
// pending, failing with domain.ErrSessionBusy while a turn is outstanding;
// a pending turn that outlived the store's stale window is taken over.
// CompleteTurn appends the reply to the turn opened by the user message with
// id turn and clears the pending flag.
type SessionStore interface {
	Create(ctx context.Context, s domain.Session) error
	Get(ctx context.Context, id string) (domain.Session, error)
	BeginTurn(ctx context.Context, id, text string, at time.Time) (domain.Session, error)
	CompleteTurn(ctx context.Context, id string, turn int64, reply, failure string, at time.Time) (domain.Session, error)
}

type ChatService struct {
	advisor       Advisor
	store         SessionStore
	maxMessageLen int
	now           func() time.Time
}

type SendInput struct {
	SessionID string
	Text      string
}

type SendOutput struct {
	Session domain.Session
	Reply   domain.Message
	Failed  bool
}

func NewChatService(advisor Advisor, store SessionStore, maxMessageLen int) (*ChatService, error) {
	if advisor == nil {
		return nil, errors.New("usecase: advisor must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	if maxMessageLen <= 0 {
		maxMessageLen = defaultMaxMessageLen
	}
	return &ChatService{
		advisor:       advisor,
		store:         store,
		maxMessageLen: maxMessageLen,
		now:           time.Now,
	}, nil
}

// StartSession validates the submitted profile and opens a session with the
// welcome message. It is the only way out of the awaiting-profile state.
func (s *ChatService) StartSession(ctx context.Context, draft domain.ProfileDraft) (domain.Session, error) {
	profile, err := draft.Complete()
	if err != nil {
		return domain.Session{}, newError(ErrorValidationIncomplete, "profile_incomplete", err)
	}

	now := s.now().UTC()
	session := domain.Session{
		ID:        newUUID(),
		Profile:   profile,
		CreatedAt: now,
		UpdatedAt: now,
	}
	session.Messages = session.Append(WelcomeMessage, domain.SenderAI, now)

	log := observability.LoggerFromContext(ctx).With("session_id", session.ID)
	if err := s.store.Create(ctx, session); err != nil {
		log.Error("failed to create session", "error", err)
		return domain.Session{}, newError(ErrorInternal, "session_create_error", err)
	}
	log.Info("session started")
	return session, nil
}

func (s *ChatService) GetSession(ctx context.Context, id string) (domain.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	session, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Session{}, storeError(err, "session_read_error")
	}
	return session, nil
}

// SendMessage runs one turn: Idle → Sending → Idle. A provider failure is not
// returned as an error; it is recorded in the log as the fallback reply and
// flagged in the session's LastError.
func (s *ChatService) SendMessage(ctx context.Context, in SendInput) (SendOutput, error) {
	id := strings.TrimSpace(in.SessionID)
	if id == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	if strings.TrimSpace(in.Text) == "" {
		return SendOutput{}, newError(ErrorInvalidInput, "empty_message", nil)
	}
	if utf8.RuneCountInString(in.Text) > s.maxMessageLen {
		return SendOutput{}, newError(ErrorInvalidInput, "message_too_long", nil)
	}

	log := observability.LoggerFromContext(ctx).With("session_id", id)

	session, err := s.store.BeginTurn(ctx, id, in.Text, s.now().UTC())
	if err != nil {
		return SendOutput{}, storeError(err, "session_begin_turn_error")
	}
	log.Info("sending message", "length", utf8.RuneCountInString(in.Text))

	// The log now ends with the message being answered; only prior turns are history.
	turn := session.Messages[len(session.Messages)-1].ID
	prior := session.Messages[:len(session.Messages)-1]

	failure := ""
	reply, err := s.advisor.Advise(ctx, session.Profile, in.Text, prior)
	if err != nil {
		var usecaseErr *Error
		if errors.As(err, &usecaseErr) {
			log.Warn("advice failed", "code", usecaseErr.Code, "reason", usecaseErr.Reason)
		} else {
			log.Warn("advice failed", "error", err)
		}
		reply = FallbackMessage
		failure = FallbackMessage
	}

	// The turn must be closed even when the request context is already done,
	// otherwise the session stays pending.
	completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), completeTurnTimeout)
	defer cancel()
	session, err = s.store.CompleteTurn(completeCtx, id, turn, reply, failure, s.now().UTC())
	if err != nil {
		log.Error("failed to complete turn", "error", err)
		return SendOutput{}, storeError(err, "session_complete_turn_error")
	}
	log.Info("send message completed", "failed", failure != "")

	return SendOutput{
		Session: session,
		Reply:   session.Messages[len(session.Messages)-1],
		Failed:  failure != "",
	}, nil
}

func storeError(err error, reason string) *Error {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return newError(ErrorSessionNotFound, "session_not_found", err)
	case errors.Is(err, domain.ErrSessionBusy):
		return newError(ErrorSessionBusy, "request_in_flight", err)
	case errors.Is(err, domain.ErrTurnSuperseded):
		return newError(ErrorInternal, "turn_superseded", err)
	default:
		return newError(ErrorInternal, reason, err)
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
