package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"health-companion/internal/domain"
)

const (
	defaultTTL        = 24 * time.Hour
	defaultStaleAfter = 2 * time.Minute
)

// SessionStore keeps sessions in process memory. Expired sessions are dropped
// lazily on access.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]domain.Session
	ttl        time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

type Option func(*SessionStore)

// WithStaleTurnAfter lets BeginTurn take over a pending turn that has not
// been completed within d. Zero disables the takeover.
func WithStaleTurnAfter(d time.Duration) Option {
	return func(s *SessionStore) {
		s.staleAfter = d
	}
}

func NewSessionStore(ttl time.Duration, opts ...Option) *SessionStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	s := &SessionStore{
		sessions:   make(map[string]domain.Session),
		ttl:        ttl,
		staleAfter: defaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SessionStore) Create(_ context.Context, session domain.Session) error {
	if session.ID == "" {
		return errors.New("memory: session id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return errors.New("memory: session already exists")
	}
	session.Messages = append([]domain.Message(nil), session.Messages...)
	session.ExpiresAt = session.CreatedAt.Add(s.ttl)
	s.sessions[session.ID] = session
	return nil
}

func (s *SessionStore) Get(_ context.Context, id string) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.lookup(id)
	if err != nil {
		return domain.Session{}, err
	}
	return clone(session), nil
}

func (s *SessionStore) BeginTurn(_ context.Context, id, text string, at time.Time) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.lookup(id)
	if err != nil {
		return domain.Session{}, err
	}
	if session.Pending && !session.StalePending(at, s.staleAfter) {
		return domain.Session{}, domain.ErrSessionBusy
	}

	session.Messages = session.Append(text, domain.SenderUser, at)
	session.Pending = true
	session.LastError = ""
	s.touch(&session, at)
	s.sessions[id] = session
	return clone(session), nil
}

func (s *SessionStore) CompleteTurn(_ context.Context, id string, turn int64, reply, failure string, at time.Time) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.lookup(id)
	if err != nil {
		return domain.Session{}, err
	}
	if !session.InFlight(turn) {
		return domain.Session{}, domain.ErrTurnSuperseded
	}

	session.Messages = session.Append(reply, domain.SenderAI, at)
	session.Pending = false
	session.LastError = failure
	s.touch(&session, at)
	s.sessions[id] = session
	return clone(session), nil
}

// Len reports the number of live sessions.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id, session := range s.sessions {
		if now.After(session.ExpiresAt) {
			delete(s.sessions, id)
			continue
		}
		n++
	}
	return n
}

// lookup must be called with mu held.
func (s *SessionStore) lookup(id string) (domain.Session, error) {
	session, ok := s.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if s.now().After(session.ExpiresAt) {
		delete(s.sessions, id)
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *SessionStore) touch(session *domain.Session, at time.Time) {
	session.UpdatedAt = at
	session.ExpiresAt = at.Add(s.ttl)
}

func clone(session domain.Session) domain.Session {
	session.Messages = append([]domain.Message(nil), session.Messages...)
	return session
}
