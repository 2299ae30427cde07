package domain

import (
	"errors"
	"time"
)

var (
	ErrSessionNotFound = errors.New("domain: session not found")
	ErrSessionBusy     = errors.New("domain: session has a request in flight")
	// ErrTurnSuperseded is returned when completing a turn that is no longer
	// the one in flight.
	ErrTurnSuperseded = errors.New("domain: turn is no longer in flight")
)

// Session is the in-memory conversation state of one browser tab.
// Pending marks the Sending state; LastError holds the transient error banner.
type Session struct {
	ID        string
	Profile   UserProfile
	Messages  []Message
	Pending   bool
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// StalePending reports whether the in-flight turn was last touched more than
// window before at. A zero window never expires.
func (s Session) StalePending(at time.Time, window time.Duration) bool {
	return s.Pending && window > 0 && at.Sub(s.UpdatedAt) >= window
}

// InFlight reports whether turn is the pending turn, i.e. the log still ends
// with that user message.
func (s Session) InFlight(turn int64) bool {
	if !s.Pending || len(s.Messages) == 0 {
		return false
	}
	last := s.Messages[len(s.Messages)-1]
	return last.ID == turn && last.Sender == SenderUser
}

// NextMessageID returns the id the next appended message receives.
func (s Session) NextMessageID() int64 {
	return int64(len(s.Messages)) + 1
}

// Append returns a copy of the log with msg appended.
func (s Session) Append(text string, sender Sender, at time.Time) []Message {
	out := make([]Message, len(s.Messages), len(s.Messages)+1)
	copy(out, s.Messages)
	return append(out, Message{
		ID:     s.NextMessageID(),
		Text:   text,
		Sender: sender,
		SentAt: at,
	})
}
