package domain

import "time"

type Sender string

const (
	SenderUser Sender = "user"
	SenderAI   Sender = "ai"
)

// Message is a single entry of a session's append-only message log.
// ID is the 1-based position in the log.
type Message struct {
	ID     int64
	Text   string
	Sender Sender
	SentAt time.Time
}
