package model

import "time"

type Status string

const (
	Queued  Status = "queued"
	Sending Status = "sending"
	Sent    Status = "sent"
	Failed  Status = "failed"
)

// OutboundMessage is a send that was deferred because the account was
// rate-limited or disconnected. It always ends in exactly one terminal
// state (sent or failed).
type OutboundMessage struct {
	ID            string
	AccountID     string
	Recipient     string
	Payload       string
	Priority      int
	Status        Status
	AttemptCount  int
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	SentAt        *time.Time
	LastError     *string
}

// InboundMessage is a message received from the provider, keyed for
// deduplication by (AccountID, ChatID, MessageID).
type InboundMessage struct {
	AccountID   string
	ChatID      string
	MessageID   string
	Body        string
	ContactName string
	FromMe      bool
	HasMedia    bool
	Timestamp   time.Time
}
