// Package provider defines the adapter contract to the external messaging
// provider. The concrete transport lives outside this repository; the
// supervisor only depends on these interfaces and on the error taxonomy in
// errors.go.
package provider

import (
	"context"

	"github.com/AndreiStanca/account-supervisor/internal/model"
)

// Connector opens sessions against the messaging provider.
type Connector interface {
	// Connect starts a session for the account using previously persisted
	// credential material (nil for a fresh authentication handshake). The
	// returned Conn begins emitting events immediately.
	Connect(ctx context.Context, accountID string, creds []byte) (Conn, error)
}

// Conn is one live session handle. Events() is closed when the session
// terminates for good.
type Conn interface {
	Events() <-chan Event
	SendText(ctx context.Context, recipient, text string) (ackID string, err error)
	RequestPairingCode(ctx context.Context, phone string) (string, error)
	PresenceProbe(ctx context.Context) error
	Logout(ctx context.Context) error
	Close() error
}

type EventKind int

const (
	// EventAuthChallenge carries a scannable code; the session is waiting
	// for out-of-band authentication.
	EventAuthChallenge EventKind = iota
	// EventOpen signals the session is established and usable.
	EventOpen
	// EventClosed signals the session ended; Reason classifies it.
	EventClosed
	// EventCredsUpdated carries refreshed credential material to persist.
	EventCredsUpdated
	// EventMessage carries an inbound message.
	EventMessage
)

func (k EventKind) String() string {
	switch k {
	case EventAuthChallenge:
		return "auth_challenge"
	case EventOpen:
		return "open"
	case EventClosed:
		return "closed"
	case EventCredsUpdated:
		return "creds_updated"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind

	// QR is set for EventAuthChallenge.
	QR string
	// Phone is set for EventOpen when the provider reports the bound number.
	Phone string
	// Reason is set for EventClosed.
	Reason error
	// Creds is set for EventCredsUpdated.
	Creds []byte
	// Message is set for EventMessage.
	Message *model.InboundMessage
}
