// Package bus carries best-effort notifications to the surrounding
// application. Delivery is fire-and-forget: a slow or dead subscriber loses
// events rather than blocking the supervisor.
package bus

import (
	"log/slog"
	"sync"
)

type EventType string

const (
	QRIssued          EventType = "qr-issued"
	PairingCodeIssued EventType = "pairing-code-issued"
	Connected         EventType = "connected"
	Disconnected      EventType = "disconnected"
	AccountRemoved    EventType = "account-removed"
	CircuitOpened     EventType = "circuit-opened"
	CircuitClosed     EventType = "circuit-closed"
)

type Event struct {
	Type      EventType      `json:"type"`
	AccountID string         `json:"accountId"`
	Data      map[string]any `json:"data,omitempty"`
}

type Bus struct {
	mu   sync.RWMutex
	subs []chan Event
}

func New() *Bus {
	return &Bus{}
}

// Subscribe returns a buffered channel of events. The caller owns draining
// it; events are dropped when the buffer is full.
func (b *Bus) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	return ch
}

// Publish never blocks and never returns an error: notification failures
// must not affect core state.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("bus subscriber full, event dropped",
				"type", string(ev.Type), "account", ev.AccountID)
		}
	}
}
