package provider

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"
)

// MemoryConnector is an in-process provider for local development. Fresh
// accounts get an authentication challenge that self-resolves after a short
// delay; restored accounts open directly.
type MemoryConnector struct {
	// OpenDelay is the simulated handshake latency.
	OpenDelay time.Duration
}

func (c *MemoryConnector) Connect(ctx context.Context, accountID string, creds []byte) (Conn, error) {
	delay := c.OpenDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}

	mc := &memoryConn{
		accountID: accountID,
		events:    make(chan Event, 32),
	}

	go func() {
		if len(creds) == 0 {
			mc.emit(Event{Kind: EventAuthChallenge, QR: randomToken()})
			select {
			case <-time.After(2 * delay):
			case <-mc.closedCh():
				return
			}
			mc.emit(Event{Kind: EventCredsUpdated, Creds: []byte(randomToken())})
		}
		select {
		case <-time.After(delay):
		case <-mc.closedCh():
			return
		}
		mc.emit(Event{Kind: EventOpen})
	}()

	return mc, nil
}

type memoryConn struct {
	accountID string

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	events chan Event
}

func (c *memoryConn) closedCh() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		c.done = make(chan struct{})
	}
	return c.done
}

func (c *memoryConn) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}

func (c *memoryConn) Events() <-chan Event { return c.events }

func (c *memoryConn) SendText(ctx context.Context, recipient, text string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", &TransientError{Err: errors.New("connection closed")}
	}
	return randomToken(), nil
}

func (c *memoryConn) RequestPairingCode(ctx context.Context, phone string) (string, error) {
	return randomToken()[:8], nil
}

func (c *memoryConn) PresenceProbe(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return &TransientError{Err: errors.New("connection closed")}
	}
	return nil
}

func (c *memoryConn) Logout(ctx context.Context) error { return c.Close() }

func (c *memoryConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.done != nil {
		close(c.done)
	}
	close(c.events)
	return nil
}

func randomToken() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
