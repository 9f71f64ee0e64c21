// Package breaker implements a per-account circuit breaker gating outbound
// sends. Circuit state is independent of connection state: a circuit can be
// open while the session itself is healthy (provider-side throttling).
package breaker

import (
	"log/slog"
	"sync"
	"time"
)

type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half_open"
)

type Config struct {
	// FailureThreshold failures inside Window open the circuit.
	FailureThreshold int
	Window           time.Duration
	// Cooldown is how long an open circuit rejects sends before allowing
	// a half-open trial.
	Cooldown time.Duration
}

// Decision is the answer to CanExecute.
type Decision struct {
	Allowed    bool
	State      State
	Reason     string
	RetryAfter time.Duration
}

// Notifier receives state-change notifications. Implementations must not
// block; failures must never affect circuit state.
type Notifier interface {
	CircuitOpened(accountID string, failures int, lastErr error)
	CircuitClosed(accountID string)
}

type circuit struct {
	state         State
	failures      []failure
	openedAt      time.Time
	trialInFlight bool
	// trialStartedAt bounds how long an unresolved trial can hold the
	// half-open slot. A caller that was granted the trial but crashed
	// before reporting a verdict must not wedge the circuit.
	trialStartedAt time.Time
	lastErr        error
}

type failure struct {
	at  time.Time
	err error
}

type Breaker struct {
	cfg      Config
	notifier Notifier
	now      func() time.Time

	mu       sync.Mutex
	circuits map[string]*circuit
}

func New(cfg Config, notifier Notifier) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	return &Breaker{
		cfg:      cfg,
		notifier: notifier,
		now:      time.Now,
		circuits: make(map[string]*circuit),
	}
}

// SetClock overrides the time source. Test hook.
func (b *Breaker) SetClock(now func() time.Time) { b.now = now }

// SetNotifier installs the state-change listener. Wiring hook for the
// startup phase where the breaker exists before its consumers do.
func (b *Breaker) SetNotifier(n Notifier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notifier = n
}

func (b *Breaker) get(accountID string) *circuit {
	c, ok := b.circuits[accountID]
	if !ok {
		c = &circuit{state: Closed}
		b.circuits[accountID] = c
	}
	return c
}

// CanExecute is consulted before every outbound send attempt.
func (b *Breaker) CanExecute(accountID string) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	c := b.get(accountID)
	now := b.now()

	switch c.state {
	case Closed:
		return Decision{Allowed: true, State: Closed}

	case Open:
		elapsed := now.Sub(c.openedAt)
		if elapsed < b.cfg.Cooldown {
			return Decision{
				Allowed:    false,
				State:      Open,
				Reason:     "circuit open",
				RetryAfter: b.cfg.Cooldown - elapsed,
			}
		}
		c.state = HalfOpen
		c.trialInFlight = true
		c.trialStartedAt = now
		slog.Info("circuit half-open, allowing trial send", "account", accountID)
		return Decision{Allowed: true, State: HalfOpen}

	case HalfOpen:
		// A single trial send at a time; everyone else waits for its verdict.
		if c.trialInFlight {
			held := now.Sub(c.trialStartedAt)
			if held < b.cfg.Cooldown {
				return Decision{
					Allowed:    false,
					State:      HalfOpen,
					Reason:     "trial send in flight",
					RetryAfter: b.cfg.Cooldown - held,
				}
			}
			// The trial never reported back; hand the slot to this caller.
			slog.Warn("circuit trial unresolved past cooldown, re-arming",
				"account", accountID)
		}
		c.trialInFlight = true
		c.trialStartedAt = now
		return Decision{Allowed: true, State: HalfOpen}

	default:
		return Decision{Allowed: true, State: c.state}
	}
}

func (b *Breaker) RecordSuccess(accountID string) {
	var closed bool

	b.mu.Lock()
	c := b.get(accountID)
	switch c.state {
	case HalfOpen:
		c.state = Closed
		c.failures = nil
		c.trialInFlight = false
		c.lastErr = nil
		closed = true
	case Closed:
		c.failures = nil
	}
	notifier := b.notifier
	b.mu.Unlock()

	if closed && notifier != nil {
		notifier.CircuitClosed(accountID)
	}
}

func (b *Breaker) RecordFailure(accountID string, err error) {
	var (
		opened   bool
		failures int
	)

	b.mu.Lock()
	c := b.get(accountID)
	now := b.now()
	c.lastErr = err
	c.failures = append(c.failures, failure{at: now, err: err})
	c.pruneLocked(now, b.cfg.Window)

	switch c.state {
	case Closed:
		if len(c.failures) >= b.cfg.FailureThreshold {
			c.state = Open
			c.openedAt = now
			opened = true
			failures = len(c.failures)
		}
	case HalfOpen:
		// Trial failed: back to open, cooldown restarts.
		c.state = Open
		c.openedAt = now
		c.trialInFlight = false
		opened = true
		failures = len(c.failures)
	}
	notifier := b.notifier
	b.mu.Unlock()

	if opened {
		slog.Warn("circuit opened", "account", accountID, "failures", failures, "err", err)
		if notifier != nil {
			notifier.CircuitOpened(accountID, failures, err)
		}
	}
}

// State reports the current circuit state without side effects.
func (b *Breaker) State(accountID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.get(accountID).state
}

// Remove drops circuit state for a deleted account.
func (b *Breaker) Remove(accountID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.circuits, accountID)
}

func (c *circuit) pruneLocked(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	kept := c.failures[:0]
	for _, f := range c.failures {
		if f.at.After(cutoff) {
			kept = append(kept, f)
		}
	}
	c.failures = kept
}
