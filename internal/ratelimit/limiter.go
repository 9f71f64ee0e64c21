// Package ratelimit enforces per-account and per-recipient send budgets.
// Budgets depend on the account's age tier: new accounts get a stricter
// allowance than established ones. When a send is disallowed the caller is
// expected to queue the message instead of dropping it.
package ratelimit

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AndreiStanca/account-supervisor/internal/config"
	"github.com/AndreiStanca/account-supervisor/internal/model"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Decision is the answer to CanSendNow.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration
}

type accountState struct {
	tier         model.AgeTier
	hourly       []time.Time
	daily        []time.Time
	lastSend     time.Time
	burst        *rate.Limiter
	recipients   map[string]*recipientState
	rateLimitHit int
	backoffUntil time.Time
}

type recipientState struct {
	hourly   []time.Time
	daily    []time.Time
	lastSend time.Time
}

type Limiter struct {
	cfg config.RateLimitConfig
	now func() time.Time

	mu       sync.Mutex
	accounts map[string]*accountState
}

func New(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		cfg:      cfg,
		now:      time.Now,
		accounts: make(map[string]*accountState),
	}
}

// SetClock overrides the time source. Test hook.
func (l *Limiter) SetClock(now func() time.Time) { l.now = now }

func (l *Limiter) budget(tier model.AgeTier) config.TierBudget {
	switch tier {
	case model.TierNew:
		return l.cfg.New
	case model.TierEstablished:
		return l.cfg.Established
	default:
		return l.cfg.Normal
	}
}

// Register sets up budget tracking for an account. Called when the account
// reaches Connected. Safe to call repeatedly; the tier is updated in place.
func (l *Limiter) Register(accountID string, tier model.AgeTier) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.accounts[accountID]
	if !ok {
		b := l.budget(tier)
		st = &accountState{
			tier:       tier,
			recipients: make(map[string]*recipientState),
		}
		if b.BurstSize > 0 {
			st.burst = rate.NewLimiter(rate.Every(b.BurstWindow/time.Duration(b.BurstSize)), b.BurstSize)
		}
		l.accounts[accountID] = st
		return
	}
	if st.tier != tier {
		st.tier = tier
		b := l.budget(tier)
		st.burst = nil
		if b.BurstSize > 0 {
			st.burst = rate.NewLimiter(rate.Every(b.BurstWindow/time.Duration(b.BurstSize)), b.BurstSize)
		}
	}
}

// Remove drops all tracking for a deleted account.
func (l *Limiter) Remove(accountID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.accounts, accountID)
}

// CanSendNow checks the account and recipient budgets without consuming
// them. Budget accounting happens in RecordMessage after a successful send.
func (l *Limiter) CanSendNow(accountID, recipient string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.accounts[accountID]
	if !ok {
		return Decision{Allowed: false, Reason: "account not registered"}
	}

	now := l.now()
	b := l.budget(st.tier)

	if st.backoffUntil.After(now) {
		return Decision{
			Allowed:    false,
			Reason:     "in backoff period",
			RetryAfter: st.backoffUntil.Sub(now),
		}
	}

	st.hourly = prune(st.hourly, now.Add(-time.Hour))
	st.daily = prune(st.daily, now.Add(-24*time.Hour))

	if len(st.hourly) >= b.PerHour {
		return Decision{
			Allowed:    false,
			Reason:     "hourly limit reached",
			RetryAfter: st.hourly[0].Add(time.Hour).Sub(now),
		}
	}
	if len(st.daily) >= b.PerDay {
		return Decision{
			Allowed:    false,
			Reason:     "daily limit reached",
			RetryAfter: st.daily[0].Add(24 * time.Hour).Sub(now),
		}
	}
	if st.burst != nil && st.burst.TokensAt(now) < 1 {
		return Decision{
			Allowed:    false,
			Reason:     "burst limit reached",
			RetryAfter: b.BurstWindow / time.Duration(max(b.BurstSize, 1)),
		}
	}
	if !st.lastSend.IsZero() {
		if since := now.Sub(st.lastSend); since < b.MinDelay {
			return Decision{
				Allowed:    false,
				Reason:     "minimum delay not met",
				RetryAfter: b.MinDelay - since,
			}
		}
	}

	if recipient != "" {
		if d := l.checkRecipientLocked(st, recipient, now); !d.Allowed {
			return d
		}
	}

	return Decision{Allowed: true}
}

func (l *Limiter) checkRecipientLocked(st *accountState, recipient string, now time.Time) Decision {
	rs, ok := st.recipients[recipient]
	if !ok {
		// First contact with this recipient, nothing to check yet.
		return Decision{Allowed: true}
	}

	rb := l.cfg.Recipient

	rs.hourly = prune(rs.hourly, now.Add(-time.Hour))
	rs.daily = prune(rs.daily, now.Add(-24*time.Hour))

	if len(rs.hourly) >= rb.PerHour {
		return Decision{
			Allowed:    false,
			Reason:     "recipient hourly limit reached",
			RetryAfter: rs.hourly[0].Add(time.Hour).Sub(now),
		}
	}
	if len(rs.daily) >= rb.PerDay {
		return Decision{
			Allowed:    false,
			Reason:     "recipient daily limit reached",
			RetryAfter: rs.daily[0].Add(24 * time.Hour).Sub(now),
		}
	}
	if !rs.lastSend.IsZero() {
		if since := now.Sub(rs.lastSend); since < rb.MinDelay {
			return Decision{
				Allowed:    false,
				Reason:     "recipient minimum delay not met",
				RetryAfter: rb.MinDelay - since,
			}
		}
	}
	return Decision{Allowed: true}
}

// RecordMessage updates budget accounting after a successful send.
func (l *Limiter) RecordMessage(accountID, recipient string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.accounts[accountID]
	if !ok {
		return
	}

	now := l.now()
	st.hourly = append(st.hourly, now)
	st.daily = append(st.daily, now)
	st.lastSend = now
	if st.burst != nil {
		st.burst.AllowN(now, 1)
	}

	if recipient == "" {
		return
	}
	rs, ok := st.recipients[recipient]
	if !ok {
		rs = &recipientState{}
		st.recipients[recipient] = rs
	}
	rs.hourly = append(rs.hourly, now)
	rs.daily = append(rs.daily, now)
	rs.lastSend = now
}

// HandleRateLimit reacts to a provider-side throttling signal by pausing
// optimistic sending. Repeated hits escalate the pause exponentially.
func (l *Limiter) HandleRateLimit(accountID string, severity Severity) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.accounts[accountID]
	if !ok {
		return 0
	}

	st.rateLimitHit++

	var backoff time.Duration
	switch severity {
	case SeverityLow:
		backoff = time.Minute
	case SeverityHigh:
		backoff = 30 * time.Minute
	default:
		backoff = 5 * time.Minute
	}
	backoff *= 1 << min(st.rateLimitHit-1, 5)

	st.backoffUntil = l.now().Add(backoff)
	slog.Warn("rate limit backoff engaged",
		"account", accountID, "severity", string(severity), "backoff", backoff.String())
	return backoff
}

// Backlogged reports whether the account is currently in a backoff pause.
func (l *Limiter) Backlogged(accountID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.accounts[accountID]
	if !ok {
		return false
	}
	return st.backoffUntil.After(l.now())
}

func prune(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
