// Package outbound composes the send path: rate limiter, circuit breaker,
// active connection. Whenever any stage disallows an immediate send the
// message is written to the durable queue instead of being dropped, and a
// later FlushQueue drains it in creation order.
package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AndreiStanca/account-supervisor/internal/breaker"
	"github.com/AndreiStanca/account-supervisor/internal/config"
	"github.com/AndreiStanca/account-supervisor/internal/metrics"
	"github.com/AndreiStanca/account-supervisor/internal/model"
	"github.com/AndreiStanca/account-supervisor/internal/provider"
	"github.com/AndreiStanca/account-supervisor/internal/ratelimit"
	"github.com/AndreiStanca/account-supervisor/internal/repo"
)

// ConnSource resolves the currently active session for an account. The
// supervisor's registry implements it; tests use a stub.
type ConnSource interface {
	ActiveConn(accountID string) (provider.Conn, bool)
}

// SendResult reports what happened to a single send request. Exactly one of
// AckID (delivered now) or Queued (deferred) is meaningful.
type SendResult struct {
	MessageID string
	AckID     string
	Queued    bool
	Reason    string
}

type Pipeline struct {
	cfg     config.OutboundConfig
	queue   repo.OutboundRepository
	limiter *ratelimit.Limiter
	breaker *breaker.Breaker
	conns   ConnSource

	mu       sync.Mutex
	flushing map[string]bool
}

func NewPipeline(
	cfg config.OutboundConfig,
	queue repo.OutboundRepository,
	limiter *ratelimit.Limiter,
	brk *breaker.Breaker,
	conns ConnSource,
) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		queue:    queue,
		limiter:  limiter,
		breaker:  brk,
		conns:    conns,
		flushing: make(map[string]bool),
	}
}

// Send tries to deliver immediately and falls back to the durable queue when
// the account is disconnected, rate-limited, or circuit-broken. A failed
// immediate attempt with a recoverable cause is queued too; only
// non-recoverable failures surface as errors.
func (p *Pipeline) Send(ctx context.Context, accountID, recipient, payload string, priority int) (SendResult, error) {
	msgID := uuid.NewString()

	conn, ok := p.conns.ActiveConn(accountID)
	if !ok {
		return p.deferToQueue(ctx, msgID, accountID, recipient, payload, priority, "account not connected")
	}

	if d := p.limiter.CanSendNow(accountID, recipient); !d.Allowed {
		return p.deferToQueue(ctx, msgID, accountID, recipient, payload, priority, d.Reason)
	}

	if d := p.breaker.CanExecute(accountID); !d.Allowed {
		return p.deferToQueue(ctx, msgID, accountID, recipient, payload, priority, d.Reason)
	}

	ackID, err := conn.SendText(ctx, recipient, payload)
	if err != nil {
		p.breaker.RecordFailure(accountID, err)
		p.noteRateLimit(accountID, err)

		if provider.IsRecoverable(err) {
			return p.deferToQueue(ctx, msgID, accountID, recipient, payload, priority, err.Error())
		}
		return SendResult{MessageID: msgID}, fmt.Errorf("send to %s: %w", recipient, err)
	}

	p.breaker.RecordSuccess(accountID)
	p.limiter.RecordMessage(accountID, recipient)
	metrics.IncMessagesSent()

	return SendResult{MessageID: msgID, AckID: ackID}, nil
}

func (p *Pipeline) deferToQueue(ctx context.Context, msgID, accountID, recipient, payload string, priority int, reason string) (SendResult, error) {
	msg := &model.OutboundMessage{
		ID:        msgID,
		AccountID: accountID,
		Recipient: recipient,
		Payload:   payload,
		Priority:  priority,
		Status:    model.Queued,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.queue.Enqueue(ctx, msg); err != nil {
		return SendResult{}, fmt.Errorf("enqueue message: %w", err)
	}

	metrics.IncMessagesQueued()
	slog.Info("outbound message queued",
		"account", accountID, "message", msgID, "reason", reason)

	return SendResult{MessageID: msgID, Queued: true, Reason: reason}, nil
}

func (p *Pipeline) noteRateLimit(accountID string, err error) {
	rl, ok := provider.AsRateLimit(err)
	if !ok {
		return
	}
	metrics.IncRateLimitHits()
	p.limiter.HandleRateLimit(accountID, ratelimit.Severity(rl.Severity))
}
