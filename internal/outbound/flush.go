package outbound

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AndreiStanca/account-supervisor/internal/metrics"
	"github.com/AndreiStanca/account-supervisor/internal/model"
	"github.com/AndreiStanca/account-supervisor/internal/provider"
)

// ErrFlushInProgress is returned when a flush for the account is already
// running. Callers retry later; overlapping flushes would break ordering.
var ErrFlushInProgress = errors.New("flush already in progress")

// FlushSummary reports the outcome of one queue drain.
type FlushSummary struct {
	Sent      int
	Failed    int
	Remaining int
}

// flushBatchSize bounds one ListQueued fetch. FlushQueue keeps fetching
// until the queue is drained, so the bound caps memory, not the drain.
const flushBatchSize = 100

// FlushQueue drains the durable queue for one account in creation order.
// At most one flush per account runs at a time. The drain stops early when
// the connection drops, the rate limiter disallows further sends, or a
// provider throttle is detected; remaining messages stay queued. Messages
// requeued during this drain wait for the next flush.
func (p *Pipeline) FlushQueue(ctx context.Context, accountID string) (FlushSummary, error) {
	if !p.tryLockFlush(accountID) {
		return FlushSummary{}, ErrFlushInProgress
	}
	defer p.unlockFlush(accountID)

	var sum FlushSummary
	attempted := make(map[string]struct{})

	for {
		msgs, err := p.queue.ListQueued(ctx, accountID, flushBatchSize)
		if err != nil {
			return sum, fmt.Errorf("list queued messages: %w", err)
		}

		// Drop messages this drain already attempted and requeued; picking
		// them up again would retry them in a tight loop.
		fresh := msgs[:0]
		for _, m := range msgs {
			if _, done := attempted[m.ID]; !done {
				fresh = append(fresh, m)
			}
		}
		if len(fresh) == 0 {
			return sum, nil
		}

		slog.Info("flushing outbound queue", "account", accountID, "pending", len(fresh))

		for i := range fresh {
			if err := ctx.Err(); err != nil {
				sum.Remaining += len(fresh) - i
				return sum, err
			}

			conn, ok := p.conns.ActiveConn(accountID)
			if !ok {
				sum.Remaining += len(fresh) - i
				return sum, nil
			}

			if d := p.limiter.CanSendNow(accountID, fresh[i].Recipient); !d.Allowed {
				slog.Info("flush paused by rate limiter",
					"account", accountID, "reason", d.Reason, "retryAfter", d.RetryAfter.String())
				sum.Remaining += len(fresh) - i
				return sum, nil
			}
			if d := p.breaker.CanExecute(accountID); !d.Allowed {
				slog.Info("flush paused by circuit breaker",
					"account", accountID, "reason", d.Reason)
				sum.Remaining += len(fresh) - i
				return sum, nil
			}

			attempted[fresh[i].ID] = struct{}{}
			stop, err := p.flushOne(ctx, conn, &fresh[i], &sum)
			if err != nil {
				sum.Remaining += len(fresh) - i
				return sum, err
			}
			if stop {
				sum.Remaining += len(fresh) - i - 1
				return sum, nil
			}

			if p.cfg.FlushPacing > 0 {
				select {
				case <-ctx.Done():
					sum.Remaining += len(fresh) - i - 1
					return sum, ctx.Err()
				case <-time.After(p.cfg.FlushPacing):
				}
			}
		}
	}
}

// flushOne attempts one queued message. A true stop return means the drain
// should halt with the remaining messages left queued.
func (p *Pipeline) flushOne(ctx context.Context, conn provider.Conn, msg *model.OutboundMessage, sum *FlushSummary) (stop bool, err error) {
	if err := p.queue.MarkSending(ctx, msg.ID); err != nil {
		return false, fmt.Errorf("mark sending %s: %w", msg.ID, err)
	}
	attempts := msg.AttemptCount + 1

	ackID, sendErr := conn.SendText(ctx, msg.Recipient, msg.Payload)
	if sendErr == nil {
		// The provider accepted the message; report the verdict even if
		// marking it sent fails, or a granted trial would never resolve.
		p.breaker.RecordSuccess(msg.AccountID)
		p.limiter.RecordMessage(msg.AccountID, msg.Recipient)
		metrics.IncMessagesSent()
		sum.Sent++
		if err := p.queue.MarkSent(ctx, msg.ID, ackID); err != nil {
			return false, fmt.Errorf("mark sent %s: %w", msg.ID, err)
		}
		return false, nil
	}

	p.breaker.RecordFailure(msg.AccountID, sendErr)
	p.noteRateLimit(msg.AccountID, sendErr)

	recoverable := provider.IsRecoverable(sendErr)
	if recoverable && attempts < p.cfg.AttemptCap {
		if err := p.queue.Requeue(ctx, msg.ID, sendErr.Error()); err != nil {
			return false, fmt.Errorf("requeue %s: %w", msg.ID, err)
		}
	} else {
		if err := p.queue.MarkFailed(ctx, msg.ID, sendErr.Error()); err != nil {
			return false, fmt.Errorf("mark failed %s: %w", msg.ID, err)
		}
		metrics.IncMessageLoss()
		sum.Failed++
		slog.Warn("queued message failed permanently",
			"account", msg.AccountID, "message", msg.ID,
			"attempts", attempts, "err", sendErr)
	}

	// A throttled or dead connection will reject the rest of the batch
	// too, so stop draining instead of burning attempts.
	if provider.IsRateLimit(sendErr) || !recoverable {
		return true, nil
	}
	return false, nil
}

func (p *Pipeline) tryLockFlush(accountID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.flushing[accountID] {
		return false
	}
	p.flushing[accountID] = true
	return true
}

func (p *Pipeline) unlockFlush(accountID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.flushing, accountID)
}
