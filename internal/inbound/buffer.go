// Package inbound buffers provider messages and commits them downstream in
// batches. Duplicates are filtered before buffering so a provider redelivery
// never reaches the sink twice.
package inbound

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/AndreiStanca/account-supervisor/internal/cache"
	"github.com/AndreiStanca/account-supervisor/internal/config"
	"github.com/AndreiStanca/account-supervisor/internal/metrics"
	"github.com/AndreiStanca/account-supervisor/internal/model"
)

// Sink receives committed batches. A non-nil error means the whole batch
// failed and will be retried on the next flush.
type Sink interface {
	CommitBatch(ctx context.Context, batch []model.InboundMessage) error
}

type Buffer struct {
	cfg   config.InboundConfig
	dedup cache.DedupCache
	sink  Sink

	mu      sync.Mutex
	pending []model.InboundMessage

	flushCh chan struct{}
}

func NewBuffer(cfg config.InboundConfig, dedup cache.DedupCache, sink Sink) *Buffer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.PendingCap < cfg.BatchSize {
		cfg.PendingCap = 1000
	}
	return &Buffer{
		cfg:     cfg,
		dedup:   dedup,
		sink:    sink,
		flushCh: make(chan struct{}, 1),
	}
}

// Run drives timed flushes until ctx is cancelled, then performs one final
// drain so buffered messages are not lost on shutdown.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			drain := context.WithoutCancel(ctx)
			for b.Pending() > 0 {
				before := b.Pending()
				b.Flush(drain)
				if b.Pending() >= before {
					// Sink is failing; give up rather than spin.
					return
				}
			}
			return
		case <-ticker.C:
			b.Flush(ctx)
		case <-b.flushCh:
			b.Flush(ctx)
			ticker.Reset(b.cfg.FlushInterval)
		}
	}
}

// Add accepts one message. Duplicates are dropped silently. When the buffer
// reaches the batch size an asynchronous flush is triggered; when the
// pending cap is exceeded the oldest message is dropped and counted as loss.
func (b *Buffer) Add(ctx context.Context, msg model.InboundMessage) error {
	seen, err := b.dedup.Seen(ctx, msg.AccountID, msg.ChatID, msg.MessageID)
	if err != nil {
		// Dedup backend down: accept the message rather than lose it.
		slog.Warn("dedup check failed, accepting message",
			"account", msg.AccountID, "err", err)
	} else if seen {
		return nil
	}

	b.mu.Lock()
	b.pending = append(b.pending, msg)
	if len(b.pending) > b.cfg.PendingCap {
		dropped := len(b.pending) - b.cfg.PendingCap
		b.pending = b.pending[dropped:]
		for i := 0; i < dropped; i++ {
			metrics.IncMessageLoss()
		}
		slog.Error("inbound buffer overflow, oldest messages dropped",
			"account", msg.AccountID, "dropped", dropped)
	}
	full := len(b.pending) >= b.cfg.BatchSize
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush commits up to one batch. On sink failure the batch is put back at
// the front of the buffer so ordering is preserved for the retry.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	n := min(len(b.pending), b.cfg.BatchSize)
	batch := make([]model.InboundMessage, n)
	copy(batch, b.pending[:n])
	b.pending = b.pending[n:]
	b.mu.Unlock()

	if err := b.sink.CommitBatch(ctx, batch); err != nil {
		slog.Error("inbound batch commit failed, retrying next flush",
			"size", len(batch), "err", err)
		b.mu.Lock()
		b.pending = append(batch, b.pending...)
		b.mu.Unlock()
		return
	}

	for range batch {
		metrics.IncMessagesProcessed()
	}
	slog.Debug("inbound batch committed", "size", len(batch))
}

// Pending reports the current buffer depth.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
