package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs a named periodic task. The interval can be adjusted while
// running, which is how adaptive keep-alive cadences are driven.
type Scheduler struct {
	name   string
	tickFn func(context.Context)

	running atomic.Bool

	mu       sync.Mutex
	interval time.Duration
	resetCh  chan time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func New(name string, interval time.Duration, tickFn func(context.Context)) (*Scheduler, error) {
	if name == "" {
		return nil, errors.New("name must not be empty")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("tickFn must not be nil")
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		tickFn:   tickFn,
		resetCh:  make(chan time.Duration, 1),
		done:     make(chan struct{}),
	}, nil
}

func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.Interval())
		defer ticker.Stop()

		slog.Info("scheduler started", "name", s.name, "interval", s.Interval().String())

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				slog.Info("scheduler stopping", "name", s.name)
				return
			case <-s.resetCh:
				ticker.Reset(s.Interval())
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return false
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	// Wait outside the lock: the loop reads the interval under mu and a
	// tick may call SetInterval, so holding it here would deadlock.
	cancel()
	<-done
	s.running.Store(false)

	slog.Info("scheduler stopped", "name", s.name)
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// SetInterval changes the tick cadence. When the scheduler is running the
// new interval takes effect immediately; the current wait is restarted.
func (s *Scheduler) SetInterval(d time.Duration) error {
	if d <= 0 {
		return errors.New("interval must be > 0")
	}

	s.mu.Lock()
	changed := s.interval != d
	s.interval = d
	s.mu.Unlock()

	if !changed || !s.running.Load() {
		return nil
	}

	// The loop reads the interval fresh on wakeup, so a coalesced signal
	// still applies the latest value.
	select {
	case s.resetCh <- d:
	default:
	}

	slog.Info("scheduler interval changed", "name", s.name, "interval", d.String())
	return nil
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scheduler tick panic recovered", "name", s.name, "panic", r)
		}
	}()

	start := time.Now()
	s.tickFn(ctx)
	slog.Debug("scheduler tick completed",
		"name", s.name, "duration_ms", time.Since(start).Milliseconds())
}
