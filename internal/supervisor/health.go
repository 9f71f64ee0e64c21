package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/AndreiStanca/account-supervisor/internal/config"
	"github.com/AndreiStanca/account-supervisor/internal/metrics"
	"github.com/AndreiStanca/account-supervisor/internal/model"
	"github.com/AndreiStanca/account-supervisor/internal/provider"
	"github.com/AndreiStanca/account-supervisor/internal/ratelimit"
	"github.com/AndreiStanca/account-supervisor/internal/scheduler"
)

// Monitor keeps connections honest: a staleness watchdog, a per-account
// adaptive keep-alive probe, and periodic connection-quality scoring that
// swaps to a fresh connection before the provider drops a degraded one.
type Monitor struct {
	cfg config.HealthConfig
	sup *Supervisor

	watchdog *scheduler.Scheduler
	quality  *scheduler.Scheduler
}

func newMonitor(cfg config.HealthConfig, sup *Supervisor) *Monitor {
	m := &Monitor{cfg: cfg, sup: sup}
	m.watchdog, _ = scheduler.New("watchdog", cfg.WatchdogInterval, m.watchdogTick)
	m.quality, _ = scheduler.New("quality", cfg.QualityInterval, m.qualityTick)
	return m
}

func (m *Monitor) Start() {
	m.watchdog.Start()
	m.quality.Start()
}

func (m *Monitor) Stop() {
	m.watchdog.Stop()
	m.quality.Stop()
}

// watchdogTick probes accounts whose last observed activity is older than
// the stale threshold. A failed probe means the connection is dead.
func (m *Monitor) watchdogTick(ctx context.Context) {
	for _, e := range m.sup.registry.list() {
		e.mu.Lock()
		conn := e.active
		stale := e.account.Status == model.StatusConnected &&
			time.Since(e.lastActivity) > m.cfg.StaleThreshold
		accountID := e.account.ID
		e.mu.Unlock()

		if !stale || conn == nil {
			continue
		}

		slog.Warn("connection stale, probing", "account", accountID)
		if err := m.probe(ctx, conn); err != nil {
			slog.Warn("stale probe failed, reconnecting", "account", accountID, "err", err)
			m.sup.dropActive(e, conn, err)
			continue
		}
		m.touch(e)
	}
}

// startKeepAlive begins the adaptive probe loop for a newly connected
// account. Idempotent; reconnects reuse the running loop.
func (m *Monitor) startKeepAlive(e *entry) {
	e.mu.Lock()
	if e.keepalive != nil {
		ka := e.keepalive
		e.mu.Unlock()
		_ = ka.SetInterval(m.cfg.KeepAliveStart)
		return
	}
	accountID := e.account.ID
	ka, err := scheduler.New("keepalive:"+accountID, m.cfg.KeepAliveStart,
		func(ctx context.Context) { m.keepAliveTick(ctx, e) })
	if err != nil {
		e.mu.Unlock()
		return
	}
	e.keepalive = ka
	e.mu.Unlock()

	ka.Start()
}

// keepAliveTick probes and adapts the cadence: shrink toward the floor on
// success, widen on provider throttling, fail over on anything else.
func (m *Monitor) keepAliveTick(ctx context.Context, e *entry) {
	e.mu.Lock()
	conn := e.active
	ka := e.keepalive
	accountID := e.account.ID
	connected := e.account.Status == model.StatusConnected
	e.mu.Unlock()

	if !connected || conn == nil || ka == nil {
		return
	}

	err := m.probe(ctx, conn)
	if err == nil {
		m.touch(e)
		next := max(m.cfg.KeepAliveFloor, ka.Interval()-time.Second)
		_ = ka.SetInterval(next)
		return
	}

	if rl, ok := provider.AsRateLimit(err); ok {
		metrics.IncRateLimitHits()
		next := min(m.cfg.KeepAliveCap, ka.Interval()*2)
		_ = ka.SetInterval(next)
		m.sup.limiter.HandleRateLimit(accountID, ratelimit.Severity(rl.Severity))
		m.scheduleThrottleReset(e)
		slog.Warn("keep-alive throttled, widening cadence",
			"account", accountID, "interval", next.String())
		return
	}

	slog.Warn("keep-alive probe failed", "account", accountID, "err", err)
	if m.sup.swapToBackup(e) {
		return
	}
	m.sup.dropActive(e, conn, err)
}

// scheduleThrottleReset snaps the keep-alive cadence back to the floor after
// the throttle cooldown, replacing any earlier pending reset.
func (m *Monitor) scheduleThrottleReset(e *entry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.resetTimer != nil {
		e.resetTimer.Stop()
	}
	e.resetTimer = time.AfterFunc(m.cfg.ThrottleCooldown, func() {
		e.mu.Lock()
		e.resetTimer = nil
		ka := e.keepalive
		e.mu.Unlock()
		if ka != nil {
			_ = ka.SetInterval(m.cfg.KeepAliveFloor)
		}
	})
}

// qualityTick scores each connected account and requests a proactive swap
// when quality degrades past the threshold.
func (m *Monitor) qualityTick(ctx context.Context) {
	for _, e := range m.sup.registry.list() {
		e.mu.Lock()
		connected := e.account.Status == model.StatusConnected
		staleness := time.Since(e.lastActivity)
		retries := e.account.ReconnectAttempts
		accountID := e.account.ID
		e.mu.Unlock()

		if !connected {
			continue
		}

		score := qualityScore(staleness, retries)
		if score >= m.cfg.QualityThreshold {
			continue
		}

		slog.Warn("connection quality degraded",
			"account", accountID, "score", score)
		m.sup.requestProactiveSwap(e)
	}
}

// qualityScore maps staleness and recent retry pressure to [0,1].
func qualityScore(staleness time.Duration, retries int) float64 {
	score := 1.0
	if staleness > time.Minute {
		score -= 0.3
	}
	if staleness > 2*time.Minute {
		score -= 0.3
	}
	if retries > 3 {
		score -= 0.2
	}
	if retries > 5 {
		score -= 0.2
	}
	if score < 0 {
		return 0
	}
	return score
}

func (m *Monitor) probe(ctx context.Context, conn provider.Conn) error {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()
	return conn.PresenceProbe(pctx)
}

func (m *Monitor) touch(e *entry) {
	e.mu.Lock()
	e.lastActivity = time.Now()
	e.mu.Unlock()
}
