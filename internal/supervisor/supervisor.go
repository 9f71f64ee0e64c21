// Package supervisor owns the per-account connection lifecycle: the state
// machine, dual-connection failover, and the health monitor. One account's
// failure never affects another account's state; all cross-account
// structures are the registry and the shared component dependencies.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/AndreiStanca/account-supervisor/internal/breaker"
	"github.com/AndreiStanca/account-supervisor/internal/bus"
	"github.com/AndreiStanca/account-supervisor/internal/cache"
	"github.com/AndreiStanca/account-supervisor/internal/client"
	"github.com/AndreiStanca/account-supervisor/internal/config"
	"github.com/AndreiStanca/account-supervisor/internal/inbound"
	"github.com/AndreiStanca/account-supervisor/internal/metrics"
	"github.com/AndreiStanca/account-supervisor/internal/model"
	"github.com/AndreiStanca/account-supervisor/internal/outbound"
	"github.com/AndreiStanca/account-supervisor/internal/provider"
	"github.com/AndreiStanca/account-supervisor/internal/ratelimit"
	"github.com/AndreiStanca/account-supervisor/internal/repo"
	"github.com/AndreiStanca/account-supervisor/internal/session"
)

// ErrCapacity is returned when the account limit is reached. Surfaced
// immediately to the caller, never retried.
var ErrCapacity = errors.New("account capacity reached")

// ErrAccountNotFound is returned for operations on unknown account ids.
var ErrAccountNotFound = errors.New("account not found")

// Deps are the collaborators a Supervisor is wired with. All fields except
// Alerts are required.
type Deps struct {
	Connector provider.Connector
	Sessions  session.Store
	Queue     repo.OutboundRepository
	Limiter   *ratelimit.Limiter
	Breaker   *breaker.Breaker
	Pipeline  *outbound.Pipeline
	Inbox     *inbound.Buffer
	Dedup     cache.DedupCache
	Bus       *bus.Bus
	Alerts    *client.AlertClient
	Registry  *Registry
}

type Supervisor struct {
	cfg       config.SupervisorConfig
	connector provider.Connector
	sessions  session.Store
	queue     repo.OutboundRepository
	limiter   *ratelimit.Limiter
	breaker   *breaker.Breaker
	pipeline  *outbound.Pipeline
	inbox     *inbound.Buffer
	dedup     cache.DedupCache
	bus       *bus.Bus
	alerts    *client.AlertClient
	registry  *Registry
	health    *Monitor

	// baseCtx bounds background work (dials, event loops, flushes). Set
	// once in Start before any account exists.
	baseCtx context.Context
}

func New(cfg config.SupervisorConfig, healthCfg config.HealthConfig, d Deps) (*Supervisor, error) {
	if d.Connector == nil || d.Sessions == nil || d.Queue == nil || d.Limiter == nil ||
		d.Breaker == nil || d.Pipeline == nil || d.Inbox == nil || d.Dedup == nil ||
		d.Bus == nil || d.Registry == nil {
		return nil, errors.New("supervisor: missing required dependency")
	}

	s := &Supervisor{
		cfg:       cfg,
		connector: d.Connector,
		sessions:  d.Sessions,
		queue:     d.Queue,
		limiter:   d.Limiter,
		breaker:   d.Breaker,
		pipeline:  d.Pipeline,
		inbox:     d.Inbox,
		dedup:     d.Dedup,
		bus:       d.Bus,
		alerts:    d.Alerts,
		registry:  d.Registry,
		baseCtx:   context.Background(),
	}
	s.health = newMonitor(healthCfg, s)
	return s, nil
}

// Start binds the supervisor to the process lifetime and starts the health
// monitor. Must be called before accounts are added or restored.
func (s *Supervisor) Start(ctx context.Context) {
	s.baseCtx = ctx
	s.health.Start()
}

// Stop halts health probing and closes every live connection.
func (s *Supervisor) Stop() {
	s.health.Stop()

	for _, e := range s.registry.list() {
		e.mu.Lock()
		e.stopTimersLocked()
		conns := []provider.Conn{e.primary, e.backup}
		e.primary, e.backup, e.active = nil, nil, nil
		ka := e.keepalive
		e.mu.Unlock()

		if ka != nil {
			ka.Stop()
		}
		for _, c := range conns {
			if c != nil {
				_ = c.Close()
			}
		}
	}
}

// BreakerNotifier returns the breaker.Notifier that routes circuit state
// changes to the bus, metrics, and the alert webhook.
func (s *Supervisor) BreakerNotifier() breaker.Notifier {
	return &breakerNotifier{s: s}
}

type breakerNotifier struct{ s *Supervisor }

func (n *breakerNotifier) CircuitOpened(accountID string, failures int, lastErr error) {
	metrics.IncCircuitTransition("open")
	detail := ""
	if lastErr != nil {
		detail = lastErr.Error()
	}
	n.s.bus.Publish(bus.Event{
		Type:      bus.CircuitOpened,
		AccountID: accountID,
		Data:      map[string]any{"failures": failures, "lastError": detail},
	})
	n.s.alert("circuit_opened", accountID, detail, map[string]any{"failures": failures})
}

func (n *breakerNotifier) CircuitClosed(accountID string) {
	metrics.IncCircuitTransition("closed")
	n.s.bus.Publish(bus.Event{Type: bus.CircuitClosed, AccountID: accountID})
}

// AddAccount creates a new account and starts its first connect attempt,
// which will surface an authentication challenge.
func (s *Supervisor) AddAccount(ctx context.Context, name, phone string) (model.Account, error) {
	e := &entry{
		account: model.Account{
			ID:        uuid.NewString(),
			Name:      name,
			Phone:     phone,
			Status:    model.StatusIdle,
			Tier:      model.TierNew,
			CreatedAt: time.Now().UTC(),
		},
	}
	if err := s.registry.add(e, s.cfg.MaxAccounts); err != nil {
		return model.Account{}, err
	}

	slog.Info("account added", "account", e.account.ID, "name", name)

	e.mu.Lock()
	e.setStatusLocked(model.StatusConnecting)
	acc := e.snapshotLocked()
	e.mu.Unlock()
	go s.dial(e, rolePrimary)

	return acc, nil
}

// RemoveAccount tears the account down completely: connections, timers,
// persisted credentials, queued messages, and limiter/breaker/dedup state.
func (s *Supervisor) RemoveAccount(ctx context.Context, accountID string) error {
	e, ok := s.registry.remove(accountID)
	if !ok {
		return ErrAccountNotFound
	}

	e.mu.Lock()
	e.stopTimersLocked()
	conns := []provider.Conn{e.primary, e.backup}
	e.primary, e.backup, e.active = nil, nil, nil
	ka := e.keepalive
	e.keepalive = nil
	e.mu.Unlock()

	if ka != nil {
		ka.Stop()
	}
	for _, c := range conns {
		if c == nil {
			continue
		}
		if err := c.Logout(ctx); err != nil {
			slog.Warn("logout on removal failed", "account", accountID, "err", err)
		}
		_ = c.Close()
	}

	var errs []error
	if err := s.sessions.Delete(ctx, accountID); err != nil {
		errs = append(errs, fmt.Errorf("delete session: %w", err))
	}
	if err := s.queue.PurgeAccount(ctx, accountID); err != nil {
		errs = append(errs, fmt.Errorf("purge queue: %w", err))
	}
	if err := s.dedup.Forget(ctx, accountID); err != nil {
		errs = append(errs, fmt.Errorf("forget dedup keys: %w", err))
	}
	s.limiter.Remove(accountID)
	s.breaker.Remove(accountID)

	s.bus.Publish(bus.Event{Type: bus.AccountRemoved, AccountID: accountID})
	slog.Info("account removed", "account", accountID)

	return errors.Join(errs...)
}

// Accounts returns a snapshot of every account, oldest first.
func (s *Supervisor) Accounts() []model.Account {
	entries := s.registry.list()
	out := make([]model.Account, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.snapshotLocked())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Account returns the snapshot for one account.
func (s *Supervisor) Account(accountID string) (model.Account, error) {
	e, ok := s.registry.get(accountID)
	if !ok {
		return model.Account{}, ErrAccountNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked(), nil
}

// Send delivers through the outbound pipeline for a known account.
func (s *Supervisor) Send(ctx context.Context, accountID, recipient, payload string, priority int) (outbound.SendResult, error) {
	if _, ok := s.registry.get(accountID); !ok {
		return outbound.SendResult{}, ErrAccountNotFound
	}
	return s.pipeline.Send(ctx, accountID, recipient, payload, priority)
}

// RestoreSessions reconnects every persisted account with bounded
// concurrency. Called once at startup.
func (s *Supervisor) RestoreSessions(ctx context.Context) error {
	entries, err := s.sessions.List(ctx)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	slog.Info("restoring persisted sessions", "count", len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.cfg.RestoreParallel, 1))

	for _, se := range entries {
		se := se
		g.Go(func() error {
			creds, err := s.sessions.Restore(gctx, se.AccountID)
			if err != nil {
				slog.Error("session restore failed", "account", se.AccountID, "err", err)
				return nil
			}

			e := &entry{
				account: model.Account{
					ID:        se.AccountID,
					Name:      se.Metadata.Name,
					Phone:     se.Metadata.Phone,
					Status:    model.StatusConnecting,
					Tier:      model.AgeTier(se.Metadata.Tier),
					CreatedAt: se.Metadata.CreatedAt,
				},
				creds: creds,
			}
			if e.account.Tier == "" {
				e.account.Tier = model.TierNormal
			}
			if err := s.registry.add(e, s.cfg.MaxAccounts); err != nil {
				slog.Warn("skipping session restore", "account", se.AccountID, "err", err)
				return nil
			}
			s.dial(e, rolePrimary)
			return nil
		})
	}
	return g.Wait()
}

// dial opens one connection for the given role and hands it to the event
// loop. Connect failures feed the same retry path as a closed connection.
func (s *Supervisor) dial(e *entry, role connRole) {
	e.mu.Lock()
	accountID := e.account.ID
	creds := e.creds
	e.mu.Unlock()

	conn, err := s.connector.Connect(s.baseCtx, accountID, creds)
	if err != nil {
		slog.Warn("connect failed", "account", accountID, "role", role.String(), "err", err)
		if role == rolePrimary {
			s.handlePrimaryFailure(e, err)
		}
		return
	}

	e.mu.Lock()
	switch role {
	case rolePrimary:
		if e.primary != nil {
			e.mu.Unlock()
			_ = conn.Close()
			return
		}
		e.primary = conn
		e.stopConnectTimerLocked()
		e.connectTimer = time.AfterFunc(s.cfg.ConnectTimeout, func() {
			s.onConnectTimeout(e, conn)
		})
	case roleBackup:
		if e.backup != nil || e.account.Status != model.StatusConnected {
			e.mu.Unlock()
			_ = conn.Close()
			return
		}
		e.backup = conn
	}
	e.mu.Unlock()

	go s.eventLoop(e, conn)
}

func (s *Supervisor) eventLoop(e *entry, conn provider.Conn) {
	for ev := range conn.Events() {
		switch ev.Kind {
		case provider.EventAuthChallenge:
			s.onAuthChallenge(e, conn, ev)
		case provider.EventOpen:
			s.onOpen(e, conn, ev)
		case provider.EventCredsUpdated:
			s.onCredsUpdated(e, conn, ev)
		case provider.EventMessage:
			s.onMessage(e, conn, ev)
		case provider.EventClosed:
			s.onClosed(e, conn, ev)
		}
	}
}

func (s *Supervisor) onAuthChallenge(e *entry, conn provider.Conn, ev provider.Event) {
	e.mu.Lock()
	if !e.holdsLocked(conn) {
		e.mu.Unlock()
		return
	}
	if conn == e.backup {
		// Backup connections reuse persisted credentials; a challenge
		// means they are no longer sufficient. Drop the standby.
		e.backup = nil
		e.mu.Unlock()
		_ = conn.Close()
		return
	}

	if !e.setStatusLocked(model.StatusQRReady) {
		e.mu.Unlock()
		return
	}
	e.stopConnectTimerLocked()
	e.stopQRTimerLocked()
	e.account.QRCode = ev.QR
	e.account.PairingCode = ""
	e.qrTimer = time.AfterFunc(s.cfg.QRExpiry, func() { s.onQRExpired(e, conn) })
	accountID := e.account.ID
	phone := e.account.Phone
	e.mu.Unlock()

	slog.Info("authentication challenge issued", "account", accountID)
	s.bus.Publish(bus.Event{
		Type:      bus.QRIssued,
		AccountID: accountID,
		Data:      map[string]any{"qr": ev.QR},
	})

	if phone != "" {
		go s.requestPairingCode(e, conn, phone)
	}
}

func (s *Supervisor) requestPairingCode(e *entry, conn provider.Conn, phone string) {
	ctx, cancel := context.WithTimeout(s.baseCtx, 15*time.Second)
	defer cancel()

	code, err := conn.RequestPairingCode(ctx, phone)
	if err != nil {
		slog.Warn("pairing code request failed", "account", e.account.ID, "err", err)
		return
	}

	e.mu.Lock()
	if !e.holdsLocked(conn) || e.account.Status != model.StatusQRReady {
		e.mu.Unlock()
		return
	}
	e.account.PairingCode = code
	accountID := e.account.ID
	e.mu.Unlock()

	s.bus.Publish(bus.Event{
		Type:      bus.PairingCodeIssued,
		AccountID: accountID,
		Data:      map[string]any{"pairingCode": code},
	})
}

func (s *Supervisor) onQRExpired(e *entry, conn provider.Conn) {
	e.mu.Lock()
	if !e.holdsLocked(conn) || e.account.Status != model.StatusQRReady {
		e.mu.Unlock()
		return
	}
	e.qrTimer = nil
	e.setStatusLocked(model.StatusQRExpired)
	e.account.QRCode = ""
	e.account.PairingCode = ""
	if conn == e.primary {
		e.primary = nil
	}
	accountID := e.account.ID
	e.mu.Unlock()

	slog.Info("authentication challenge expired", "account", accountID)
	_ = conn.Close()
}

func (s *Supervisor) onOpen(e *entry, conn provider.Conn, ev provider.Event) {
	e.mu.Lock()
	if !e.holdsLocked(conn) {
		e.mu.Unlock()
		_ = conn.Close()
		return
	}

	if conn == e.backup {
		swap := e.swapOnBackupReady
		accountID := e.account.ID
		e.mu.Unlock()
		slog.Info("backup connection established", "account", accountID)
		if swap {
			s.swapToBackup(e)
		}
		return
	}

	e.stopConnectTimerLocked()
	e.stopQRTimerLocked()
	if !e.setStatusLocked(model.StatusConnected) {
		e.mu.Unlock()
		return
	}
	if ev.Phone != "" {
		e.account.Phone = ev.Phone
	}
	e.account.QRCode = ""
	e.account.PairingCode = ""
	e.account.ReconnectAttempts = 0
	e.active = conn
	e.lastActivity = time.Now()
	acc := e.snapshotLocked()
	creds := e.creds
	e.mu.Unlock()

	slog.Info("account connected", "account", acc.ID, "phone", acc.Phone)

	s.persistSession(acc, creds)
	s.limiter.Register(acc.ID, acc.Tier)
	s.bus.Publish(bus.Event{Type: bus.Connected, AccountID: acc.ID})
	s.health.startKeepAlive(e)
	s.scheduleBackup(e, s.cfg.BackupDelay)

	go func() {
		if _, err := s.pipeline.FlushQueue(s.baseCtx, acc.ID); err != nil &&
			!errors.Is(err, outbound.ErrFlushInProgress) {
			slog.Error("post-connect queue flush failed", "account", acc.ID, "err", err)
		}
	}()
}

func (s *Supervisor) onCredsUpdated(e *entry, conn provider.Conn, ev provider.Event) {
	e.mu.Lock()
	if !e.holdsLocked(conn) {
		e.mu.Unlock()
		return
	}
	e.creds = ev.Creds
	acc := e.snapshotLocked()
	e.mu.Unlock()

	s.persistSession(acc, ev.Creds)
}

func (s *Supervisor) persistSession(acc model.Account, creds []byte) {
	ctx, cancel := context.WithTimeout(s.baseCtx, 10*time.Second)
	defer cancel()

	meta := session.Metadata{
		Name:      acc.Name,
		Phone:     acc.Phone,
		Status:    string(acc.Status),
		Tier:      string(acc.Tier),
		CreatedAt: acc.CreatedAt,
	}
	if err := s.sessions.Save(ctx, acc.ID, creds, meta); err != nil {
		slog.Error("session persist failed", "account", acc.ID, "err", err)
	}
}

func (s *Supervisor) onMessage(e *entry, conn provider.Conn, ev provider.Event) {
	e.mu.Lock()
	if !e.holdsLocked(conn) {
		e.mu.Unlock()
		return
	}
	e.lastActivity = time.Now()
	e.mu.Unlock()

	if ev.Message == nil {
		return
	}
	if err := s.inbox.Add(s.baseCtx, *ev.Message); err != nil {
		slog.Error("inbound buffering failed", "account", ev.Message.AccountID, "err", err)
	}
}

func (s *Supervisor) onClosed(e *entry, conn provider.Conn, ev provider.Event) {
	metrics.IncDisconnects()

	e.mu.Lock()
	if !e.holdsLocked(conn) {
		e.mu.Unlock()
		return
	}

	if conn == e.backup {
		e.backup = nil
		connected := e.account.Status == model.StatusConnected
		accountID := e.account.ID
		e.mu.Unlock()
		slog.Warn("backup connection closed", "account", accountID, "reason", errString(ev.Reason))
		if connected {
			s.scheduleBackup(e, s.cfg.BackupSwapDelay)
		}
		return
	}

	// Primary is gone either way.
	e.primary = nil
	if e.active == conn {
		e.active = nil
	}
	accountID := e.account.ID
	awaitingAuth := e.account.Status == model.StatusQRReady

	if provider.IsAuthRevoked(ev.Reason) {
		s.onAuthRevokedLocked(e)
		e.mu.Unlock()
		s.afterLogout(accountID, ev.Reason)
		return
	}

	if awaitingAuth {
		// Closed while waiting for the operator to authenticate. Keep any
		// persisted credentials; the account simply needs a new challenge.
		e.stopTimersLocked()
		e.setStatusLocked(model.StatusQRInvalid)
		e.account.QRCode = ""
		e.account.PairingCode = ""
		e.mu.Unlock()
		slog.Warn("connection closed while awaiting authentication", "account", accountID)
		s.bus.Publish(bus.Event{Type: bus.Disconnected, AccountID: accountID})
		return
	}

	hasBackup := e.backup != nil
	e.mu.Unlock()

	slog.Warn("primary connection closed", "account", accountID, "reason", errString(ev.Reason))
	s.bus.Publish(bus.Event{Type: bus.Disconnected, AccountID: accountID})

	if hasBackup && s.swapToBackup(e) {
		return
	}
	s.handlePrimaryFailure(e, ev.Reason)
}

// onAuthRevokedLocked applies the terminal logout transition. Caller holds
// e.mu and handles the out-of-lock side effects via afterLogout.
func (s *Supervisor) onAuthRevokedLocked(e *entry) {
	e.stopTimersLocked()
	e.setStatusLocked(model.StatusLoggedOut)
	e.account.QRCode = ""
	e.account.PairingCode = ""
	e.creds = nil
	if e.backup != nil {
		go e.backup.Close()
		e.backup = nil
	}
	e.active = nil
}

func (s *Supervisor) afterLogout(accountID string, reason error) {
	slog.Error("account logged out, operator action required",
		"account", accountID, "reason", errString(reason))

	metrics.IncIncident("logged_out")
	s.stopKeepAlive(accountID)

	ctx, cancel := context.WithTimeout(s.baseCtx, 10*time.Second)
	defer cancel()
	if err := s.sessions.Delete(ctx, accountID); err != nil {
		slog.Error("clearing revoked credentials failed", "account", accountID, "err", err)
	}

	s.bus.Publish(bus.Event{
		Type:      bus.Disconnected,
		AccountID: accountID,
		Data:      map[string]any{"terminal": true},
	})
	s.alert("logged_out", accountID, errString(reason), nil)
}

// handlePrimaryFailure drives the reconnect path with exponential backoff.
// After the attempt cap the account is forced into a fresh authentication
// handshake instead of retrying silently forever.
func (s *Supervisor) handlePrimaryFailure(e *entry, reason error) {
	e.mu.Lock()
	if e.account.Status == model.StatusLoggedOut {
		e.mu.Unlock()
		return
	}
	if !e.setStatusLocked(model.StatusReconnecting) {
		e.mu.Unlock()
		return
	}

	e.account.ReconnectAttempts++
	attempts := e.account.ReconnectAttempts
	accountID := e.account.ID

	if attempts > s.cfg.MaxAttempts {
		e.setStatusLocked(model.StatusNeedsQR)
		e.creds = nil
		e.stopTimersLocked()
		e.mu.Unlock()

		slog.Error("reconnect attempts exhausted, forcing fresh authentication",
			"account", accountID, "attempts", attempts-1)
		metrics.IncIncident("needs_qr")
		s.alert("needs_qr", accountID, errString(reason), nil)

		e.mu.Lock()
		e.account.ReconnectAttempts = 0
		e.setStatusLocked(model.StatusConnecting)
		e.mu.Unlock()
		go s.dial(e, rolePrimary)
		return
	}

	delay := backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffCap, attempts)
	if e.reconnectTimer != nil {
		e.reconnectTimer.Stop()
	}
	e.reconnectTimer = time.AfterFunc(delay, func() { s.reconnect(e) })
	e.mu.Unlock()

	slog.Info("reconnect scheduled",
		"account", accountID, "attempt", attempts, "delay", delay.String())
}

func (s *Supervisor) reconnect(e *entry) {
	e.mu.Lock()
	e.reconnectTimer = nil
	if !e.setStatusLocked(model.StatusConnecting) {
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()

	metrics.IncReconnects()
	s.dial(e, rolePrimary)
}

// onConnectTimeout fires when a primary connect attempt has not reached
// Connected within the window. The timer is cancelled on EventOpen and on
// the auth challenge, so firing means the attempt is genuinely stuck.
func (s *Supervisor) onConnectTimeout(e *entry, conn provider.Conn) {
	e.mu.Lock()
	if e.primary != conn || e.account.Status == model.StatusConnected {
		e.mu.Unlock()
		return
	}
	e.connectTimer = nil
	e.primary = nil
	if e.active == conn {
		e.active = nil
	}
	accountID := e.account.ID
	e.mu.Unlock()

	slog.Warn("connect attempt timed out", "account", accountID)
	_ = conn.Close()
	s.handlePrimaryFailure(e, context.DeadlineExceeded)
}

// dropActive discards a connection the health monitor declared dead and
// routes the account through failover or the standard reconnect path.
func (s *Supervisor) dropActive(e *entry, conn provider.Conn, reason error) {
	e.mu.Lock()
	if conn != e.primary && conn != e.active {
		e.mu.Unlock()
		return
	}
	if e.primary == conn {
		e.primary = nil
	}
	if e.active == conn {
		e.active = nil
	}
	e.mu.Unlock()

	_ = conn.Close()
	metrics.IncDisconnects()

	if s.swapToBackup(e) {
		return
	}
	s.handlePrimaryFailure(e, reason)
}

func (s *Supervisor) stopKeepAlive(accountID string) {
	e, ok := s.registry.get(accountID)
	if !ok {
		return
	}
	e.mu.Lock()
	ka := e.keepalive
	e.keepalive = nil
	e.mu.Unlock()
	if ka != nil {
		ka.Stop()
	}
}

func (s *Supervisor) alert(kind, accountID, detail string, data map[string]any) {
	if s.alerts == nil || !s.alerts.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.alerts.SendAlert(ctx, kind, accountID, detail, data); err != nil {
			slog.Warn("alert delivery failed", "kind", kind, "account", accountID, "err", err)
		}
	}()
}

func backoffDelay(base, ceiling time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base << (attempt - 1)
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
