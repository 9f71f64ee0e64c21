package supervisor

import (
	"log/slog"
	"time"

	"github.com/AndreiStanca/account-supervisor/internal/bus"
	"github.com/AndreiStanca/account-supervisor/internal/metrics"
	"github.com/AndreiStanca/account-supervisor/internal/model"
)

// scheduleBackup arranges a standby connection after delay. The delay after
// a fresh connect is deliberately long so the volatile post-connect period
// does not carry double load.
func (s *Supervisor) scheduleBackup(e *entry, delay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.backup != nil || e.backupTimer != nil || e.account.Status != model.StatusConnected {
		return
	}
	e.backupTimer = time.AfterFunc(delay, func() { s.dialBackup(e) })
}

func (s *Supervisor) dialBackup(e *entry) {
	e.mu.Lock()
	e.backupTimer = nil
	if e.backup != nil || e.account.Status != model.StatusConnected {
		e.mu.Unlock()
		return
	}
	accountID := e.account.ID
	e.mu.Unlock()

	slog.Info("establishing backup connection", "account", accountID)
	s.dial(e, roleBackup)
}

// swapToBackup atomically promotes the standby to active. Senders resolving
// the active connection either see the old primary or the promoted backup,
// never both and never neither mid-swap.
func (s *Supervisor) swapToBackup(e *entry) bool {
	e.mu.Lock()
	if e.backup == nil {
		e.mu.Unlock()
		return false
	}

	old := e.primary
	e.primary = e.backup
	e.backup = nil
	e.active = e.primary
	e.swapOnBackupReady = false
	e.lastActivity = time.Now()
	e.account.ReconnectAttempts = 0
	e.setStatusLocked(model.StatusConnected)
	accountID := e.account.ID
	e.mu.Unlock()

	metrics.IncFailoverSwaps()
	slog.Info("failover swap completed", "account", accountID)
	s.bus.Publish(bus.Event{Type: bus.Connected, AccountID: accountID,
		Data: map[string]any{"failover": true}})

	if old != nil {
		// Best effort; the old primary may already be dead.
		go func() { _ = old.Close() }()
	}

	s.scheduleBackup(e, s.cfg.BackupSwapDelay)
	return true
}

// requestProactiveSwap is the quality scorer's entry point: swap now when a
// standby exists, otherwise build one and swap the moment it opens.
func (s *Supervisor) requestProactiveSwap(e *entry) {
	if s.swapToBackup(e) {
		return
	}

	e.mu.Lock()
	if e.account.Status != model.StatusConnected || e.swapOnBackupReady {
		e.mu.Unlock()
		return
	}
	e.swapOnBackupReady = true
	pending := e.backupTimer != nil
	if pending {
		// Pull the scheduled standby forward.
		e.backupTimer.Stop()
		e.backupTimer = nil
	}
	accountID := e.account.ID
	e.mu.Unlock()

	slog.Info("proactive connection refresh requested", "account", accountID)
	go s.dialBackup(e)
}
