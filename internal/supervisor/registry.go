package supervisor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AndreiStanca/account-supervisor/internal/model"
	"github.com/AndreiStanca/account-supervisor/internal/provider"
	"github.com/AndreiStanca/account-supervisor/internal/scheduler"
)

type connRole int

const (
	rolePrimary connRole = iota
	roleBackup
)

func (r connRole) String() string {
	if r == roleBackup {
		return "backup"
	}
	return "primary"
}

// entry is the supervisor's live state for one account. All mutable fields
// are guarded by mu; provider calls are never made while holding it.
type entry struct {
	mu sync.Mutex

	account model.Account
	creds   []byte

	primary provider.Conn
	backup  provider.Conn
	// active is the connection outbound senders use. At most one
	// connection per account is ever active.
	active provider.Conn

	lastActivity time.Time
	// swapOnBackupReady promotes the backup the moment it opens. Set by
	// the quality scorer when it wants a proactive refresh.
	swapOnBackupReady bool

	connectTimer   *time.Timer
	qrTimer        *time.Timer
	backupTimer    *time.Timer
	reconnectTimer *time.Timer
	resetTimer     *time.Timer

	keepalive *scheduler.Scheduler
}

// stopTimersLocked cancels every pending timer. Called on any transition
// that invalidates scheduled work so stale timers cannot fire twice.
func (e *entry) stopTimersLocked() {
	for _, t := range []**time.Timer{
		&e.connectTimer, &e.qrTimer, &e.backupTimer, &e.reconnectTimer, &e.resetTimer,
	} {
		if *t != nil {
			(*t).Stop()
			*t = nil
		}
	}
}

func (e *entry) stopConnectTimerLocked() {
	if e.connectTimer != nil {
		e.connectTimer.Stop()
		e.connectTimer = nil
	}
}

func (e *entry) stopQRTimerLocked() {
	if e.qrTimer != nil {
		e.qrTimer.Stop()
		e.qrTimer = nil
	}
}

// holds reports whether conn is still one of the entry's connections.
// Event loops use it to discard events from superseded connections.
func (e *entry) holdsLocked(conn provider.Conn) bool {
	return conn != nil && (conn == e.primary || conn == e.backup)
}

func (e *entry) snapshotLocked() model.Account { return e.account }

// Registry is the account table. It implements the connection source the
// outbound pipeline consults, so swaps must happen under the entry lock.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

func (r *Registry) get(accountID string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[accountID]
	return e, ok
}

// add inserts the entry, enforcing the account cap under the registry lock
// so concurrent additions cannot slip past it.
func (r *Registry) add(e *entry, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit > 0 && len(r.entries) >= limit {
		return fmt.Errorf("%w: limit %d", ErrCapacity, limit)
	}
	if _, exists := r.entries[e.account.ID]; exists {
		return errors.New("account id collision")
	}
	r.entries[e.account.ID] = e
	return nil
}

func (r *Registry) remove(accountID string) (*entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[accountID]
	if ok {
		delete(r.entries, accountID)
	}
	return e, ok
}

func (r *Registry) list() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// ActiveConn resolves the connection outbound sends should use. Reported
// atomically with respect to failover swaps.
func (r *Registry) ActiveConn(accountID string) (provider.Conn, bool) {
	e, ok := r.get(accountID)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || e.account.Status != model.StatusConnected {
		return nil, false
	}
	return e.active, true
}
