package breaker

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu     sync.Mutex
	opened []string
	closed []string
}

func (n *recordingNotifier) CircuitOpened(accountID string, failures int, lastErr error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opened = append(n.opened, accountID)
}

func (n *recordingNotifier) CircuitClosed(accountID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = append(n.closed, accountID)
}

func newTestBreaker(n Notifier) (*Breaker, *fakeClock) {
	b := New(Config{
		FailureThreshold: 5,
		Window:           5 * time.Minute,
		Cooldown:         time.Minute,
	}, n)
	clk := newFakeClock()
	b.SetClock(clk.Now)
	return b, clk
}

func TestBreaker_ClosedAllowsSends(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(nil)

	d := b.CanExecute("acc-1")
	if !d.Allowed {
		t.Fatalf("expected closed circuit to allow, got %+v", d)
	}
	if d.State != Closed {
		t.Fatalf("expected state closed, got %s", d.State)
	}
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	t.Parallel()

	notif := &recordingNotifier{}
	b, _ := newTestBreaker(notif)

	for i := 0; i < 4; i++ {
		b.RecordFailure("acc-1", errors.New("send failed"))
	}
	if got := b.State("acc-1"); got != Closed {
		t.Fatalf("expected still closed after 4 failures, got %s", got)
	}

	b.RecordFailure("acc-1", errors.New("send failed"))
	if got := b.State("acc-1"); got != Open {
		t.Fatalf("expected open after 5 failures, got %s", got)
	}

	d := b.CanExecute("acc-1")
	if d.Allowed {
		t.Fatalf("expected open circuit to reject")
	}
	if d.RetryAfter <= 0 {
		t.Fatalf("expected positive RetryAfter, got %v", d.RetryAfter)
	}

	notif.mu.Lock()
	defer notif.mu.Unlock()
	if len(notif.opened) != 1 || notif.opened[0] != "acc-1" {
		t.Fatalf("expected one circuit-opened notification, got %v", notif.opened)
	}
}

func TestBreaker_FailuresOutsideWindowDoNotCount(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(nil)

	for i := 0; i < 4; i++ {
		b.RecordFailure("acc-1", errors.New("boom"))
	}
	// Age the early failures out of the tracking window.
	clk.Advance(6 * time.Minute)

	b.RecordFailure("acc-1", errors.New("boom"))
	if got := b.State("acc-1"); got != Closed {
		t.Fatalf("expected closed, old failures aged out, got %s", got)
	}
}

func TestBreaker_HalfOpenAfterCooldown_TrialSuccessCloses(t *testing.T) {
	t.Parallel()

	notif := &recordingNotifier{}
	b, clk := newTestBreaker(notif)

	for i := 0; i < 5; i++ {
		b.RecordFailure("acc-1", errors.New("boom"))
	}

	if d := b.CanExecute("acc-1"); d.Allowed {
		t.Fatalf("expected rejection during cooldown")
	}

	clk.Advance(61 * time.Second)

	d := b.CanExecute("acc-1")
	if !d.Allowed || d.State != HalfOpen {
		t.Fatalf("expected half-open trial allowed, got %+v", d)
	}

	// Only one trial in flight at a time.
	if d2 := b.CanExecute("acc-1"); d2.Allowed {
		t.Fatalf("expected second caller rejected while trial in flight, got %+v", d2)
	}

	b.RecordSuccess("acc-1")
	if got := b.State("acc-1"); got != Closed {
		t.Fatalf("expected closed after trial success, got %s", got)
	}
	if d3 := b.CanExecute("acc-1"); !d3.Allowed {
		t.Fatalf("expected sends allowed after close, got %+v", d3)
	}

	notif.mu.Lock()
	defer notif.mu.Unlock()
	if len(notif.closed) != 1 || notif.closed[0] != "acc-1" {
		t.Fatalf("expected one circuit-closed notification, got %v", notif.closed)
	}
}

func TestBreaker_AbandonedTrialReleasesSlotAfterCooldown(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(nil)

	for i := 0; i < 5; i++ {
		b.RecordFailure("acc-1", errors.New("boom"))
	}
	clk.Advance(61 * time.Second)

	// Grant a trial and then never record a verdict, as happens when the
	// caller aborts between CanExecute and the provider send.
	if d := b.CanExecute("acc-1"); !d.Allowed || d.State != HalfOpen {
		t.Fatalf("expected half-open trial, got %+v", d)
	}

	if d := b.CanExecute("acc-1"); d.Allowed {
		t.Fatalf("expected rejection while the trial is fresh")
	}

	// The unresolved trial must not hold the slot forever.
	clk.Advance(5 * time.Hour)

	d := b.CanExecute("acc-1")
	if !d.Allowed || d.State != HalfOpen {
		t.Fatalf("expected stale trial re-armed, got %+v", d)
	}

	b.RecordSuccess("acc-1")
	if got := b.State("acc-1"); got != Closed {
		t.Fatalf("expected closed after trial success, got %s", got)
	}
}

func TestBreaker_TrialFailureReopensAndRestartsCooldown(t *testing.T) {
	t.Parallel()

	b, clk := newTestBreaker(nil)

	for i := 0; i < 5; i++ {
		b.RecordFailure("acc-1", errors.New("boom"))
	}
	clk.Advance(61 * time.Second)

	if d := b.CanExecute("acc-1"); !d.Allowed || d.State != HalfOpen {
		t.Fatalf("expected half-open trial, got %+v", d)
	}

	b.RecordFailure("acc-1", errors.New("still broken"))
	if got := b.State("acc-1"); got != Open {
		t.Fatalf("expected reopened after trial failure, got %s", got)
	}

	// Cooldown restarted: 30s later still rejecting.
	clk.Advance(30 * time.Second)
	if d := b.CanExecute("acc-1"); d.Allowed {
		t.Fatalf("expected rejection, cooldown restarted")
	}

	clk.Advance(31 * time.Second)
	if d := b.CanExecute("acc-1"); !d.Allowed {
		t.Fatalf("expected new trial after restarted cooldown, got %+v", d)
	}
}

func TestBreaker_AccountsAreIndependent(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(nil)

	for i := 0; i < 5; i++ {
		b.RecordFailure("acc-1", errors.New("boom"))
	}

	if d := b.CanExecute("acc-1"); d.Allowed {
		t.Fatalf("expected acc-1 rejected")
	}
	if d := b.CanExecute("acc-2"); !d.Allowed {
		t.Fatalf("expected acc-2 unaffected")
	}
}

func TestBreaker_SuccessInClosedClearsFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(nil)

	for i := 0; i < 4; i++ {
		b.RecordFailure("acc-1", errors.New("boom"))
	}
	b.RecordSuccess("acc-1")

	// Counter reset: four more failures still do not open.
	for i := 0; i < 4; i++ {
		b.RecordFailure("acc-1", errors.New("boom"))
	}
	if got := b.State("acc-1"); got != Closed {
		t.Fatalf("expected closed after success reset, got %s", got)
	}
}

func TestBreaker_Remove(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(nil)

	for i := 0; i < 5; i++ {
		b.RecordFailure("acc-1", errors.New("boom"))
	}
	b.Remove("acc-1")

	if d := b.CanExecute("acc-1"); !d.Allowed {
		t.Fatalf("expected fresh circuit after removal, got %+v", d)
	}
}
