package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/AndreiStanca/account-supervisor/internal/breaker"
	"github.com/AndreiStanca/account-supervisor/internal/bus"
	"github.com/AndreiStanca/account-supervisor/internal/cache"
	"github.com/AndreiStanca/account-supervisor/internal/client"
	"github.com/AndreiStanca/account-supervisor/internal/config"
	"github.com/AndreiStanca/account-supervisor/internal/inbound"
	"github.com/AndreiStanca/account-supervisor/internal/model"
	"github.com/AndreiStanca/account-supervisor/internal/outbound"
	"github.com/AndreiStanca/account-supervisor/internal/provider"
	"github.com/AndreiStanca/account-supervisor/internal/ratelimit"
	"github.com/AndreiStanca/account-supervisor/internal/session"
	"github.com/AndreiStanca/account-supervisor/internal/supervisor"
)

type memStore struct {
	mu    sync.Mutex
	creds map[string][]byte
	meta  map[string]session.Metadata
}

func newMemStore() *memStore {
	return &memStore{creds: make(map[string][]byte), meta: make(map[string]session.Metadata)}
}

func (s *memStore) Save(ctx context.Context, accountID string, creds []byte, meta session.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[accountID] = creds
	s.meta[accountID] = meta
	return nil
}

func (s *memStore) Restore(ctx context.Context, accountID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creds[accountID], nil
}

func (s *memStore) Delete(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, accountID)
	delete(s.meta, accountID)
	return nil
}

func (s *memStore) List(ctx context.Context) ([]session.Entry, error) {
	return nil, nil
}

type memQueue struct {
	mu   sync.Mutex
	msgs []*model.OutboundMessage
}

func (q *memQueue) Enqueue(ctx context.Context, msg *model.OutboundMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := *msg
	q.msgs = append(q.msgs, &cp)
	return nil
}

func (q *memQueue) ListQueued(ctx context.Context, accountID string, limit int) ([]model.OutboundMessage, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []model.OutboundMessage
	for _, m := range q.msgs {
		if m.AccountID == accountID && m.Status == model.Queued {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (q *memQueue) setStatus(id string, st model.Status) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range q.msgs {
		if m.ID == id {
			m.Status = st
			return nil
		}
	}
	return errors.New("not found")
}

func (q *memQueue) MarkSending(ctx context.Context, id string) error {
	return q.setStatus(id, model.Sending)
}
func (q *memQueue) MarkSent(ctx context.Context, id, ackID string) error {
	return q.setStatus(id, model.Sent)
}
func (q *memQueue) Requeue(ctx context.Context, id, reason string) error {
	return q.setStatus(id, model.Queued)
}
func (q *memQueue) MarkFailed(ctx context.Context, id, reason string) error {
	return q.setStatus(id, model.Failed)
}

func (q *memQueue) PurgeAccount(ctx context.Context, accountID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.msgs[:0]
	for _, m := range q.msgs {
		if m.AccountID != accountID {
			kept = append(kept, m)
		}
	}
	q.msgs = kept
	return nil
}

type nullSink struct{}

func (nullSink) CommitBatch(ctx context.Context, batch []model.InboundMessage) error { return nil }

func newTestServer(t *testing.T, openDelay time.Duration, maxAccounts int) *httptest.Server {
	t.Helper()

	registry := supervisor.NewRegistry()
	queue := &memQueue{}
	dedup := cache.NewMemoryDedup(0)

	generous := config.TierBudget{PerHour: 10000, PerDay: 10000, BurstWindow: time.Minute}
	limiter := ratelimit.New(config.RateLimitConfig{
		New: generous, Normal: generous, Established: generous, Recipient: generous,
	})
	brk := breaker.New(breaker.Config{FailureThreshold: 5, Window: 5 * time.Minute, Cooldown: time.Minute}, nil)
	pipeline := outbound.NewPipeline(config.OutboundConfig{
		FlushPacing: time.Millisecond, AttemptCap: 3,
	}, queue, limiter, brk, registry)
	inbox := inbound.NewBuffer(config.InboundConfig{
		BatchSize: 10, FlushInterval: time.Hour, PendingCap: 1000,
	}, dedup, nullSink{})

	sup, err := supervisor.New(
		config.SupervisorConfig{
			MaxAccounts:     maxAccounts,
			ConnectTimeout:  time.Hour,
			BackoffBase:     10 * time.Millisecond,
			BackoffCap:      40 * time.Millisecond,
			MaxAttempts:     3,
			ReconnectDelay:  10 * time.Millisecond,
			QRExpiry:        time.Hour,
			BackupDelay:     time.Hour,
			BackupSwapDelay: 10 * time.Millisecond,
			RestoreParallel: 2,
		},
		config.HealthConfig{
			WatchdogInterval: time.Hour,
			StaleThreshold:   time.Hour,
			ProbeTimeout:     time.Second,
			KeepAliveStart:   time.Hour,
			KeepAliveFloor:   time.Hour,
			KeepAliveCap:     4 * time.Hour,
			ThrottleCooldown: time.Hour,
			QualityInterval:  time.Hour,
			QualityThreshold: 0.5,
		},
		supervisor.Deps{
			Connector: &provider.MemoryConnector{OpenDelay: openDelay},
			Sessions:  newMemStore(),
			Queue:     queue,
			Limiter:   limiter,
			Breaker:   brk,
			Pipeline:  pipeline,
			Inbox:     inbox,
			Dedup:     dedup,
			Bus:       bus.New(),
			Alerts:    client.NewAlertClient(""),
			Registry:  registry,
		},
	)
	if err != nil {
		t.Fatalf("supervisor.New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sup.Start(ctx)

	srv := httptest.NewServer(NewRouter(NewHandler(sup)))
	t.Cleanup(func() {
		srv.Close()
		sup.Stop()
		cancel()
	})
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func createAccount(t *testing.T, srv *httptest.Server, name string) model.Account {
	t.Helper()

	resp := postJSON(t, srv.URL+"/v1/accounts", map[string]string{"name": name})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create account status = %d, want 201", resp.StatusCode)
	}
	var acc model.Account
	if err := json.NewDecoder(resp.Body).Decode(&acc); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	return acc
}

func waitConnected(t *testing.T, srv *httptest.Server, accountID string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/v1/accounts")
		if err != nil {
			t.Fatalf("GET accounts: %v", err)
		}
		var body struct {
			Accounts []model.Account `json:"accounts"`
		}
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("decode accounts: %v", err)
		}
		for _, a := range body.Accounts {
			if a.ID == accountID && a.Status == model.StatusConnected {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("account %s never connected", accountID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCreateAccount(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, time.Hour, 5)

	acc := createAccount(t, srv, "desk-1")
	if acc.ID == "" || acc.Name != "desk-1" {
		t.Fatalf("unexpected account payload: %+v", acc)
	}
}

func TestCreateAccount_Validation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, time.Hour, 5)

	resp := postJSON(t, srv.URL+"/v1/accounts", map[string]string{"phone": "+361112233"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing name status = %d, want 400", resp.StatusCode)
	}

	raw, err := http.Post(srv.URL+"/v1/accounts", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	raw.Body.Close()
	if raw.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad json status = %d, want 400", raw.StatusCode)
	}
}

func TestCreateAccount_CapacityConflict(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, time.Hour, 1)

	createAccount(t, srv, "desk-1")

	resp := postJSON(t, srv.URL+"/v1/accounts", map[string]string{"name": "desk-2"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("over-capacity status = %d, want 409", resp.StatusCode)
	}
}

func TestDeleteAccount(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, time.Hour, 5)
	acc := createAccount(t, srv, "desk-1")

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/accounts/"+acc.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}

	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("second DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("repeat delete status = %d, want 404", resp.StatusCode)
	}
}

func TestListAccounts(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, time.Hour, 5)
	createAccount(t, srv, "desk-1")
	createAccount(t, srv, "desk-2")

	resp, err := http.Get(srv.URL + "/v1/accounts")
	if err != nil {
		t.Fatalf("GET accounts: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Accounts []model.Account `json:"accounts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Accounts) != 2 {
		t.Fatalf("expected 2 accounts, got %d", len(body.Accounts))
	}
}

func TestSendMessage_QueuedWhileConnecting(t *testing.T) {
	t.Parallel()

	// The handshake never completes, so sends defer to the durable queue.
	srv := newTestServer(t, time.Hour, 5)
	acc := createAccount(t, srv, "desk-1")

	resp := postJSON(t, srv.URL+"/v1/messages", map[string]any{
		"accountId": acc.ID, "recipient": "+361234567", "payload": "hello",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("queued send status = %d, want 202", resp.StatusCode)
	}

	var res outbound.SendResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if !res.Queued || res.MessageID == "" {
		t.Fatalf("unexpected send result: %+v", res)
	}
}

func TestSendMessage_DirectWhenConnected(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, 10*time.Millisecond, 5)
	acc := createAccount(t, srv, "desk-1")
	waitConnected(t, srv, acc.ID)

	resp := postJSON(t, srv.URL+"/v1/messages", map[string]any{
		"accountId": acc.ID, "recipient": "+361234567", "payload": "hello",
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("direct send status = %d, want 200", resp.StatusCode)
	}

	var res outbound.SendResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res.Queued || res.AckID == "" {
		t.Fatalf("unexpected send result: %+v", res)
	}
}

func TestSendMessage_UnknownAccount(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, time.Hour, 5)

	resp := postJSON(t, srv.URL+"/v1/messages", map[string]any{
		"accountId": "no-such-account", "recipient": "+361234567", "payload": "hello",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown account status = %d, want 404", resp.StatusCode)
	}
}

func TestSendMessage_Validation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, time.Hour, 5)

	for i, body := range []map[string]any{
		{"recipient": "+361", "payload": "x"},
		{"accountId": "a", "payload": "x"},
		{"accountId": "a", "recipient": "+361"},
	} {
		resp := postJSON(t, srv.URL+"/v1/messages", body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("case %d status = %d, want 400", i, resp.StatusCode)
		}
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, 10*time.Millisecond, 5)
	acc := createAccount(t, srv, "desk-1")
	waitConnected(t, srv, acc.ID)

	resp, err := http.Get(srv.URL + "/v1/health")
	if err != nil {
		t.Fatalf("GET health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status    string `json:"status"`
		Accounts  int    `json:"accounts"`
		Connected int    `json:"connected"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Accounts != 1 || body.Connected != 1 {
		t.Fatalf("unexpected health payload: %+v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, time.Hour, 5)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("Content-Type"); got == "" {
		t.Fatalf("expected a content type on the metrics response")
	}
}
