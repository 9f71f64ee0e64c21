package config

import (
	"strings"
	"sync"
	"testing"
	"time"
)

var envMu sync.Mutex

func TestLoadAll_Defaults_NoRedis(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)
	t.Setenv("POSTGRES_URL", "postgres://u:p@localhost:5432/db?sslmode=disable")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected Server.Address default: %q", cfg.Server.Address)
	}
	if cfg.Supervisor.MaxAccounts != 20 {
		t.Fatalf("unexpected MaxAccounts default: %d", cfg.Supervisor.MaxAccounts)
	}
	if cfg.Supervisor.ConnectTimeout != 30*time.Second {
		t.Fatalf("unexpected ConnectTimeout default: %v", cfg.Supervisor.ConnectTimeout)
	}
	if cfg.Supervisor.BackoffBase != 2*time.Second || cfg.Supervisor.BackoffCap != 30*time.Second {
		t.Fatalf("unexpected backoff defaults: base=%v cap=%v",
			cfg.Supervisor.BackoffBase, cfg.Supervisor.BackoffCap)
	}
	if cfg.Supervisor.MaxAttempts != 5 {
		t.Fatalf("unexpected MaxAttempts default: %d", cfg.Supervisor.MaxAttempts)
	}
	if cfg.Breaker.FailureThreshold != 5 || cfg.Breaker.Window != 300*time.Second || cfg.Breaker.Cooldown != 60*time.Second {
		t.Fatalf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Outbound.FlushPacing != 500*time.Millisecond || cfg.Outbound.AttemptCap != 3 {
		t.Fatalf("unexpected outbound defaults: %+v", cfg.Outbound)
	}
	if cfg.Inbound.BatchSize != 10 || cfg.Inbound.FlushInterval != 5*time.Second || cfg.Inbound.PendingCap != 1000 {
		t.Fatalf("unexpected inbound defaults: %+v", cfg.Inbound)
	}
	if cfg.Health.KeepAliveStart != 10*time.Second || cfg.Health.KeepAliveCap != 60*time.Second {
		t.Fatalf("unexpected keep-alive defaults: %+v", cfg.Health)
	}
	if cfg.RateLimit.New.PerHour != 20 || cfg.RateLimit.Normal.PerHour != 50 || cfg.RateLimit.Established.PerHour != 100 {
		t.Fatalf("unexpected tier defaults: %+v", cfg.RateLimit)
	}
	if cfg.RateLimit.Recipient.PerHour != 10 || cfg.RateLimit.Recipient.MinDelay != 5*time.Second {
		t.Fatalf("unexpected recipient budget defaults: %+v", cfg.RateLimit.Recipient)
	}
	if cfg.Redis.Enabled {
		t.Fatalf("expected Redis disabled when REDIS_ADDR not set")
	}
}

func TestLoadAll_WithRedisAndOverrides(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	clearTestEnv(t)
	t.Setenv("POSTGRES_URL", "postgres://u:p@localhost:5432/db?sslmode=disable")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_PASSWORD", "secret")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("REDIS_DEDUP_TTL_SECONDS", "42")
	t.Setenv("MAX_ACCOUNTS", "7")
	t.Setenv("RATE_NEW_PER_HOUR", "5")
	t.Setenv("RATE_NEW_MIN_DELAY_MS", "1500")

	cfg, err := LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error: %v", err)
	}

	if !cfg.Redis.Enabled {
		t.Fatalf("expected Redis enabled")
	}
	if cfg.Redis.Address != "localhost:6379" || cfg.Redis.Password != "secret" || cfg.Redis.DB != 3 {
		t.Fatalf("unexpected redis config: %+v", cfg.Redis)
	}
	if cfg.Redis.DedupTTL != 42*time.Second {
		t.Fatalf("unexpected DedupTTL: %v", cfg.Redis.DedupTTL)
	}
	if cfg.Supervisor.MaxAccounts != 7 {
		t.Fatalf("unexpected MaxAccounts override: %d", cfg.Supervisor.MaxAccounts)
	}
	if cfg.RateLimit.New.PerHour != 5 {
		t.Fatalf("unexpected RATE_NEW_PER_HOUR override: %d", cfg.RateLimit.New.PerHour)
	}
	if cfg.RateLimit.New.MinDelay != 1500*time.Millisecond {
		t.Fatalf("unexpected RATE_NEW_MIN_DELAY_MS override: %v", cfg.RateLimit.New.MinDelay)
	}
	// Untouched tiers keep defaults.
	if cfg.RateLimit.Established.PerDay != 600 {
		t.Fatalf("unexpected established per-day: %d", cfg.RateLimit.Established.PerDay)
	}
}

func TestLoadAll_PanicsOnBadInput(t *testing.T) {
	envMu.Lock()
	defer envMu.Unlock()

	cases := []struct {
		name string
		set  func(t *testing.T)
		want string
	}{
		{
			name: "missing POSTGRES_URL",
			set:  func(t *testing.T) {},
			want: "POSTGRES_URL",
		},
		{
			name: "invalid MAX_ACCOUNTS",
			set: func(t *testing.T) {
				t.Setenv("POSTGRES_URL", "postgres://u:p@localhost/db")
				t.Setenv("MAX_ACCOUNTS", "abc")
			},
			want: "MAX_ACCOUNTS",
		},
		{
			name: "zero MAX_ACCOUNTS",
			set: func(t *testing.T) {
				t.Setenv("POSTGRES_URL", "postgres://u:p@localhost/db")
				t.Setenv("MAX_ACCOUNTS", "0")
			},
			want: "MAX_ACCOUNTS",
		},
		{
			name: "backoff cap below base",
			set: func(t *testing.T) {
				t.Setenv("POSTGRES_URL", "postgres://u:p@localhost/db")
				t.Setenv("BACKOFF_BASE_SECONDS", "10")
				t.Setenv("BACKOFF_CAP_SECONDS", "5")
			},
			want: "backoff",
		},
		{
			name: "invalid QUALITY_THRESHOLD",
			set: func(t *testing.T) {
				t.Setenv("POSTGRES_URL", "postgres://u:p@localhost/db")
				t.Setenv("QUALITY_THRESHOLD", "bad")
			},
			want: "QUALITY_THRESHOLD",
		},
		{
			name: "inbound cap below batch size",
			set: func(t *testing.T) {
				t.Setenv("POSTGRES_URL", "postgres://u:p@localhost/db")
				t.Setenv("INBOUND_BATCH_SIZE", "100")
				t.Setenv("INBOUND_PENDING_CAP", "10")
			},
			want: "inbound",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearTestEnv(t)
			tc.set(t)

			got := mustPanic(t, func() { _, _ = LoadAll() })
			if !strings.Contains(got, tc.want) {
				t.Fatalf("expected panic mentioning %q, got: %q", tc.want, got)
			}
		})
	}
}

func mustPanic(t *testing.T, fn func()) (msg string) {
	t.Helper()

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic, got none")
		}
		if s, ok := r.(string); ok {
			msg = s
		}
	}()
	fn()
	return ""
}

func clearTestEnv(t *testing.T) {
	t.Helper()

	keys := []string{
		"SERVER_ADDRESS", "POSTGRES_URL",
		"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB", "REDIS_DEDUP_TTL_SECONDS",
		"MAX_ACCOUNTS", "CONNECT_TIMEOUT_SECONDS", "BACKOFF_BASE_SECONDS",
		"BACKOFF_CAP_SECONDS", "MAX_RECONNECT_ATTEMPTS", "RECONNECT_DELAY_SECONDS",
		"QR_EXPIRY_SECONDS", "BACKUP_DELAY_SECONDS", "BACKUP_SWAP_DELAY_SECONDS",
		"RESTORE_PARALLEL",
		"BREAKER_FAILURE_THRESHOLD", "BREAKER_WINDOW_SECONDS", "BREAKER_COOLDOWN_SECONDS",
		"FLUSH_PACING_MS", "FLUSH_ATTEMPT_CAP",
		"WATCHDOG_INTERVAL_SECONDS", "STALE_THRESHOLD_SECONDS", "PROBE_TIMEOUT_SECONDS",
		"KEEPALIVE_START_SECONDS", "KEEPALIVE_FLOOR_SECONDS", "KEEPALIVE_CAP_SECONDS",
		"THROTTLE_COOLDOWN_SECONDS", "QUALITY_INTERVAL_SECONDS", "QUALITY_THRESHOLD",
		"INBOUND_BATCH_SIZE", "INBOUND_FLUSH_SECONDS", "INBOUND_PENDING_CAP",
		"ALERT_WEBHOOK_URL",
	}
	for _, prefix := range []string{"RATE_NEW", "RATE_NORMAL", "RATE_ESTABLISHED", "RATE_RECIPIENT"} {
		for _, suffix := range []string{"_PER_HOUR", "_PER_DAY", "_BURST_SIZE", "_BURST_WINDOW_MS", "_MIN_DELAY_MS"} {
			keys = append(keys, prefix+suffix)
		}
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
