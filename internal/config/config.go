package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Supervisor SupervisorConfig
	Breaker    BreakerConfig
	RateLimit  RateLimitConfig
	Outbound   OutboundConfig
	Health     HealthConfig
	Inbound    InboundConfig
	Alert      AlertConfig
}

type ServerConfig struct {
	Address string
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	DedupTTL time.Duration
}

type SupervisorConfig struct {
	MaxAccounts     int
	ConnectTimeout  time.Duration
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	MaxAttempts     int
	ReconnectDelay  time.Duration
	QRExpiry        time.Duration
	BackupDelay     time.Duration
	BackupSwapDelay time.Duration
	RestoreParallel int
}

type BreakerConfig struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
}

// TierBudget is the send budget for one account age tier. The numbers are
// deployment configuration, not policy baked into code.
type TierBudget struct {
	PerHour     int
	PerDay      int
	BurstSize   int
	BurstWindow time.Duration
	MinDelay    time.Duration
}

type RateLimitConfig struct {
	New         TierBudget
	Normal      TierBudget
	Established TierBudget
	Recipient   TierBudget
}

type OutboundConfig struct {
	FlushPacing time.Duration
	AttemptCap  int
}

type HealthConfig struct {
	WatchdogInterval time.Duration
	StaleThreshold   time.Duration
	ProbeTimeout     time.Duration
	KeepAliveStart   time.Duration
	KeepAliveFloor   time.Duration
	KeepAliveCap     time.Duration
	ThrottleCooldown time.Duration
	QualityInterval  time.Duration
	QualityThreshold float64
}

type InboundConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	PendingCap    int
}

type AlertConfig struct {
	WebhookURL string
}

func LoadAll() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address: getEnv("SERVER_ADDRESS", ":8080"),
		},
		Database: DatabaseConfig{
			PostgresURL: mustEnv("POSTGRES_URL"),
		},
		Redis: loadRedisConfig(),
		Supervisor: SupervisorConfig{
			MaxAccounts:     getEnvInt("MAX_ACCOUNTS", 20),
			ConnectTimeout:  seconds("CONNECT_TIMEOUT_SECONDS", 30),
			BackoffBase:     seconds("BACKOFF_BASE_SECONDS", 2),
			BackoffCap:      seconds("BACKOFF_CAP_SECONDS", 30),
			MaxAttempts:     getEnvInt("MAX_RECONNECT_ATTEMPTS", 5),
			ReconnectDelay:  seconds("RECONNECT_DELAY_SECONDS", 1),
			QRExpiry:        seconds("QR_EXPIRY_SECONDS", 120),
			BackupDelay:     seconds("BACKUP_DELAY_SECONDS", 30),
			BackupSwapDelay: seconds("BACKUP_SWAP_DELAY_SECONDS", 5),
			RestoreParallel: getEnvInt("RESTORE_PARALLEL", 2),
		},
		Breaker: BreakerConfig{
			FailureThreshold: getEnvInt("BREAKER_FAILURE_THRESHOLD", 5),
			Window:           seconds("BREAKER_WINDOW_SECONDS", 300),
			Cooldown:         seconds("BREAKER_COOLDOWN_SECONDS", 60),
		},
		RateLimit: RateLimitConfig{
			New:         loadTier("RATE_NEW", TierBudget{20, 100, 3, time.Minute, 3 * time.Second}),
			Normal:      loadTier("RATE_NORMAL", TierBudget{50, 300, 5, time.Minute, 2 * time.Second}),
			Established: loadTier("RATE_ESTABLISHED", TierBudget{100, 600, 10, time.Minute, time.Second}),
			Recipient:   loadTier("RATE_RECIPIENT", TierBudget{10, 30, 0, time.Minute, 5 * time.Second}),
		},
		Outbound: OutboundConfig{
			FlushPacing: millis("FLUSH_PACING_MS", 500),
			AttemptCap:  getEnvInt("FLUSH_ATTEMPT_CAP", 3),
		},
		Health: HealthConfig{
			WatchdogInterval: seconds("WATCHDOG_INTERVAL_SECONDS", 15),
			StaleThreshold:   seconds("STALE_THRESHOLD_SECONDS", 120),
			ProbeTimeout:     seconds("PROBE_TIMEOUT_SECONDS", 5),
			KeepAliveStart:   seconds("KEEPALIVE_START_SECONDS", 10),
			KeepAliveFloor:   seconds("KEEPALIVE_FLOOR_SECONDS", 10),
			KeepAliveCap:     seconds("KEEPALIVE_CAP_SECONDS", 60),
			ThrottleCooldown: seconds("THROTTLE_COOLDOWN_SECONDS", 300),
			QualityInterval:  seconds("QUALITY_INTERVAL_SECONDS", 5),
			QualityThreshold: getEnvFloat("QUALITY_THRESHOLD", 0.5),
		},
		Inbound: InboundConfig{
			BatchSize:     getEnvInt("INBOUND_BATCH_SIZE", 10),
			FlushInterval: seconds("INBOUND_FLUSH_SECONDS", 5),
			PendingCap:    getEnvInt("INBOUND_PENDING_CAP", 1000),
		},
		Alert: AlertConfig{
			WebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		},
	}

	validate(cfg)
	return cfg, nil
}

func loadRedisConfig() RedisConfig {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getEnvInt("REDIS_DB", 0),
		DedupTTL: seconds("REDIS_DEDUP_TTL_SECONDS", 86400),
	}
}

func loadTier(prefix string, def TierBudget) TierBudget {
	return TierBudget{
		PerHour:     getEnvInt(prefix+"_PER_HOUR", def.PerHour),
		PerDay:      getEnvInt(prefix+"_PER_DAY", def.PerDay),
		BurstSize:   getEnvInt(prefix+"_BURST_SIZE", def.BurstSize),
		BurstWindow: millis(prefix+"_BURST_WINDOW_MS", int(def.BurstWindow.Milliseconds())),
		MinDelay:    millis(prefix+"_MIN_DELAY_MS", int(def.MinDelay.Milliseconds())),
	}
}

func validate(cfg *Config) {
	if cfg.Supervisor.MaxAccounts <= 0 {
		panic("MAX_ACCOUNTS must be > 0")
	}
	if cfg.Supervisor.MaxAttempts <= 0 {
		panic("MAX_RECONNECT_ATTEMPTS must be > 0")
	}
	if cfg.Supervisor.BackoffBase <= 0 || cfg.Supervisor.BackoffCap < cfg.Supervisor.BackoffBase {
		panic("backoff base/cap misconfigured")
	}
	if cfg.Breaker.FailureThreshold <= 0 {
		panic("BREAKER_FAILURE_THRESHOLD must be > 0")
	}
	if cfg.Outbound.AttemptCap <= 0 {
		panic("FLUSH_ATTEMPT_CAP must be > 0")
	}
	if cfg.Inbound.BatchSize <= 0 || cfg.Inbound.PendingCap < cfg.Inbound.BatchSize {
		panic("inbound batch size/cap misconfigured")
	}
	if cfg.Health.KeepAliveFloor <= 0 || cfg.Health.KeepAliveCap < cfg.Health.KeepAliveFloor {
		panic("keep-alive floor/cap misconfigured")
	}
}

func mustEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("missing required env var: %s", key))
	}
	return val
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		panic(fmt.Sprintf("invalid int for env %s: %s", key, v))
	}
	return i
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid float for env %s: %s", key, v))
	}
	return f
}

func seconds(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Second
}

func millis(key string, def int) time.Duration {
	return time.Duration(getEnvInt(key, def)) * time.Millisecond
}
