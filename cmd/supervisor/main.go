package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/AndreiStanca/account-supervisor/internal/api"
	"github.com/AndreiStanca/account-supervisor/internal/breaker"
	"github.com/AndreiStanca/account-supervisor/internal/bus"
	"github.com/AndreiStanca/account-supervisor/internal/cache"
	"github.com/AndreiStanca/account-supervisor/internal/client"
	"github.com/AndreiStanca/account-supervisor/internal/config"
	"github.com/AndreiStanca/account-supervisor/internal/inbound"
	"github.com/AndreiStanca/account-supervisor/internal/metrics"
	"github.com/AndreiStanca/account-supervisor/internal/outbound"
	"github.com/AndreiStanca/account-supervisor/internal/provider"
	"github.com/AndreiStanca/account-supervisor/internal/ratelimit"
	"github.com/AndreiStanca/account-supervisor/internal/repo"
	"github.com/AndreiStanca/account-supervisor/internal/session"
	"github.com/AndreiStanca/account-supervisor/internal/supervisor"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
	if err != nil {
		log.Fatal("postgres:", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatal("postgres ping:", err)
	}

	var dedup cache.DedupCache
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal("redis ping:", err)
		}
		defer rdb.Close()
		dedup = cache.NewRedisDedup(rdb, cfg.Redis.DedupTTL)
	} else {
		dedup = cache.NewMemoryDedup(0)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	queueRepo := repo.NewPostgresOutboundRepo(pool)
	inboundRepo := repo.NewPostgresInboundRepo(pool)
	sessions := session.NewPostgresStore(pool)
	limiter := ratelimit.New(cfg.RateLimit)
	brk := breaker.New(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
	}, nil)
	evbus := bus.New()
	alerts := client.NewAlertClient(cfg.Alert.WebhookURL)
	inbox := inbound.NewBuffer(cfg.Inbound, dedup, inboundRepo)
	registry := supervisor.NewRegistry()
	pipeline := outbound.NewPipeline(cfg.Outbound, queueRepo, limiter, brk, registry)

	// Stand-in until a real provider adapter is linked in.
	connector := &provider.MemoryConnector{OpenDelay: time.Second}

	sup, err := supervisor.New(cfg.Supervisor, cfg.Health, supervisor.Deps{
		Connector: connector,
		Sessions:  sessions,
		Queue:     queueRepo,
		Limiter:   limiter,
		Breaker:   brk,
		Pipeline:  pipeline,
		Inbox:     inbox,
		Dedup:     dedup,
		Bus:       evbus,
		Alerts:    alerts,
		Registry:  registry,
	})
	if err != nil {
		log.Fatal(err)
	}
	brk.SetNotifier(sup.BreakerNotifier())

	sup.Start(ctx)
	if err := sup.RestoreSessions(ctx); err != nil {
		slog.Error("session restore incomplete", "err", err)
	}

	srv := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: api.NewRouter(api.NewHandler(sup)),
	}

	slog.Info("supervisor starting",
		"addr", cfg.Server.Address,
		"maxAccounts", cfg.Supervisor.MaxAccounts,
		"redis", cfg.Redis.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		inbox.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sup.Stop()

		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	slog.Info("supervisor stopped")
}
