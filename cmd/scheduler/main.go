package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campaign_backend/internal/chat"
	"campaign_backend/internal/events"
	"campaign_backend/internal/lifecycle"
	"campaign_backend/internal/maintenance"
	"campaign_backend/internal/notify"
	"campaign_backend/internal/provider"
	roundsrepo "campaign_backend/internal/rounds/repository"
	"campaign_backend/internal/scheduler"
	"campaign_backend/internal/scheduler/jobs"
	"campaign_backend/platform/config"
	"campaign_backend/platform/db"
	"campaign_backend/platform/lease"
	"campaign_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler worker", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	rdb, err := newRedisClient(cfg)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		panic("failed to connect to redis: " + err.Error())
	}
	defer func() { _ = rdb.Close() }()

	eventBus := events.NewInMemoryBus(log)

	chatClient := chat.NewClient(cfg, log)
	alerter := notify.NewAlerter(chatClient, notify.NewAlertMailer(cfg), cfg, log)
	notify.NewModule(alerter, log).RegisterHandlers(eventBus)

	providerClient := provider.NewClient(cfg, log)
	roundRepo := roundsrepo.New(pool)
	jobRepo := jobs.New(pool)
	maintRepo := maintenance.NewRepository(pool)

	var maintRunner lifecycle.MaintenanceRunner
	if cfg.IsMaintenanceEnabled() {
		maintRunner = maintenance.NewOrchestrator(providerClient, roundRepo, maintRepo, eventBus, cfg, log)
	}

	orchestrator := lifecycle.NewOrchestrator(
		roundRepo,
		jobRepo,
		lease.NewManager(rdb, cfg.GetRoundLeaseTTL()),
		lifecycle.NewActions(providerClient, maintRepo, cfg, log),
		maintRunner,
		notify.NewDispatcher(chatClient, roundRepo, cfg, log),
		eventBus,
		cfg,
		log,
	)

	queueClient, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize queue client", "error", err)
		panic("failed to initialize queue client: " + err.Error())
	}
	defer func() { _ = queueClient.Close() }()

	roundScheduler := scheduler.NewRoundScheduler(jobRepo, queueClient, cfg, log)
	reconciler := scheduler.NewReconciler(roundRepo, jobRepo, roundScheduler, eventBus, log)
	if err := reconciler.Run(ctx); err != nil {
		// The worker still starts; unrepaired rounds were logged and the
		// next restart retries them.
		log.Warn("startup reconciliation incomplete", "error", err)
	}

	worker, err := scheduler.NewWorker(cfg, orchestrator, log)
	if err != nil {
		log.Error("failed to initialize worker", "error", err)
		panic("failed to initialize worker: " + err.Error())
	}

	worker.Run(ctx)
}

func newRedisClient(cfg *config.Config) (*redis.Client, error) {
	if cfg.GetRedisURL() == "" {
		return nil, errors.New("redis url not configured")
	}
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		return nil, err
	}
	if cfg.GetRedisTLSInsecure() && opt.TLSConfig != nil {
		opt.TLSConfig.InsecureSkipVerify = true
	}
	return redis.NewClient(opt), nil
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
