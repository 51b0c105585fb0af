package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"booking_sync_backend/internal/adapters/storage"
	"booking_sync_backend/internal/clients/repository"
	"booking_sync_backend/internal/email"
	"booking_sync_backend/internal/events"
	apphttp "booking_sync_backend/internal/http"
	"booking_sync_backend/internal/http/router"
	"booking_sync_backend/internal/notification"
	"booking_sync_backend/internal/pipeline"
	"booking_sync_backend/internal/webhook"
	"booking_sync_backend/internal/whatsapp"
	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/db"
	"booking_sync_backend/platform/kv"
	"booking_sync_backend/platform/logger"
	"booking_sync_backend/platform/retry"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadDomainSettings(cfg.GetDomainConfigFile())
	check(log, "load domain settings", err)

	// ========================================================================
	// Infrastructure
	// ========================================================================

	rdb, err := retry.Value(ctx, retry.Startup, log, "redis", func(ctx context.Context) (*redis.Client, error) {
		return kv.NewClient(ctx, cfg)
	})
	check(log, "connect to redis", err)
	defer func() { _ = rdb.Close() }()
	log.Info("redis connection established", "keyPrefix", cfg.GetRedisKeyPrefix())

	var pool *pgxpool.Pool
	if cfg.GetDatabaseURL() != "" {
		pool, err = retry.Value(ctx, retry.Startup, log, "postgres", func(ctx context.Context) (*pgxpool.Pool, error) {
			return db.Open(ctx, cfg)
		})
		check(log, "open history database", err)
		defer pool.Close()
		log.Info("state history kept in postgres")
	} else {
		log.Info("DATABASE_URL not configured; state history kept in redis")
	}

	var objects storage.ObjectStore
	if cfg.IsMinIOEnabled() {
		store, err := storage.NewMinIO(cfg)
		check(log, "initialize object storage", err)
		check(log, "ensure archive bucket", retry.Do(ctx, retry.Startup, log, "archive bucket", func(ctx context.Context) error {
			return pipeline.EnsureArchive(ctx, cfg, store)
		}))
		objects = store
		log.Info("event archive enabled", "bucket", cfg.GetMinioBucketEventArchive())
	}

	eventBus := events.NewInMemoryBus(log)

	// ========================================================================
	// Modules
	// ========================================================================

	notifications, err := notification.New(settings.Operators, log)
	check(log, "initialize notifications", err)
	mailer, err := email.NewSender(cfg)
	check(log, "configure smtp", err)
	notifications.SetEmailSender(mailer)
	if wa := whatsapp.NewClient(cfg, log); wa != nil {
		notifications.SetWhatsAppSender(wa)
	} else {
		log.Warn("WHATSAPP_URL not configured; operator messages go to email only")
	}
	notifications.RegisterHandlers(eventBus)

	p, err := pipeline.Build(cfg, settings, pipeline.Infra{Redis: rdb, Pool: pool, Objects: objects}, eventBus, log)
	check(log, "build pipeline", err)

	// ========================================================================
	// HTTP
	// ========================================================================

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: router.New(&apphttp.App{
			Config:  cfg,
			Logger:  log,
			Health:  kv.NewPoolAdapter(rdb),
			IsFatal: isFatal,
			Modules: []apphttp.Module{webhook.NewModule(p.Deps, p.Options, log)},
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, draining")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown failed", "error", err)
		}
		eventBus.Wait()
		notifications.Wait()
	case err := <-srvErr:
		if !errors.Is(err, http.ErrServerClosed) {
			check(log, "serve", err)
		}
	}
}

// isFatal reports panics caused by a corrupt client aggregate.
func isFatal(recovered any) bool {
	err, ok := recovered.(error)
	return ok && errors.Is(err, repository.ErrCorruptAggregate)
}

// check aborts startup on err.
func check(log *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	log.Error("failed to "+what, "error", err)
	panic("failed to " + what + ": " + err.Error())
}
