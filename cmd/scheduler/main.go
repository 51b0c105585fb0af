package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"booking_sync_backend/internal/email"
	"booking_sync_backend/internal/notification"
	"booking_sync_backend/internal/reminders"
	"booking_sync_backend/internal/scheduler"
	"booking_sync_backend/internal/whatsapp"
	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/kv"
	"booking_sync_backend/platform/logger"
	"booking_sync_backend/platform/retry"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "queue", cfg.GetAsynqQueueName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadDomainSettings(cfg.GetDomainConfigFile())
	check(log, "load domain settings", err)

	rdb, err := retry.Value(ctx, retry.Startup, log, "redis", func(ctx context.Context) (*redis.Client, error) {
		return kv.NewClient(ctx, cfg)
	})
	check(log, "connect to redis", err)
	defer func() { _ = rdb.Close() }()

	jobs := reminders.New(rdb, kv.NewKeyspace(cfg.GetRedisKeyPrefix()), reminders.RulesFrom(settings.Reminders), log)

	// Reminders go to clients over WhatsApp; operators may also get e-mail.
	wa := whatsapp.NewClient(cfg, log)
	if wa == nil {
		check(log, "start reminder delivery", errors.New("WHATSAPP_URL not configured"))
	}
	notifications, err := notification.New(settings.Operators, log)
	check(log, "initialize notifications", err)
	mailer, err := email.NewSender(cfg)
	check(log, "configure smtp", err)
	notifications.SetEmailSender(mailer)
	notifications.SetWhatsAppSender(wa)

	queue, err := scheduler.NewClient(cfg)
	check(log, "initialize reminder queue", err)
	defer func() { _ = queue.Close() }()

	go scheduler.NewReminderDispatcher(cfg, jobs, queue, log).Run(ctx)

	worker, err := scheduler.NewWorker(cfg, jobs, notifications, log)
	check(log, "initialize reminder worker", err)

	worker.Run(ctx)
	notifications.Wait()
	log.Info("scheduler stopped")
}

func check(log *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	log.Error("failed to "+what, "error", err)
	panic("failed to " + what + ": " + err.Error())
}
