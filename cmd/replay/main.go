package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"booking_sync_backend/internal/adapters/storage"
	"booking_sync_backend/internal/eventlog"
	"booking_sync_backend/internal/events"
	"booking_sync_backend/internal/pipeline"
	"booking_sync_backend/internal/webhook"
	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/kv"
	"booking_sync_backend/platform/logger"
)

func main() {
	count := flag.Int("n", 0, "number of most recent logged deliveries to replay (0 = whole log)")
	day := flag.String("day", "", "replay the archived deliveries of this UTC day (YYYY-MM-DD) instead of the redis log")
	dryRun := flag.Bool("dry-run", false, "list the deliveries without replaying them")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting event replay", "count", *count, "day", *day, "dryRun", *dryRun)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, err := config.LoadDomainSettings(cfg.GetDomainConfigFile())
	check(log, "load domain settings", err)

	rdb, err := kv.NewClient(ctx, cfg)
	check(log, "connect to redis", err)
	defer func() { _ = rdb.Close() }()

	// Replays never re-archive, so object storage is only needed to read.
	p, err := pipeline.Build(cfg, settings, pipeline.Infra{Redis: rdb}, events.NewInMemoryBus(log), log)
	check(log, "build pipeline", err)

	entries, err := loadEntries(ctx, cfg, p.EventLog, *count, *day)
	check(log, "load deliveries", err)
	if len(entries) == 0 {
		log.Info("no deliveries to replay")
		return
	}

	// Replay never appends to the event log.
	service := webhook.NewService(p.Deps, p.Options, log)

	var replayed, failed, skipped int
	for _, entry := range entries {
		if ctx.Err() != nil {
			log.Warn("replay interrupted", "replayed", replayed)
			break
		}
		if *dryRun {
			log.Info("would replay", "eventId", entry.ID, "receivedAt", entry.ReceivedAt, "resource", entry.Resource, "status", entry.Status, "resourceId", entry.ResourceID)
			continue
		}

		res := service.Replay(ctx, entry)
		switch {
		case res.Error != "":
			failed++
			log.Warn("replay failed", "eventId", entry.ID, "error", res.Error)
		case res.Skipped != "":
			skipped++
			log.Info("replay skipped", "eventId", entry.ID, "reason", res.Skipped)
		default:
			replayed++
		}
	}

	log.Info("event replay completed", "total", len(entries), "replayed", replayed, "skipped", skipped, "failed", failed)
}

func loadEntries(ctx context.Context, cfg *config.Config, elog *eventlog.Log, count int, day string) ([]eventlog.Entry, error) {
	if day == "" {
		recent, err := elog.ReadRecent(ctx, count)
		if err != nil {
			return nil, err
		}
		return eventlog.OldestFirst(recent), nil
	}

	at, err := time.Parse(time.DateOnly, day)
	if err != nil {
		return nil, err
	}
	objects, err := storage.NewMinIO(cfg)
	if err != nil {
		return nil, err
	}
	return eventlog.NewObjectArchive(objects, cfg.GetMinioBucketEventArchive()).ReadDay(ctx, at)
}

func check(log *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	log.Error("failed to "+what, "error", err)
	panic("failed to " + what + ": " + err.Error())
}
