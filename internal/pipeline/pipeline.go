// Package pipeline assembles the reconciliation components shared by the API
// server and the replay tool.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"booking_sync_backend/internal/adapters/storage"
	"booking_sync_backend/internal/bookingapi"
	"booking_sync_backend/internal/classifier"
	"booking_sync_backend/internal/clients/repository"
	"booking_sync_backend/internal/eventlog"
	"booking_sync_backend/internal/events"
	"booking_sync_backend/internal/identity"
	"booking_sync_backend/internal/metrics"
	"booking_sync_backend/internal/reconcile"
	"booking_sync_backend/internal/reminders"
	"booking_sync_backend/internal/staff"
	"booking_sync_backend/internal/webhook"
	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/kv"
	"booking_sync_backend/platform/logger"
	"booking_sync_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Infra holds the connections the pipeline runs on. Pool and Objects are
// optional.
type Infra struct {
	Redis   *redis.Client
	Pool    *pgxpool.Pool
	Objects storage.ObjectStore
}

// Pipeline is the assembled set of components.
type Pipeline struct {
	Store     *repository.Store
	EventLog  *eventlog.Log
	Reminders *reminders.Scheduler
	Deps      webhook.Deps
	Options   webhook.Options
}

// Build wires every reconciliation component from configuration.
func Build(cfg *config.Config, settings *config.DomainSettings, infra Infra, bus events.Bus, log *logger.Logger) (*Pipeline, error) {
	loc, err := time.LoadLocation(cfg.GetTimezone())
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	keys := kv.NewKeyspace(cfg.GetRedisKeyPrefix())
	rdb := infra.Redis

	var history repository.HistoryLog = repository.NewRedisHistory(rdb, keys)
	if infra.Pool != nil {
		history = repository.NewPostgresHistory(infra.Pool)
	}
	store := repository.New(rdb, keys, history, cfg.GetStoreCASRetries(), log)

	elog := eventlog.New(rdb, keys, cfg.GetEventLogMaxLen(), log)
	if infra.Objects != nil {
		elog.SetArchive(eventlog.NewObjectArchive(infra.Objects, cfg.GetMinioBucketEventArchive()))
	}

	scheduler := reminders.New(rdb, keys, reminders.RulesFrom(settings.Reminders), log)

	var provider metrics.Provider
	if api := bookingapi.NewClient(cfg, log); api != nil {
		provider = api
	} else {
		log.Warn("booking API not configured; metrics sync limited to visit dates")
	}

	resolver := identity.New(store, bus, identity.Options{
		AbsentMarkers: settings.AbsentMarkers,
		PhoneRegion:   cfg.GetPhoneRegion(),
	}, log)

	deps := webhook.Deps{
		EventLog:   elog,
		Resolver:   resolver,
		Staff:      staff.NewDirectory(rdb, keys),
		Store:      store,
		Classifier: classifier.New(classifier.VocabularyFrom(settings.Vocabulary)),
		Reconciler: reconcile.New(settings.AdminRoles),
		Metrics:    metrics.NewSyncer(provider, store, cfg.GetBookingAPITimeout(), log),
		Reminders:  scheduler,
		Bus:        bus,
		Validator:  validator.New(),
	}

	return &Pipeline{
		Store:     store,
		EventLog:  elog,
		Reminders: scheduler,
		Deps:      deps,
		Options: webhook.Options{
			CompanyID:    cfg.GetBookingCompanyID(),
			HandleField:  settings.HandleField,
			Location:     loc,
			StageTimeout: cfg.GetStageTimeout(),
		},
	}, nil
}

// EnsureArchive creates the archive bucket when object storage is configured.
func EnsureArchive(ctx context.Context, cfg *config.Config, objects storage.ObjectStore) error {
	if objects == nil {
		return nil
	}
	return objects.EnsureBucket(ctx, cfg.GetMinioBucketEventArchive())
}
