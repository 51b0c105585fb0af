package pipeline

import (
	"context"
	"testing"
	"time"

	"booking_sync_backend/internal/events"
	"booking_sync_backend/internal/webhook"
	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/kv/kvtest"
	"booking_sync_backend/platform/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		RedisKeyPrefix:  kvtest.Prefix,
		EventLogMaxLen:  10,
		StoreCASRetries: 3,
		StageTimeout:    time.Second,
		Timezone:        "UTC",
	}
}

func TestBuildRunsADelivery(t *testing.T) {
	rdb, _ := kvtest.New(t)
	bus := events.NewInMemoryBus(logger.Discard())
	t.Cleanup(bus.Wait)

	p, err := Build(testConfig(), config.DefaultDomainSettings(), Infra{Redis: rdb}, bus, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "instagram", p.Options.HandleField)
	assert.Equal(t, time.UTC, p.Options.Location)

	svc := webhook.NewService(p.Deps, p.Options, logger.Discard())
	body := `{"resource": "record", "status": "create", "resource_id": 1,
		"data": {"datetime": "2099-01-10 10:00:00", "services": [{"title": "Consultation"}],
		"client": {"id": 1, "name": "Anna", "custom_fields": {"instagram": "anna"}}}}`
	res := svc.Process(context.Background(), []byte(body))
	require.True(t, res.OK, "result: %+v", res)

	logged, err := p.EventLog.ReadRecent(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, logged, 1)

	jobs, err := p.Reminders.ListAppointment(context.Background(), "1")
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestBuildRejectsUnknownTimezone(t *testing.T) {
	rdb, _ := kvtest.New(t)
	cfg := testConfig()
	cfg.Timezone = "Mars/Olympus_Mons"

	_, err := Build(cfg, config.DefaultDomainSettings(), Infra{Redis: rdb}, events.NewInMemoryBus(logger.Discard()), logger.Discard())
	assert.Error(t, err)
}

func TestEnsureArchiveWithoutStorage(t *testing.T) {
	assert.NoError(t, EnsureArchive(context.Background(), testConfig(), nil))
}
