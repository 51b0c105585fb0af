package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"booking_sync_backend/internal/bookingapi"
	"booking_sync_backend/internal/clients/domain"
	"booking_sync_backend/internal/clients/repository"
	"booking_sync_backend/platform/kv/kvtest"
	"booking_sync_backend/platform/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	metrics bookingapi.Metrics
	err     error
	calls   int
}

func (f *fakeProvider) FetchMetrics(_ context.Context, _ string) (bookingapi.Metrics, error) {
	f.calls++
	return f.metrics, f.err
}

func setup(t *testing.T) (*repository.Store, *domain.Client) {
	t.Helper()
	rdb, _ := kvtest.New(t)
	keys := kvtest.Keys()
	store := repository.New(rdb, keys, repository.NewRedisHistory(rdb, keys), 5, logger.Discard())

	c := domain.NewClient(time.Date(2025, 11, 1, 9, 0, 0, 0, time.UTC))
	c.ExternalID = "1001"
	c.FirstName = "Anna"
	require.NoError(t, store.Create(context.Background(), c))
	return store, c
}

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func TestSyncOverwritesCountersAndAdvancesLastVisit(t *testing.T) {
	ctx := context.Background()
	store, c := setup(t)
	provider := &fakeProvider{metrics: bookingapi.Metrics{Spend: decimal.NewFromInt(3000), Visits: 2}}
	s := NewSyncer(provider, store, time.Second, logger.Discard())

	require.NoError(t, s.Sync(ctx, c.ID, c.ExternalID, at("2025-11-20T10:00:00Z")))
	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(3000).Equal(got.Metrics.Spend))
	assert.Equal(t, 2, got.Metrics.Visits)
	require.NotNil(t, got.Metrics.LastVisitAt)
	assert.Equal(t, *at("2025-11-20T10:00:00Z"), *got.Metrics.LastVisitAt)

	// The external system is authoritative for counters, even downwards.
	provider.metrics = bookingapi.Metrics{Spend: decimal.NewFromInt(1000), Visits: 1}
	require.NoError(t, s.Sync(ctx, c.ID, c.ExternalID, at("2025-10-01T10:00:00Z")))
	got, err = store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Metrics.Visits)
	assert.Equal(t, *at("2025-11-20T10:00:00Z"), *got.Metrics.LastVisitAt, "lastVisitAt must not regress")
}

func TestSyncAppliesVisitWhenFetchFails(t *testing.T) {
	ctx := context.Background()
	store, c := setup(t)
	provider := &fakeProvider{err: errors.New("connection refused")}
	s := NewSyncer(provider, store, time.Second, logger.Discard())

	require.NoError(t, s.Sync(ctx, c.ID, c.ExternalID, at("2025-11-20T10:00:00Z")))
	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Metrics.Visits)
	require.NotNil(t, got.Metrics.LastVisitAt)
}

func TestSyncWithoutProviderOrVisitIsNoop(t *testing.T) {
	ctx := context.Background()
	store, c := setup(t)
	s := NewSyncer(nil, store, time.Second, logger.Discard())

	require.NoError(t, s.Sync(ctx, c.ID, c.ExternalID, nil))
	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Version, got.Version)
}

func TestSyncMissingClient(t *testing.T) {
	store, _ := setup(t)
	s := NewSyncer(&fakeProvider{}, store, time.Second, logger.Discard())

	err := s.Sync(context.Background(), domain.NewClient(time.Now()).ID, "1001", nil)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAdvanceLastVisit(t *testing.T) {
	c := &domain.Client{}
	AdvanceLastVisit(c, nil)
	assert.Nil(t, c.Metrics.LastVisitAt)

	AdvanceLastVisit(c, at("2025-11-20T10:00:00Z"))
	AdvanceLastVisit(c, at("2025-11-20T10:00:00Z"))
	AdvanceLastVisit(c, at("2025-11-19T10:00:00Z"))
	assert.Equal(t, *at("2025-11-20T10:00:00Z"), *c.Metrics.LastVisitAt)

	AdvanceLastVisit(c, at("2025-11-21T10:00:00+03:00"))
	assert.Equal(t, *at("2025-11-21T07:00:00Z"), *c.Metrics.LastVisitAt)
}
