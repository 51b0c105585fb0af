// Package metrics back-fills derived client counters. Spend and visit count
// come from the booking platform and always overwrite local values;
// lastVisitAt is derived from arrivals and only moves forward.
package metrics

import (
	"context"
	"errors"
	"time"

	"booking_sync_backend/internal/bookingapi"
	"booking_sync_backend/internal/clients/domain"
	"booking_sync_backend/internal/clients/repository"
	"booking_sync_backend/platform/logger"

	"github.com/google/uuid"
)

// Provider fetches counters for a client from the external system.
type Provider interface {
	FetchMetrics(ctx context.Context, externalID string) (bookingapi.Metrics, error)
}

// Store is the subset of the client store used for merging.
type Store interface {
	Update(ctx context.Context, id uuid.UUID, fn repository.MutateFunc) (*domain.Client, bool, error)
}

// Syncer merges fetched counters into committed aggregates.
type Syncer struct {
	provider Provider
	store    Store
	timeout  time.Duration
	log      *logger.Logger
}

// NewSyncer creates a syncer. timeout bounds the external fetch only.
func NewSyncer(provider Provider, store Store, timeout time.Duration, log *logger.Logger) *Syncer {
	return &Syncer{provider: provider, store: store, timeout: timeout, log: log}
}

// Sync fetches counters for externalID and merges them into the aggregate
// together with visitAt, when set. A failed fetch is logged and the visit
// timestamp is still applied; only a store failure is returned.
func (s *Syncer) Sync(ctx context.Context, clientID uuid.UUID, externalID string, visitAt *time.Time) error {
	fetched, ok := s.fetch(ctx, externalID)
	if !ok && visitAt == nil {
		return nil
	}

	_, _, err := s.store.Update(ctx, clientID, func(c *domain.Client) ([]domain.StateLogEntry, error) {
		if ok {
			c.Metrics.Spend = fetched.Spend
			c.Metrics.Visits = fetched.Visits
		}
		AdvanceLastVisit(c, visitAt)
		return nil, nil
	})
	return err
}

func (s *Syncer) fetch(ctx context.Context, externalID string) (bookingapi.Metrics, bool) {
	if s.provider == nil || externalID == "" {
		return bookingapi.Metrics{}, false
	}

	fetchCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	m, err := s.provider.FetchMetrics(fetchCtx, externalID)
	switch {
	case err == nil:
		return m, true
	case errors.Is(err, bookingapi.ErrDisabled):
	default:
		s.log.WithContext(ctx).StageFailed("metrics.fetch", err, "externalId", externalID)
	}
	return bookingapi.Metrics{}, false
}

// AdvanceLastVisit sets lastVisitAt to at when it is strictly later than the
// stored value.
func AdvanceLastVisit(c *domain.Client, at *time.Time) {
	if at == nil || at.IsZero() {
		return
	}
	if last := c.Metrics.LastVisitAt; last != nil && !at.After(*last) {
		return
	}
	t := at.UTC()
	c.Metrics.LastVisitAt = &t
}
