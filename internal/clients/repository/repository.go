// Package repository persists client aggregates in Redis. Writes are
// serialized per aggregate with optimistic concurrency: the aggregate key is
// WATCHed, mutated and written back in MULTI/EXEC, and retried on conflict.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"booking_sync_backend/internal/clients/domain"
	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/kv"
	"booking_sync_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no aggregate exists for the lookup.
	ErrNotFound = errors.New("client not found")
	// ErrCorruptAggregate marks stored data that can no longer be decoded.
	// It is fatal for the caller.
	ErrCorruptAggregate = errors.New("corrupt client aggregate")
	// ErrExternalIDTaken is returned when another aggregate already owns the external id.
	ErrExternalIDTaken = errors.New("external id already claimed")
	// ErrVersionConflict is returned when a versioned save lost the race.
	ErrVersionConflict = errors.New("client version conflict")
)

const defaultRetries = 5

// MutateFunc mutates the aggregate in place and returns audit entries to
// record. It may run more than once when the write is retried, so it must not
// have side effects outside the aggregate.
type MutateFunc func(c *domain.Client) ([]domain.StateLogEntry, error)

// Store provides key-value operations for client aggregates.
type Store struct {
	rdb     *redis.Client
	keys    kv.Keyspace
	history HistoryLog
	retries int
	log     *logger.Logger
	now     func() time.Time
}

// New creates a client store. retries bounds optimistic-lock retries per update.
func New(rdb *redis.Client, keys kv.Keyspace, history HistoryLog, retries int, log *logger.Logger) *Store {
	if retries <= 0 {
		retries = defaultRetries
	}
	return &Store{
		rdb:     rdb,
		keys:    keys,
		history: history,
		retries: retries,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for bookkeeping timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) clientKey(id uuid.UUID) string   { return s.keys.Key("client", id.String()) }
func (s *Store) extKey(externalID string) string { return s.keys.Key("client", "ext", externalID) }
func (s *Store) handleKey(handle string) string  { return s.keys.Key("client", "handle", handle) }
func (s *Store) nameKey(first string) string     { return s.keys.Key("client", "name", domain.FoldName(first)) }
func (s *Store) allKey() string                  { return s.keys.Key("clients") }

// Get loads an aggregate by internal id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	raw, err := s.rdb.Get(ctx, s.clientKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("load client", err)
	}
	return decode(raw)
}

// GetByExternalID loads the aggregate owning the booking platform's client id.
func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*domain.Client, error) {
	if externalID == "" {
		return nil, ErrNotFound
	}
	return s.byIndex(ctx, s.extKey(externalID))
}

// GetByHandle loads the aggregate registered under a normalized handle.
func (s *Store) GetByHandle(ctx context.Context, handle string) (*domain.Client, error) {
	if handle == "" {
		return nil, ErrNotFound
	}
	return s.byIndex(ctx, s.handleKey(handle))
}

func (s *Store) byIndex(ctx context.Context, indexKey string) (*domain.Client, error) {
	value, err := s.rdb.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("load client index", err)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("%w: index %s holds %q", ErrCorruptAggregate, indexKey, value)
	}
	// A dangling index entry means the aggregate was deleted; treat as absent.
	return s.Get(ctx, id)
}

// FindByName returns every aggregate indexed under the folded first name.
// Callers apply the last-name rule themselves.
func (s *Store) FindByName(ctx context.Context, firstName string) ([]*domain.Client, error) {
	if domain.FoldName(firstName) == "" {
		return nil, nil
	}
	ids, err := s.rdb.SMembers(ctx, s.nameKey(firstName)).Result()
	if err != nil {
		return nil, apperr.Unavailable("load name index", err)
	}
	return s.loadMany(ctx, ids)
}

// ListAll returns every stored aggregate.
func (s *Store) ListAll(ctx context.Context) ([]*domain.Client, error) {
	ids, err := s.rdb.SMembers(ctx, s.allKey()).Result()
	if err != nil {
		return nil, apperr.Unavailable("list clients", err)
	}
	return s.loadMany(ctx, ids)
}

const loadBatch = 200

func (s *Store) loadMany(ctx context.Context, ids []string) ([]*domain.Client, error) {
	out := make([]*domain.Client, 0, len(ids))
	for start := 0; start < len(ids); start += loadBatch {
		end := min(start+loadBatch, len(ids))
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.keys.Key("client", id))
		}
		values, err := s.rdb.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, apperr.Unavailable("load clients", err)
		}
		for _, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			c, err := decode([]byte(str))
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}

// Create stores a new aggregate. The external id index is WATCHed and
// claimed in the same transaction as the aggregate, so concurrent first
// deliveries for one customer cannot both create and no reader ever sees an
// index entry without its aggregate.
func (s *Store) Create(ctx context.Context, c *domain.Client) error {
	now := s.now()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	c.Version = 1

	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode client: %w", err)
	}

	write := func(p redis.Pipeliner) error {
		p.Set(ctx, s.clientKey(c.ID), payload, 0)
		p.SAdd(ctx, s.allKey(), c.ID.String())
		if c.ExternalID != "" {
			p.Set(ctx, s.extKey(c.ExternalID), c.ID.String(), 0)
		}
		if c.Handle != "" {
			p.Set(ctx, s.handleKey(c.Handle), c.ID.String(), 0)
		}
		if domain.FoldName(c.FirstName) != "" {
			p.SAdd(ctx, s.nameKey(c.FirstName), c.ID.String())
		}
		return nil
	}

	if c.ExternalID == "" {
		if _, err := s.rdb.TxPipelined(ctx, write); err != nil {
			return apperr.Unavailable("create client", err)
		}
	} else if err := s.createClaimed(ctx, c.ExternalID, write); err != nil {
		return err
	}

	s.appendHistory(ctx, []domain.StateLogEntry{{
		ClientID: c.ID,
		To:       c.State,
		Reason:   "created",
	}})
	return nil
}

func (s *Store) createClaimed(ctx context.Context, externalID string, write func(redis.Pipeliner) error) error {
	key := s.extKey(externalID)
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExternalIDTaken
		}
		_, err = tx.TxPipelined(ctx, write)
		return err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return classify("create client", err)
		}
		return nil
	}
	return ErrExternalIDTaken
}

// indexPlan records index entries owned by the aggregate before a write.
type indexPlan struct {
	dropHandle string
	dropName   string
	claimExt   string
}

func (s *Store) planIndexes(ctx context.Context, tx *redis.Tx, before, after *domain.Client) (indexPlan, error) {
	var plan indexPlan

	if after.ExternalID != "" && after.ExternalID != before.ExternalID {
		key := s.extKey(after.ExternalID)
		if err := tx.Watch(ctx, key).Err(); err != nil {
			return plan, err
		}
		owner, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return plan, err
		case owner != after.ID.String():
			return plan, ErrExternalIDTaken
		}
		plan.claimExt = after.ExternalID
	}

	if before.Handle != "" && before.Handle != after.Handle {
		owner, err := tx.Get(ctx, s.handleKey(before.Handle)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return plan, err
		}
		if owner == before.ID.String() {
			plan.dropHandle = before.Handle
		}
	}

	if domain.FoldName(before.FirstName) != domain.FoldName(after.FirstName) {
		plan.dropName = before.FirstName
	}
	return plan, nil
}

func (s *Store) applyIndexes(ctx context.Context, p redis.Pipeliner, plan indexPlan, c *domain.Client) {
	id := c.ID.String()
	if plan.claimExt != "" {
		p.Set(ctx, s.extKey(plan.claimExt), id, 0)
	}
	if plan.dropHandle != "" {
		p.Del(ctx, s.handleKey(plan.dropHandle))
	}
	if c.Handle != "" {
		p.Set(ctx, s.handleKey(c.Handle), id, 0)
	}
	if plan.dropName != "" {
		p.SRem(ctx, s.nameKey(plan.dropName), id)
	}
	if domain.FoldName(c.FirstName) != "" {
		p.SAdd(ctx, s.nameKey(c.FirstName), id)
	}
}

type mutateError struct{ err error }

func (e mutateError) Error() string { return e.err.Error() }
func (e mutateError) Unwrap() error { return e.err }

// Update applies fn to the latest stored version of the aggregate and writes
// it back if anything observable changed. It reports whether a write
// happened. Audit entries returned by fn are recorded even when nothing
// changed, so ignored events stay visible in the history.
func (s *Store) Update(ctx context.Context, id uuid.UUID, fn MutateFunc) (*domain.Client, bool, error) {
	key := s.clientKey(id)

	var (
		result  *domain.Client
		changed bool
		entries []domain.StateLogEntry
	)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		before, err := decode(raw)
		if err != nil {
			return err
		}

		after := before.Clone()
		entries, err = fn(after)
		if err != nil {
			return mutateError{err: err}
		}

		after.ID = before.ID
		if before.ExternalID != "" {
			after.ExternalID = before.ExternalID
		}
		if domain.Equivalent(before, after) {
			result, changed = before, false
			return nil
		}

		plan, err := s.planIndexes(ctx, tx, before, after)
		if err != nil {
			return err
		}

		after.Version = before.Version + 1
		after.UpdatedAt = s.now()
		payload, err := json.Marshal(after)
		if err != nil {
			return mutateError{err: fmt.Errorf("encode client: %w", err)}
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, 0)
			s.applyIndexes(ctx, p, plan, after)
			return nil
		})
		if err != nil {
			return err
		}
		result, changed = after, true
		return nil
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			s.appendHistory(ctx, stamp(entries, id))
			return result, changed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			s.log.Debug("client update conflict, retrying", "clientId", id, "attempt", attempt+1)
			continue
		}
		return nil, false, classify("update client", err)
	}
	return nil, false, apperr.Wrap(apperr.KindConflict, "update client", ErrVersionConflict)
}

// Save writes a caller-modified aggregate, requiring that the stored version
// still equals c.Version, and records one audit entry.
func (s *Store) Save(ctx context.Context, c *domain.Client, reason string, metadata map[string]any) error {
	key := s.clientKey(c.ID)
	expected := c.Version
	var from domain.LifecycleState

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		before, err := decode(raw)
		if err != nil {
			return err
		}
		if before.Version != expected {
			return ErrVersionConflict
		}
		from = before.State

		next := c.Clone()
		if before.ExternalID != "" {
			next.ExternalID = before.ExternalID
		}
		plan, err := s.planIndexes(ctx, tx, before, next)
		if err != nil {
			return err
		}
		next.Version = expected + 1
		next.UpdatedAt = s.now()
		payload, err := json.Marshal(next)
		if err != nil {
			return mutateError{err: fmt.Errorf("encode client: %w", err)}
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, 0)
			s.applyIndexes(ctx, p, plan, next)
			return nil
		})
		if err != nil {
			return err
		}
		c.ExternalID = next.ExternalID
		c.Version = next.Version
		c.UpdatedAt = next.UpdatedAt
		return nil
	}

	err := s.rdb.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		err = ErrVersionConflict
	}
	if err != nil {
		return classify("save client", err)
	}

	s.appendHistory(ctx, []domain.StateLogEntry{{
		ClientID: c.ID,
		To:       c.State,
		From:     from,
		Reason:   reason,
		Metadata: metadata,
	}})
	return nil
}

// Delete removes the aggregate and every index entry it owns.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	key := s.clientKey(id)

	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		c, err := decode(raw)
		if err != nil {
			return err
		}

		var extOwned, handleOwned bool
		if c.ExternalID != "" {
			owner, err := tx.Get(ctx, s.extKey(c.ExternalID)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			extOwned = owner == id.String()
		}
		if c.Handle != "" {
			owner, err := tx.Get(ctx, s.handleKey(c.Handle)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			handleOwned = owner == id.String()
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, key)
			p.SRem(ctx, s.allKey(), id.String())
			if extOwned {
				p.Del(ctx, s.extKey(c.ExternalID))
			}
			if handleOwned {
				p.Del(ctx, s.handleKey(c.Handle))
			}
			if domain.FoldName(c.FirstName) != "" {
				p.SRem(ctx, s.nameKey(c.FirstName), id.String())
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return classify("delete client", err)
		}
		return nil
	}
	return apperr.Wrap(apperr.KindConflict, "delete client", ErrVersionConflict)
}

// MoveHistory moves every audit entry of from onto to.
func (s *Store) MoveHistory(ctx context.Context, from, to uuid.UUID) error {
	if err := s.history.Move(ctx, from, to); err != nil {
		return apperr.Unavailable("move client history", err)
	}
	return nil
}

// History returns up to limit most recent audit entries, oldest first.
func (s *Store) History(ctx context.Context, id uuid.UUID, limit int) ([]domain.StateLogEntry, error) {
	entries, err := s.history.List(ctx, id, limit)
	if err != nil {
		return nil, apperr.Unavailable("load client history", err)
	}
	return entries, nil
}

// appendHistory is best-effort: a committed aggregate is never rolled back
// because the audit write failed.
func (s *Store) appendHistory(ctx context.Context, entries []domain.StateLogEntry) {
	if len(entries) == 0 {
		return
	}
	now := s.now()
	for i := range entries {
		if entries[i].OccurredAt.IsZero() {
			entries[i].OccurredAt = now
		}
	}
	if err := s.history.Append(ctx, entries...); err != nil {
		s.log.WithContext(ctx).Error("failed to append client history", "clientId", entries[0].ClientID, "error", err)
	}
}

func stamp(entries []domain.StateLogEntry, id uuid.UUID) []domain.StateLogEntry {
	for i := range entries {
		if entries[i].ClientID == uuid.Nil {
			entries[i].ClientID = id
		}
	}
	return entries
}

func decode(raw []byte) (*domain.Client, error) {
	var c domain.Client
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptAggregate, err)
	}
	if c.ID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing id", ErrCorruptAggregate)
	}
	return &c, nil
}

func classify(op string, err error) error {
	var me mutateError
	switch {
	case errors.As(err, &me):
		return me.err
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrCorruptAggregate),
		errors.Is(err, ErrExternalIDTaken),
		errors.Is(err, ErrVersionConflict):
		return err
	default:
		return apperr.Unavailable(op, err)
	}
}
