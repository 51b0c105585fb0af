// Package staff is the master directory: it maps the booking platform's staff
// references to internal master records, creating them on first sight.
package staff

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"booking_sync_backend/internal/clients/domain"
	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/kv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no master matches the lookup.
var ErrNotFound = errors.New("master not found")

// Master is an internal staff record.
type Master struct {
	ID         uuid.UUID `json:"id"`
	ExternalID string    `json:"externalId,omitempty"`
	Name       string    `json:"name"`
}

// Ref is the staff reference carried by an inbound event.
type Ref struct {
	ExternalID string
	Name       string
}

// IsZero reports whether the reference carries nothing to resolve.
func (r Ref) IsZero() bool {
	return strings.TrimSpace(r.ExternalID) == "" && strings.TrimSpace(r.Name) == ""
}

// Directory stores masters in Redis, indexed by external id and folded name.
type Directory struct {
	rdb  *redis.Client
	keys kv.Keyspace
}

// NewDirectory creates a master directory.
func NewDirectory(rdb *redis.Client, keys kv.Keyspace) *Directory {
	return &Directory{rdb: rdb, keys: keys}
}

func (d *Directory) masterKey(id uuid.UUID) string { return d.keys.Key("staff", id.String()) }
func (d *Directory) extKey(extID string) string    { return d.keys.Key("staff", "ext", extID) }
func (d *Directory) nameKey(name string) string    { return d.keys.Key("staff", "name", domain.FoldName(name)) }

// ResolveByExternalStaffID finds the master linked to a booking platform staff id.
func (d *Directory) ResolveByExternalStaffID(ctx context.Context, externalID string) (*Master, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, ErrNotFound
	}
	return d.byIndex(ctx, d.extKey(externalID))
}

// ResolveByDisplayName finds a master by case-folded display name.
func (d *Directory) ResolveByDisplayName(ctx context.Context, name string) (*Master, error) {
	if domain.FoldName(name) == "" {
		return nil, ErrNotFound
	}
	return d.byIndex(ctx, d.nameKey(name))
}

func (d *Directory) byIndex(ctx context.Context, indexKey string) (*Master, error) {
	value, err := d.rdb.Get(ctx, indexKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("load master index", err)
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return nil, fmt.Errorf("master index %s holds %q", indexKey, value)
	}
	raw, err := d.rdb.Get(ctx, d.masterKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("load master", err)
	}
	var m Master
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode master %s: %w", id, err)
	}
	return &m, nil
}

// Ensure resolves ref by external id, then by name, and creates a master
// when neither matches. A name match gains the external id.
func (d *Directory) Ensure(ctx context.Context, ref Ref) (*Master, error) {
	if ref.IsZero() {
		return nil, ErrNotFound
	}

	m, err := d.ResolveByExternalStaffID(ctx, ref.ExternalID)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	m, err = d.ResolveByDisplayName(ctx, ref.Name)
	switch {
	case err == nil:
		if m.ExternalID == "" && ref.ExternalID != "" {
			m.ExternalID = ref.ExternalID
			if err := d.write(ctx, m); err != nil {
				return nil, err
			}
		}
		return m, nil
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	m = &Master{ID: uuid.New(), ExternalID: strings.TrimSpace(ref.ExternalID), Name: strings.TrimSpace(ref.Name)}
	if m.Name == "" {
		m.Name = "master " + m.ExternalID
	}

	// Two deliveries may race to create the same master; the external id
	// claim decides the winner.
	if m.ExternalID != "" {
		claimed, err := d.rdb.SetNX(ctx, d.extKey(m.ExternalID), m.ID.String(), 0).Result()
		if err != nil {
			return nil, apperr.Unavailable("claim master", err)
		}
		if !claimed {
			return d.ResolveByExternalStaffID(ctx, m.ExternalID)
		}
	}
	if err := d.write(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func (d *Directory) write(ctx context.Context, m *Master) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode master: %w", err)
	}
	_, err = d.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, d.masterKey(m.ID), raw, 0)
		if m.ExternalID != "" {
			p.Set(ctx, d.extKey(m.ExternalID), m.ID.String(), 0)
		}
		if domain.FoldName(m.Name) != "" {
			p.SetNX(ctx, d.nameKey(m.Name), m.ID.String(), 0)
		}
		return nil
	})
	if err != nil {
		return apperr.Unavailable("save master", err)
	}
	return nil
}
