// Package identity maps the customer reference embedded in a booking event
// to a single client aggregate. Lookups fall back from external id to
// handle to name, and duplicates found on the way are merged into the
// aggregate that carries the external id.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"booking_sync_backend/internal/clients/domain"
	"booking_sync_backend/internal/clients/repository"
	"booking_sync_backend/internal/events"
	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/logger"
	"booking_sync_backend/platform/phone"

	"github.com/google/uuid"
)

// ErrNoIdentity is returned when the descriptor carries nothing to match on.
var ErrNoIdentity = apperr.Validation("customer has no external id, handle or name")

// MatchKind names the lookup that found the aggregate.
type MatchKind string

const (
	MatchExternalID MatchKind = "external-id"
	MatchHandle     MatchKind = "handle"
	MatchName       MatchKind = "name"
	MatchCreated    MatchKind = "created"
)

// Customer is the customer descriptor embedded in an inbound event.
type Customer struct {
	ExternalID string
	// Name is the display name, used when first/last are not supplied.
	Name      string
	FirstName string
	LastName  string
	Phone     string
	Email     string
	// Handle is the raw handle field as entered upstream.
	Handle string
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Client    *domain.Client
	MatchedBy MatchKind
	Created   bool
	// Merged lists duplicate aggregates folded into Client.
	Merged []uuid.UUID
	// Ambiguous lists the name candidates when no guess was made.
	Ambiguous []uuid.UUID
}

// Store is the subset of the client store the resolver needs.
type Store interface {
	GetByExternalID(ctx context.Context, externalID string) (*domain.Client, error)
	GetByHandle(ctx context.Context, handle string) (*domain.Client, error)
	FindByName(ctx context.Context, firstName string) ([]*domain.Client, error)
	Create(ctx context.Context, c *domain.Client) error
	Update(ctx context.Context, id uuid.UUID, fn repository.MutateFunc) (*domain.Client, bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	MoveHistory(ctx context.Context, from, to uuid.UUID) error
}

// Options configures a Resolver.
type Options struct {
	AbsentMarkers []string
	PhoneRegion   string
}

// Resolver owns identity matching and merge decisions.
type Resolver struct {
	store  Store
	bus    events.Bus
	policy handlePolicy
	region string
	log    *logger.Logger
	now    func() time.Time
}

// New creates a resolver.
func New(store Store, bus events.Bus, opts Options, log *logger.Logger) *Resolver {
	return &Resolver{
		store:  store,
		bus:    bus,
		policy: newHandlePolicy(opts.AbsentMarkers),
		region: opts.PhoneRegion,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for new aggregates.
func (r *Resolver) SetClock(now func() time.Time) {
	r.now = now
}

// descriptor is a normalized Customer.
type descriptor struct {
	externalID string
	firstName  string
	lastName   string
	phone      string
	email      string
	handle     string
	explicit   bool
}

func (d descriptor) realHandle() string {
	if domain.IsPlaceholderHandle(d.handle) {
		return ""
	}
	return d.handle
}

func (d descriptor) fullName() string {
	return strings.TrimSpace(d.firstName + " " + d.lastName)
}

func (r *Resolver) normalize(c Customer) descriptor {
	d := descriptor{
		externalID: strings.TrimSpace(c.ExternalID),
		firstName:  strings.TrimSpace(c.FirstName),
		lastName:   strings.TrimSpace(c.LastName),
		phone:      phone.NormalizeE164In(c.Phone, r.region),
		email:      strings.ToLower(strings.TrimSpace(c.Email)),
	}
	if d.firstName == "" && d.lastName == "" {
		d.firstName, d.lastName = splitName(c.Name)
	}
	d.handle, d.explicit = r.policy.resolve(c.Handle, d.externalID)
	return d
}

func splitName(name string) (first, last string) {
	fields := strings.Fields(name)
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return fields[0], ""
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// Resolve returns the aggregate for c, creating it when nothing matches.
// Store failures abort resolution; no partial aggregate is left behind.
func (r *Resolver) Resolve(ctx context.Context, c Customer) (*Resolution, error) {
	d := r.normalize(c)
	if d.externalID == "" && d.realHandle() == "" && d.firstName == "" {
		return nil, ErrNoIdentity
	}

	res, err := r.match(ctx, &d)
	if err != nil {
		return nil, err
	}
	if err := r.refresh(ctx, res, d); err != nil {
		return nil, err
	}
	r.flagMissingHandle(ctx, res)
	return res, nil
}

func (r *Resolver) match(ctx context.Context, d *descriptor) (*Resolution, error) {
	byExt, err := lookup(ctx, r.store.GetByExternalID, d.externalID)
	if err != nil {
		return nil, err
	}
	byHandle, err := lookup(ctx, r.store.GetByHandle, d.realHandle())
	if err != nil {
		return nil, err
	}

	if byHandle != nil && byHandle.ExternalID != "" && d.externalID != "" && byHandle.ExternalID != d.externalID {
		r.log.WithContext(ctx).Warn("handle linked to another external id",
			"handle", d.handle, "externalId", d.externalID, "ownerExternalId", byHandle.ExternalID)
		byHandle = nil
		d.handle = domain.MissingHandle(d.externalID)
		d.explicit = false
	}

	switch {
	case byExt != nil:
		res := &Resolution{Client: byExt, MatchedBy: MatchExternalID}
		dup, reason := byHandle, "handle"
		if dup != nil && dup.ID == byExt.ID {
			dup = nil
		}
		if dup == nil {
			if dup, err = r.nameDuplicate(ctx, *d, byExt.ID); err != nil {
				return nil, err
			}
			reason = "name"
		}
		if dup != nil {
			if err := r.merge(ctx, res, dup, reason); err != nil {
				return nil, err
			}
		}
		return res, nil
	case byHandle != nil:
		return r.link(ctx, byHandle, *d, MatchHandle)
	}

	candidates, err := r.nameCandidates(ctx, *d, uuid.Nil)
	if err != nil {
		return nil, err
	}
	switch len(candidates) {
	case 0:
		return r.create(ctx, *d, nil)
	case 1:
		return r.link(ctx, candidates[0], *d, MatchName)
	default:
		return r.create(ctx, *d, candidates)
	}
}

func lookup(ctx context.Context, get func(context.Context, string) (*domain.Client, error), key string) (*domain.Client, error) {
	if key == "" {
		return nil, nil
	}
	c, err := get(ctx, key)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

// nameCandidates returns aggregates without an external id whose names match
// d and whose real handle, if any, does not contradict d's.
func (r *Resolver) nameCandidates(ctx context.Context, d descriptor, exclude uuid.UUID) ([]*domain.Client, error) {
	if d.firstName == "" {
		return nil, nil
	}
	found, err := r.store.FindByName(ctx, d.firstName)
	if err != nil {
		return nil, err
	}

	var out []*domain.Client
	for _, c := range found {
		if c.ID == exclude || c.ExternalID != "" {
			continue
		}
		if !domain.NamesMatch(c.FirstName, c.LastName, d.firstName, d.lastName) {
			continue
		}
		if h := d.realHandle(); h != "" && !c.HasPlaceholderHandle() && c.Handle != h {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// nameDuplicate returns the single name match to merge into the aggregate
// that owns the external id. Several matches are left alone.
func (r *Resolver) nameDuplicate(ctx context.Context, d descriptor, survivor uuid.UUID) (*domain.Client, error) {
	candidates, err := r.nameCandidates(ctx, d, survivor)
	if err != nil || len(candidates) != 1 {
		return nil, err
	}
	return candidates[0], nil
}

// link back-fills the external id onto an aggregate found by handle or name.
// If another delivery claimed the external id first, the found aggregate is
// merged into the winner.
func (r *Resolver) link(ctx context.Context, c *domain.Client, d descriptor, by MatchKind) (*Resolution, error) {
	res := &Resolution{Client: c, MatchedBy: by}
	if d.externalID == "" || c.ExternalID != "" {
		return res, nil
	}

	updated, _, err := r.store.Update(ctx, c.ID, func(next *domain.Client) ([]domain.StateLogEntry, error) {
		if next.ExternalID != "" {
			return nil, nil
		}
		next.ExternalID = d.externalID
		return []domain.StateLogEntry{{
			From:     next.State,
			To:       next.State,
			Reason:   "external id linked",
			Metadata: map[string]any{"externalId": d.externalID, "matchedBy": string(by)},
		}}, nil
	})
	if errors.Is(err, repository.ErrExternalIDTaken) {
		winner, err := r.store.GetByExternalID(ctx, d.externalID)
		if err != nil {
			return nil, err
		}
		res = &Resolution{Client: winner, MatchedBy: MatchExternalID}
		if err := r.merge(ctx, res, c, string(by)); err != nil {
			return nil, err
		}
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	res.Client = updated
	return res, nil
}

func (r *Resolver) create(ctx context.Context, d descriptor, ambiguous []*domain.Client) (*Resolution, error) {
	c := domain.NewClient(r.now())
	c.ExternalID = d.externalID
	c.Handle = d.handle
	c.FirstName = d.firstName
	c.LastName = d.lastName
	c.Phone = d.phone
	c.Email = d.email

	err := r.store.Create(ctx, c)
	if errors.Is(err, repository.ErrExternalIDTaken) {
		winner, err := r.store.GetByExternalID(ctx, d.externalID)
		if err != nil {
			return nil, err
		}
		return &Resolution{Client: winner, MatchedBy: MatchExternalID}, nil
	}
	if err != nil {
		return nil, err
	}

	res := &Resolution{Client: c, MatchedBy: MatchCreated, Created: true}
	if len(ambiguous) > 0 {
		ids := make([]uuid.UUID, 0, len(ambiguous))
		for _, a := range ambiguous {
			ids = append(ids, a.ID)
		}
		res.Ambiguous = ids
		r.log.WithContext(ctx).Warn("ambiguous name match, created new client",
			"clientId", c.ID, "name", d.fullName(), "candidates", len(ids))
		r.bus.Publish(ctx, events.ClientIdentityAmbiguous{
			BaseEvent:    events.NewBaseEvent(),
			ClientID:     c.ID,
			ExternalID:   c.ExternalID,
			Name:         c.FullName(),
			CandidateIDs: ids,
		})
	}
	return res, nil
}

// refresh copies contact details onto the aggregate. Known values are never
// replaced with blanks and a real handle always beats a placeholder.
func (r *Resolver) refresh(ctx context.Context, res *Resolution, d descriptor) error {
	updated, _, err := r.store.Update(ctx, res.Client.ID, func(c *domain.Client) ([]domain.StateLogEntry, error) {
		applyContact(c, d)
		return nil, nil
	})
	if err != nil {
		return err
	}
	res.Client = updated
	return nil
}

func applyContact(c *domain.Client, d descriptor) {
	if d.firstName != "" {
		c.FirstName = d.firstName
	}
	if d.lastName != "" {
		c.LastName = d.lastName
	}
	if d.phone != "" {
		c.Phone = d.phone
	}
	if d.email != "" {
		c.Email = d.email
	}

	switch {
	case d.realHandle() != "":
		c.Handle = d.handle
	case d.handle == "":
	case c.Handle == "":
		c.Handle = d.handle
	case d.explicit && strings.HasPrefix(c.Handle, domain.HandlePrefixMissing):
		c.Handle = d.handle
	}
}

// flagMissingHandle publishes ClientHandleMissing once per aggregate. The
// notification flag is flipped through the store so concurrent deliveries
// cannot both publish.
func (r *Resolver) flagMissingHandle(ctx context.Context, res *Resolution) {
	c := res.Client
	if !c.HasPlaceholderHandle() || c.NotificationSent {
		return
	}

	updated, changed, err := r.store.Update(ctx, c.ID, func(next *domain.Client) ([]domain.StateLogEntry, error) {
		if next.HasPlaceholderHandle() {
			next.NotificationSent = true
		}
		return nil, nil
	})
	if err != nil {
		r.log.WithContext(ctx).StageFailed("identity.flag_missing_handle", err, "clientId", c.ID)
		return
	}
	res.Client = updated
	if !changed {
		return
	}

	r.bus.Publish(ctx, events.ClientHandleMissing{
		BaseEvent:  events.NewBaseEvent(),
		ClientID:   updated.ID,
		ExternalID: updated.ExternalID,
		Name:       updated.FullName(),
		Phone:      updated.Phone,
		Explicit:   updated.HasExplicitNoHandle(),
	})
}
