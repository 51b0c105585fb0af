package identity

import (
	"context"
	"errors"

	"booking_sync_backend/internal/clients/domain"
	"booking_sync_backend/internal/clients/repository"
	"booking_sync_backend/internal/events"
)

// merge folds dup into res.Client, moves dup's history and deletes it. The
// survivor is written first so a failure part-way leaves dup in place and a
// later delivery repeats the merge.
func (r *Resolver) merge(ctx context.Context, res *Resolution, dup *domain.Client, reason string) error {
	survivor := res.Client
	log := r.log.WithContext(ctx)

	merged, _, err := r.store.Update(ctx, survivor.ID, func(c *domain.Client) ([]domain.StateLogEntry, error) {
		from := c.State
		absorb(c, dup)
		return []domain.StateLogEntry{{
			From:   from,
			To:     c.State,
			Reason: "merged duplicate client",
			Metadata: map[string]any{
				"removedId": dup.ID.String(),
				"matchedBy": reason,
			},
		}}, nil
	})
	if err != nil {
		return err
	}
	res.Client = merged

	if err := r.store.MoveHistory(ctx, dup.ID, survivor.ID); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, dup.ID); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	res.Merged = append(res.Merged, dup.ID)
	log.Info("merged duplicate client", "survivorId", survivor.ID, "removedId", dup.ID, "matchedBy", reason)
	r.bus.Publish(ctx, events.ClientsMerged{
		BaseEvent:  events.NewBaseEvent(),
		SurvivorID: survivor.ID,
		RemovedID:  dup.ID,
		ExternalID: merged.ExternalID,
		Name:       merged.FullName(),
		Reason:     reason,
	})
	return nil
}

// absorb fills the survivor from the duplicate without discarding anything
// the survivor already knows.
func absorb(dst, src *domain.Client) {
	if dst.FirstName == "" {
		dst.FirstName = src.FirstName
	}
	if dst.LastName == "" {
		dst.LastName = src.LastName
	}
	if dst.Phone == "" {
		dst.Phone = src.Phone
	}
	if dst.Email == "" {
		dst.Email = src.Email
	}
	if dst.HasPlaceholderHandle() && !src.HasPlaceholderHandle() {
		dst.Handle = src.Handle
	}

	if dst.State == domain.StateNewContact || src.State.IsAdministrative() {
		dst.State = src.State
		dst.PaidSubtype = src.PaidSubtype
	}
	if dst.Consultation.AppointmentID == "" {
		dst.Consultation = src.Consultation
	}
	if dst.Paid.AppointmentID == "" {
		dst.Paid = src.Paid
	}

	dst.SignedUpForPaidService = dst.SignedUpForPaidService || src.SignedUpForPaidService
	dst.ConvertedFromConsultation = dst.ConvertedFromConsultation || src.ConvertedFromConsultation
	dst.MasterManual = dst.MasterManual || src.MasterManual
	dst.NoShowCount = max(dst.NoShowCount, src.NoShowCount)

	if len(src.Appointments) > 0 && dst.Appointments == nil {
		dst.Appointments = make(map[string]domain.AppointmentKind, len(src.Appointments))
	}
	for id, kind := range src.Appointments {
		if _, ok := dst.Appointments[id]; !ok {
			dst.Appointments[id] = kind
		}
	}

	if src.Metrics.Spend.GreaterThan(dst.Metrics.Spend) {
		dst.Metrics.Spend = src.Metrics.Spend
	}
	dst.Metrics.Visits = max(dst.Metrics.Visits, src.Metrics.Visits)
	if last := src.Metrics.LastVisitAt; last != nil && (dst.Metrics.LastVisitAt == nil || last.After(*dst.Metrics.LastVisitAt)) {
		t := *last
		dst.Metrics.LastVisitAt = &t
	}
}
