package reconcile

import (
	"time"

	"booking_sync_backend/internal/clients/domain"
)

// consultation handles rules 2 to 5 for consultation appointments.
func (a *applier) consultation() {
	c := &a.next.Consultation
	ev := a.ev
	a.scope = ScopeConsultation

	tracked := ev.AppointmentID != "" && c.AppointmentID == ev.AppointmentID && !c.Deleted
	if !tracked {
		if a.staleConsultation() {
			a.ignore(RuleIgnored, "consultation older than the active booking")
			return
		}
		a.bookConsultation()
		a.schedulable = true
		if ev.Attendance == AttendanceUnknown {
			return
		}
	} else {
		a.schedulable = true
		if a.isReschedule() {
			a.reschedule()
			return
		}
	}

	switch ev.Attendance {
	case AttendanceNoShow:
		a.noShow()
	case AttendanceArrived:
		a.arrival()
	default:
		a.refreshDate()
	}
}

func (a *applier) staleConsultation() bool {
	c := a.next.Consultation
	if c.AppointmentID == "" || c.Deleted || c.AppointmentID == a.ev.AppointmentID {
		return false
	}
	return c.BookedAt != nil && !a.ev.At.IsZero() && a.ev.At.Before(*c.BookedAt)
}

// Rule 2: a consultation appointment not tracked yet becomes the active booking.
func (a *applier) bookConsultation() {
	a.rule = RuleBooked
	prev := a.next.Consultation

	facet := domain.ConsultationFacet{
		AppointmentID: a.ev.AppointmentID,
		Online:        a.ev.Services.IsOnlineConsultation,
		Cancelled:     domain.False,
		ConsultantID:  prev.ConsultantID,
		Consultant:    prev.Consultant,
		CountedNoShow: prev.CountedNoShow,
	}
	if !a.ev.At.IsZero() {
		facet.BookedAt = timePtr(a.ev.At)
	}
	if !a.ev.Services.IsConsultation && prev.AppointmentID == a.ev.AppointmentID {
		facet.Online = prev.Online
	}
	a.next.Consultation = facet
	a.assignConsultant()

	// A consultation must not masquerade as a sale.
	if !a.next.SignedUpForPaidService {
		a.next.Paid.AppointmentAt = nil
	}

	// Clients already in the paid stage keep their state.
	if a.next.State != domain.StatePaidService {
		a.setState(domain.StateConsultationBooked, "consultation booked", false)
	} else {
		a.note("consultation booked")
	}
}

// isReschedule reports an administrative date change, or any date change
// that also carries a no-show: the move wins over the missed visit.
func (a *applier) isReschedule() bool {
	c := a.next.Consultation
	moved := a.ev.Kind == KindUpdated &&
		c.BookedAt != nil &&
		!a.ev.At.IsZero() &&
		!a.ev.At.Equal(*c.BookedAt)
	return moved && (a.ev.ActorIsAdmin || a.ev.Attendance == AttendanceNoShow)
}

// Rule 3. Takes precedence over a no-show carried by the same event.
func (a *applier) reschedule() {
	a.rule = RuleRescheduled
	c := &a.next.Consultation
	c.BookedAt = timePtr(a.ev.At)
	if c.Attended == domain.False {
		c.Attended = domain.Unknown
	}
	a.assignConsultant()

	if a.next.State != domain.StatePaidService {
		a.setState(domain.StateConsultationRescheduled, "consultation rescheduled", true)
	} else {
		a.note("consultation rescheduled")
	}
}

// Rule 4. attended=true never regresses.
func (a *applier) noShow() {
	c := &a.next.Consultation
	if c.Attended == domain.True {
		a.ignore(RuleIgnored, "no-show after recorded arrival")
		return
	}
	if a.rule == "" {
		a.rule = RuleNoShow
	}

	c.Attended = domain.False
	if key := noShowKey(c.AppointmentID, c.BookedAt); c.CountedNoShow != key {
		c.CountedNoShow = key
		a.next.NoShowCount++
	}

	if a.next.State != domain.StatePaidService {
		a.setState(domain.StateConsultationNoShow, "consultation no-show", false)
	}
}

// Rule 5.
func (a *applier) arrival() {
	if !a.attendedNow() {
		a.ignore(RuleIgnored, "arrival reported for a future appointment")
		return
	}
	if a.rule == "" {
		a.rule = RuleArrived
	}

	c := &a.next.Consultation
	wasAttended := c.Attended == domain.True
	if c.Attended == domain.False && c.CountedNoShow == noShowKey(c.AppointmentID, c.BookedAt) {
		// Upstream corrected its own no-show.
		a.next.NoShowCount--
		c.CountedNoShow = ""
	}
	c.Attended = domain.True
	a.assignConsultant()

	switch a.next.State {
	case domain.StateConsultationNoShow, domain.StateNewContact, domain.StateClient:
		a.setState(domain.StateConsultationBooked, "attendance normalized", false)
	}

	if !wasAttended {
		a.markVisit()
	}
}

// A date change by a non-administrative actor moves the booking without a
// reschedule transition.
func (a *applier) refreshDate() {
	c := &a.next.Consultation
	if a.ev.At.IsZero() || (c.BookedAt != nil && c.BookedAt.Equal(a.ev.At)) {
		return
	}
	if a.rule == "" {
		a.rule = RuleDateUpdated
	}
	c.BookedAt = timePtr(a.ev.At)
	a.note("consultation date updated")
}

func noShowKey(appointmentID string, at *time.Time) string {
	if at == nil {
		return appointmentID
	}
	return appointmentID + "@" + at.UTC().Format(time.RFC3339)
}
