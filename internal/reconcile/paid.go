package reconcile

import (
	"booking_sync_backend/internal/clients/domain"

	"github.com/shopspring/decimal"
)

const unassignedProvider = "unassigned"

// Rule 6. classified is false when the event carries no service lines and
// only matched the tracked paid appointment by id.
func (a *applier) paid(classified bool) {
	p := &a.next.Paid
	ev := a.ev
	a.scope = ScopePaid

	same := ev.AppointmentID != "" && p.AppointmentID == ev.AppointmentID
	accept := same ||
		p.AppointmentAt == nil ||
		p.Deleted ||
		ev.At.After(a.now) ||
		ev.At.After(*p.AppointmentAt)
	if !accept {
		a.ignore(RuleIgnored, "paid booking older than the active one")
		return
	}
	if a.rule == "" {
		a.rule = RulePaidBooked
	}
	a.schedulable = true

	if !same {
		*p = domain.PaidFacet{
			AppointmentID:   ev.AppointmentID,
			Cancelled:       domain.False,
			IsRebooking:     p.AppointmentID != "",
			ProviderID:      p.ProviderID,
			Provider:        p.Provider,
			ProviderHistory: p.ProviderHistory,
		}
	} else if p.Deleted {
		p.Deleted = false
		p.Cancelled = domain.False
	}
	if !ev.At.IsZero() {
		p.AppointmentAt = timePtr(ev.At)
	}
	a.assignProvider()
	if classified {
		a.applyCosts()
		a.next.PaidSubtype = ev.Services.PaidSubtype()
	}

	firstPaid := !a.next.SignedUpForPaidService
	a.next.SignedUpForPaidService = true
	if firstPaid && !a.next.ConvertedFromConsultation && a.onlyConsultationsBefore() {
		a.next.ConvertedFromConsultation = true
	}

	a.setState(domain.StatePaidService, "paid service booked", a.rule == RuleDual)

	switch ev.Attendance {
	case AttendanceArrived:
		if !a.attendedNow() {
			a.ignore(RuleIgnored, "arrival reported for a future appointment")
			return
		}
		if p.Attended != domain.True {
			p.Attended = domain.True
			a.markVisit()
		}
	case AttendanceNoShow:
		if p.Attended == domain.True {
			a.ignore(RuleIgnored, "no-show after recorded arrival")
			return
		}
		p.Attended = domain.False
	}
}

// applyCosts recomputes the cost breakdown from the event's paid lines, so a
// redelivery yields the same totals.
func (a *applier) applyCosts() {
	p := &a.next.Paid
	provider := unassignedProvider
	if a.ev.Staff != nil && a.ev.Staff.ID != "" {
		provider = a.ev.Staff.ID
	}

	total := decimal.Zero
	for _, l := range a.ev.PaidLines {
		total = total.Add(l.Cost)
	}
	p.TotalCost = total
	p.CostByProvider = map[string]decimal.Decimal{provider: total}
}

// onlyConsultationsBefore reports whether every appointment seen before this
// one was a consultation. A mixed event counts its own consultation line.
func (a *applier) onlyConsultationsBefore() bool {
	prior := 0
	for id, kind := range a.cur.Appointments {
		if id == a.ev.AppointmentID {
			continue
		}
		if kind != domain.AppointmentConsultation {
			return false
		}
		prior++
	}
	return prior > 0 || a.ev.Services.IsMixed()
}

// Rule 7: consultation and paid service in one event. The consultation state
// is logged first, then the paid state; the caller saves once.
func (a *applier) dual() {
	a.rule = RuleDual
	c := &a.next.Consultation

	if c.AppointmentID != a.ev.AppointmentID || c.Deleted {
		prev := *c
		*c = domain.ConsultationFacet{
			AppointmentID: a.ev.AppointmentID,
			Online:        a.ev.Services.IsOnlineConsultation,
			Cancelled:     domain.False,
			ConsultantID:  prev.ConsultantID,
			Consultant:    prev.Consultant,
			CountedNoShow: prev.CountedNoShow,
		}
	}
	if !a.ev.At.IsZero() {
		c.BookedAt = timePtr(a.ev.At)
	}
	a.assignConsultant()
	if a.attendedNow() {
		c.Attended = domain.True
	}

	a.setState(domain.StateConsultationBooked, "consultation booked in the same visit", true)
	a.paid(true)
}
