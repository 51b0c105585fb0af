// Package reconcile is the client lifecycle state machine. Apply is a pure
// function of the current aggregate, one classified booking event and the
// current time; persistence and side effects belong to the caller.
package reconcile

import (
	"time"

	"booking_sync_backend/internal/classifier"
)

// Kind is the webhook status of the event.
type Kind string

const (
	KindCreated Kind = "create"
	KindUpdated Kind = "update"
	KindDeleted Kind = "delete"
)

// Attendance is the normalized arrival signal.
type Attendance int8

const (
	AttendanceUnknown Attendance = iota
	AttendanceArrived
	AttendanceNoShow
)

// AttendanceFromCode maps the booking platform's attendance code:
// 1 and 2 mean arrived, -1 means no-show, anything else is unknown.
func AttendanceFromCode(code int) Attendance {
	switch code {
	case 1, 2:
		return AttendanceArrived
	case -1:
		return AttendanceNoShow
	default:
		return AttendanceUnknown
	}
}

func (a Attendance) String() string {
	switch a {
	case AttendanceArrived:
		return "arrived"
	case AttendanceNoShow:
		return "no-show"
	default:
		return "unknown"
	}
}

// Staff is a resolved master reference.
type Staff struct {
	ID   string
	Name string
}

// Event is one classified appointment event.
type Event struct {
	// ID identifies the delivery in the event log, for audit entries.
	ID            string
	AppointmentID string
	Kind          Kind
	At            time.Time
	Attendance    Attendance
	Deleted       bool
	Services      classifier.Result
	PaidLines     []classifier.Line
	Staff         *Staff
	ActorIsAdmin  bool
}

// IsDeletion reports whether the appointment was removed upstream.
func (e Event) IsDeletion() bool {
	return e.Kind == KindDeleted || e.Deleted
}
