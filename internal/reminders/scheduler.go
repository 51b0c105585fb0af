package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/kv"
	"booking_sync_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned when no job exists for the id.
var ErrJobNotFound = errors.New("reminder job not found")

const casRetries = 5

type action int

const (
	actionUnchanged action = iota
	actionCreated
	actionUpdated
	actionRevived
	actionCanceled
	actionSkipped
)

// Scheduler persists reminder jobs in Redis. Jobs live at reminder:job:<id>,
// pending ids are indexed in the reminder:due sorted set by due time, and
// reminder:appt:<appointmentId> lists every job of an appointment.
type Scheduler struct {
	rdb   *redis.Client
	keys  kv.Keyspace
	rules []Rule
	log   *logger.Logger
	now   func() time.Time
}

func New(rdb *redis.Client, keys kv.Keyspace, rules []Rule, log *logger.Logger) *Scheduler {
	return &Scheduler{
		rdb:   rdb,
		keys:  keys,
		rules: rules,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source used for past-due checks.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Scheduler) jobKey(id uuid.UUID) string   { return s.keys.Key("reminder", "job", id.String()) }
func (s *Scheduler) dueKey() string               { return s.keys.Key("reminder", "due") }
func (s *Scheduler) apptKey(apptID string) string { return s.keys.Key("reminder", "appt", apptID) }

// Schedule upserts one job per rule that applies to the appointment's scope.
func (s *Scheduler) Schedule(ctx context.Context, appt Appointment) (Summary, error) {
	var sum Summary
	if appt.ID == "" || appt.At.IsZero() {
		return sum, nil
	}
	now := s.now()

	for _, rule := range s.rules {
		if !rule.Applies(appt.Scope) {
			continue
		}
		act, err := s.upsert(ctx, appt, rule, now)
		if err != nil {
			return sum, fmt.Errorf("schedule %s/%s: %w", appt.ID, rule.ID, err)
		}
		switch act {
		case actionCreated:
			sum.Created++
		case actionUpdated:
			sum.Updated++
		case actionRevived:
			sum.Revived++
		case actionCanceled:
			sum.Canceled++
		case actionSkipped:
			sum.Skipped++
		default:
			sum.Unchanged++
		}
	}
	return sum, nil
}

func (s *Scheduler) upsert(ctx context.Context, appt Appointment, rule Rule, now time.Time) (action, error) {
	id := JobID(appt.ID, rule.ID)
	dueAt := rule.DueAt(appt.At).UTC()
	past := !dueAt.After(now)
	payload := appt.Payload
	payload.Scope = appt.Scope
	payload.AppointmentAt = appt.At.UTC()
	payload.Template = rule.Template

	var act action
	err := s.withJob(ctx, id, true, func(cur *Job) (*Job, error) {
		act = actionUnchanged
		if cur == nil {
			if past {
				act = actionSkipped
				return nil, nil
			}
			act = actionCreated
			return &Job{
				ID:            id,
				AppointmentID: appt.ID,
				RuleID:        rule.ID,
				DueAt:         dueAt,
				Status:        StatusPending,
				Payload:       payload,
				CreatedAt:     now,
				UpdatedAt:     now,
			}, nil
		}

		moved := !cur.DueAt.Equal(dueAt)
		next := *cur
		next.DueAt = dueAt
		next.Payload = payload
		next.UpdatedAt = now

		switch cur.Status {
		case StatusPending:
			if past && moved {
				act = actionCanceled
				next.Status = StatusCanceled
				return &next, nil
			}
			if !moved && samePayload(cur.Payload, payload) {
				return nil, nil
			}
			act = actionUpdated
			return &next, nil
		case StatusCanceled:
			if past {
				act = actionSkipped
				return nil, nil
			}
			act = actionRevived
		default:
			// Sent and failed jobs are reopened only for a new future date.
			if past || !moved {
				return nil, nil
			}
			act = actionRevived
		}
		next.Status = StatusPending
		next.Attempts = 0
		next.LastError = ""
		return &next, nil
	})
	return act, err
}

// CancelAppointment cancels every pending or failed job of the appointment
// and returns how many changed.
func (s *Scheduler) CancelAppointment(ctx context.Context, appointmentID string) (int, error) {
	if appointmentID == "" {
		return 0, nil
	}
	ids, err := s.rdb.SMembers(ctx, s.apptKey(appointmentID)).Result()
	if err != nil {
		return 0, apperr.Unavailable("list appointment reminders", err)
	}

	canceled := 0
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.log.Warn("skipping malformed reminder id", "appointmentId", appointmentID, "id", raw)
			continue
		}
		var changed bool
		err = s.withJob(ctx, id, true, func(cur *Job) (*Job, error) {
			changed = false
			if cur == nil || cur.Status == StatusCanceled || cur.Status == StatusSent {
				return nil, nil
			}
			next := *cur
			next.Status = StatusCanceled
			next.UpdatedAt = s.now()
			changed = true
			return &next, nil
		})
		if err != nil {
			return canceled, err
		}
		if changed {
			canceled++
		}
	}
	return canceled, nil
}

// Get loads a job.
func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	raw, err := s.rdb.Get(ctx, s.jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, apperr.Unavailable("load reminder job", err)
	}
	return decodeJob(raw)
}

// ListAppointment returns every job of the appointment.
func (s *Scheduler) ListAppointment(ctx context.Context, appointmentID string) ([]*Job, error) {
	ids, err := s.rdb.SMembers(ctx, s.apptKey(appointmentID)).Result()
	if err != nil {
		return nil, apperr.Unavailable("list appointment reminders", err)
	}
	jobs := make([]*Job, 0, len(ids))
	for _, raw := range ids {
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		job, err := s.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// withJob runs fn against the stored job (nil when absent) under WATCH and
// writes the job it returns. A nil result means no write. With index set the
// due index follows the written status; otherwise pending jobs are left off
// it and only non-pending ones are removed.
func (s *Scheduler) withJob(ctx context.Context, id uuid.UUID, index bool, fn func(cur *Job) (*Job, error)) error {
	key := s.jobKey(id)

	txf := func(tx *redis.Tx) error {
		var cur *Job
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if cur, err = decodeJob(raw); err != nil {
				return err
			}
		}

		next, err := fn(cur)
		if err != nil || next == nil {
			return err
		}
		payload, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode reminder job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, payload, 0)
			p.SAdd(ctx, s.apptKey(next.AppointmentID), id.String())
			switch {
			case next.Status != StatusPending:
				p.ZRem(ctx, s.dueKey(), id.String())
			case index:
				p.ZAdd(ctx, s.dueKey(), redis.Z{Score: float64(next.DueAt.Unix()), Member: id.String()})
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < casRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrJobNotFound) {
			return err
		}
		if err != nil {
			return apperr.Unavailable("write reminder job", err)
		}
		return nil
	}
	return apperr.Conflict("reminder job write conflict")
}

func samePayload(a, b Payload) bool {
	at := a.AppointmentAt.Equal(b.AppointmentAt)
	a.AppointmentAt, b.AppointmentAt = time.Time{}, time.Time{}
	return at && a == b
}

func decodeJob(raw []byte) (*Job, error) {
	var job Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode reminder job: %w", err)
	}
	return &job, nil
}
