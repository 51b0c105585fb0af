package scheduler

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// TaskReminderDeliver carries only the job id; the worker reloads the job so
// a cancel or reschedule after enqueue is honored.
const TaskReminderDeliver = "reminders.deliver"

type ReminderDeliverPayload struct {
	JobID string `json:"jobId"`
}

func NewReminderDeliverTask(payload ReminderDeliverPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReminderDeliver, data), nil
}

// ParseReminderDeliverPayload decodes the task and validates the job id.
func ParseReminderDeliverPayload(task *asynq.Task) (uuid.UUID, error) {
	var payload ReminderDeliverPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return uuid.Nil, fmt.Errorf("decode %s: %w", TaskReminderDeliver, err)
	}
	id, err := uuid.Parse(payload.JobID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: bad job id %q: %w", TaskReminderDeliver, payload.JobID, err)
	}
	return id, nil
}
