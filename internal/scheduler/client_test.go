package scheduler

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tlsConfig struct{ stubConfig }

func (tlsConfig) GetRedisURL() string       { return "rediss://user:pw@cache.internal:6380/2" }
func (tlsConfig) GetRedisTLSInsecure() bool { return true }
func (tlsConfig) GetAsynqQueueName() string { return "reminders" }

func TestConnOptSharesRedisURLParsing(t *testing.T) {
	opt, err := connOpt(tlsConfig{})
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opt.Addr)
	assert.Equal(t, "user", opt.Username)
	assert.Equal(t, "pw", opt.Password)
	assert.Equal(t, 2, opt.DB)
	require.NotNil(t, opt.TLSConfig)
	assert.True(t, opt.TLSConfig.InsecureSkipVerify)

	assert.Equal(t, "reminders", queueName(tlsConfig{}))
	assert.Equal(t, "default", queueName(stubConfig{}))
}

func TestDeliverTaskRoundTrip(t *testing.T) {
	id := uuid.New()
	task, err := NewReminderDeliverTask(ReminderDeliverPayload{JobID: id.String()})
	require.NoError(t, err)
	assert.Equal(t, TaskReminderDeliver, task.Type())

	got, err := ParseReminderDeliverPayload(task)
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ParseReminderDeliverPayload(asynq.NewTask(TaskReminderDeliver, []byte("{")))
	assert.Error(t, err)
}

func TestNilClientEnqueueIsNoop(t *testing.T) {
	var c *Client
	assert.NoError(t, c.EnqueueReminder(t.Context(), uuid.New(), 3))
	assert.NoError(t, c.Close())
}
