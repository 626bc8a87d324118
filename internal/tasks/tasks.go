package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Task type constants
const (
	// Maintenance tasks (enqueued by the cron scheduler)
	TypePurgeSessions     = "sessions:purge"
	TypePruneAppointments = "appointments:prune"
)

// Queue names, mirrored in the worker's queue weights
const (
	QueueDefault = "default"
	QueueLow     = "low"
)

// TaskPayload is the common payload for all tasks
type TaskPayload struct {
	// ScheduledAt is the minute the scheduler fired. Minute precision keeps
	// the payload identical across processes firing the same run.
	ScheduledAt time.Time `json:"scheduled_at"`
	// Retention overrides the configured appointment retention when non-zero
	Retention time.Duration `json:"retention,omitempty"`
}

func newTask(typename string, payload TaskPayload, opts ...asynq.Option) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(typename, data, opts...), nil
}

func scheduledRun(at time.Time) time.Time {
	return at.UTC().Truncate(time.Minute)
}

// NewPurgeSessionsTask creates a task that deletes expired session rows
func NewPurgeSessionsTask(scheduledAt time.Time) (*asynq.Task, error) {
	return newTask(TypePurgeSessions, TaskPayload{ScheduledAt: scheduledRun(scheduledAt)},
		asynq.Queue(QueueLow), asynq.MaxRetry(3), asynq.Timeout(5*time.Minute))
}

// NewPruneAppointmentsTask creates a task that deletes stale available appointments
func NewPruneAppointmentsTask(scheduledAt time.Time, retention time.Duration) (*asynq.Task, error) {
	return newTask(TypePruneAppointments, TaskPayload{ScheduledAt: scheduledRun(scheduledAt), Retention: retention},
		asynq.Queue(QueueLow), asynq.MaxRetry(3), asynq.Timeout(10*time.Minute))
}

// ParseTaskPayload parses task payload from Asynq task
func ParseTaskPayload(task *asynq.Task) (TaskPayload, error) {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return payload, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return payload, nil
}
