package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskTombstoneCleanup purges rejected connection requests older than
	// the retention window.
	TaskTombstoneCleanup = "relationships:tombstone_cleanup"
	// TaskSessionCleanup removes expired login sessions.
	TaskSessionCleanup = "sessions:cleanup"
	// TaskIdempotencyCleanup removes settled idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
	// TaskStatusWarmup pre-resolves relationship statuses for recently
	// active principals.
	TaskStatusWarmup = "statuscache:warmup"
)

// TombstoneCleanupPayload configures one tombstone purge run.
type TombstoneCleanupPayload struct {
	RetentionDays int `json:"retention_days"`
}

// NewTombstoneCleanupTask constructs an Asynq task.
func NewTombstoneCleanupTask(payload TombstoneCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTombstoneCleanup, data), nil
}

// CleanupPayload configures retention-based cleanup runs.
type CleanupPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// NewSessionCleanupTask constructs an Asynq task.
func NewSessionCleanupTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskSessionCleanup, nil), nil
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload CleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}

// StatusWarmupPayload bounds how many principals one warmup run touches.
type StatusWarmupPayload struct {
	Limit int `json:"limit"`
}

// NewStatusWarmupTask constructs an Asynq task.
func NewStatusWarmupTask(payload StatusWarmupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStatusWarmup, data), nil
}
