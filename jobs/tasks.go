package jobs

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLotExpiryScan flags lots approaching their expiry date.
	TaskLotExpiryScan = "lots:expiry_scan"
	// TaskLayerPurge removes exhausted cost layers past retention.
	TaskLayerPurge = "costing:layer_purge"
	// TaskIdempotencyCleanup prunes old idempotency keys.
	TaskIdempotencyCleanup = "shared:idempotency_cleanup"
)

// ScheduledPayload carries scheduling metadata shared by the cron tasks. The
// run ID ties handler log lines back to one enqueue.
type ScheduledPayload struct {
	RunID        string    `json:"run_id"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

func newScheduledTask(taskType string, at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ScheduledPayload{RunID: uuid.NewString(), ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}

// NewLotExpiryScanTask constructs the expiry scan task.
func NewLotExpiryScanTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskLotExpiryScan, at)
}

// NewLayerPurgeTask constructs the layer purge task.
func NewLayerPurgeTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskLayerPurge, at)
}

// NewIdempotencyCleanupTask constructs the idempotency cleanup task.
func NewIdempotencyCleanupTask(at time.Time) (*asynq.Task, error) {
	return newScheduledTask(TaskIdempotencyCleanup, at)
}
