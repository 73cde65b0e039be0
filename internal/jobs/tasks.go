// Package jobs wires the reminder batch into the asynq scheduler/worker
// pairing.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskTypeReadingReminder = "reminder:readings"
)

const (
	QueueDefault = "default"
	QueueLow     = "low"
)

// ReadingReminderPayload carries the batch trigger time, mostly for log
// correlation; the batch itself derives "today" from its own clock.
type ReadingReminderPayload struct {
	TriggeredAt time.Time `json:"triggered_at"`
}

// NewReadingReminderTask builds the enqueueable reminder task.
func NewReadingReminderTask(triggeredAt time.Time) (*asynq.Task, error) {
	payload, err := json.Marshal(ReadingReminderPayload{TriggeredAt: triggeredAt})
	if err != nil {
		return nil, err
	}

	return asynq.NewTask(TaskTypeReadingReminder, payload, asynq.Queue(QueueDefault)), nil
}
