// Package handlers contains the asynq task handlers.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/stromtracker/meterbot/internal/jobs"
	"github.com/stromtracker/meterbot/internal/reminder"
)

// ReadingReminderHandler runs the reminder batch when the scheduled task
// fires.
type ReadingReminderHandler struct {
	scheduler *reminder.Scheduler
	log       *slog.Logger
}

// NewReadingReminderHandler constructs the handler.
func NewReadingReminderHandler(scheduler *reminder.Scheduler, log *slog.Logger) *ReadingReminderHandler {
	if log == nil {
		log = slog.Default()
	}

	return &ReadingReminderHandler{scheduler: scheduler, log: log}
}

func (h *ReadingReminderHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload jobs.ReadingReminderPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.log.ErrorContext(ctx, "reading reminder: failed to decode payload",
			slog.String("task_type", t.Type()), slog.Any("error", err))
		return err
	}

	summary, err := h.scheduler.Run(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "reading reminder batch failed", slog.Any("error", err))
		return err
	}

	h.log.InfoContext(ctx, "reading reminder batch done",
		slog.Time("triggered_at", payload.TriggeredAt),
		slog.Int("sent", summary.Sent),
		slog.Int("failed", summary.Failed),
		slog.Int("total", summary.Total),
	)

	return nil
}
