// Package metrics exposes Prometheus instrumentation for the bot core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	intentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bot_intents_total",
			Help: "Inbound messages by parsed intent",
		},
		[]string{"intent"},
	)
	readingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "meter_readings_total",
			Help: "Reading transactions by outcome (saved, corrected, deleted, rejected)",
		},
		[]string{"outcome"},
	)
	outboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbound_messages_total",
			Help: "Outbound Telegram send attempts by status",
		},
		[]string{"status"},
	)
	remindersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reading_reminders_total",
			Help: "Reminder deliveries by channel and status",
		},
		[]string{"channel", "status"},
	)
	webhookDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "webhook_duration_seconds",
			Help:    "Processing time of one webhook update",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// RecordIntent counts a parsed inbound intent.
func RecordIntent(intent string) {
	if intent == "" {
		intent = "unknown"
	}
	intentsTotal.WithLabelValues(intent).Inc()
}

// RecordReading counts a reading transaction outcome.
func RecordReading(outcome string) {
	if outcome == "" {
		outcome = "unknown"
	}
	readingsTotal.WithLabelValues(outcome).Inc()
}

// RecordOutbound counts one outbound send attempt.
func RecordOutbound(status string) {
	if status == "" {
		status = "unknown"
	}
	outboundMessagesTotal.WithLabelValues(status).Inc()
}

// RecordReminder counts one reminder delivery attempt.
func RecordReminder(channel, status string) {
	remindersTotal.WithLabelValues(channel, status).Inc()
}

// ObserveWebhook records the processing duration of a webhook update.
func ObserveWebhook(d time.Duration) {
	webhookDurationSeconds.Observe(d.Seconds())
}
