// Package domain holds the persisted entities shared across the application.
package domain

import "time"

// User is the account a meter belongs to. The core never mutates users.
type User struct {
	ID        int64
	Name      string
	Email     string
	CreatedAt time.Time
}

// DemoToken is the sentinel bot token that short-circuits all provider
// calls while keeping the delivery log intact.
const DemoToken = "demo"

// NotificationSettings stores the per-user Telegram and reminder
// preferences. At most one row exists per user (upsert semantics).
type NotificationSettings struct {
	UserID              int64
	TelegramEnabled     bool
	TelegramBotToken    string
	TelegramBotUsername string
	TelegramChatID      int64
	TelegramVerified    bool

	EmailNotifications     bool
	ReadingReminderEnabled bool
	ReadingReminderDays    int
	LastReminderSentAt     *time.Time

	UpdatedAt time.Time
}

// TelegramUsable reports whether the chat id may be used for inbound
// command routing and outbound sends.
func (s *NotificationSettings) TelegramUsable() bool {
	return s != nil && s.TelegramEnabled && s.TelegramVerified && s.TelegramBotToken != ""
}

// MeterReading is one meter value per user per calendar day.
// Consumption, cost and bill figures are derived at write time.
type MeterReading struct {
	ID          int64
	UserID      int64
	ReadingDate time.Time
	MeterValue  float64

	Consumption       *float64
	Cost              *float64
	TotalBill         *float64
	PaymentDifference *float64

	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TariffPeriod is the tariff active for a user inside its validity window.
type TariffPeriod struct {
	ID             int64
	UserID         int64
	RatePerKwh     float64
	BasicFee       float64
	MonthlyPayment float64
	ValidFrom      time.Time
	ValidTo        *time.Time
}

// ActiveAt reports whether the tariff covers the given date.
func (t *TariffPeriod) ActiveAt(date time.Time) bool {
	if t == nil || date.Before(t.ValidFrom) {
		return false
	}
	return t.ValidTo == nil || !date.After(*t.ValidTo)
}

// Verification code lifecycle states.
const (
	CodeStatusPending = "pending"
	CodeStatusUsed    = "used"
)

// VerificationCode is a short-lived, single-use code binding a chat id to
// a user account. Only one pending code exists per user.
type VerificationCode struct {
	UserID    int64
	Code      string
	Status    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Outbound delivery states recorded in the message log.
const (
	MessageStatusSent      = "sent"
	MessageStatusFailed    = "failed"
	MessageStatusDelivered = "delivered"
)

// MessageLogEntry is an append-only record of one outbound send attempt.
type MessageLogEntry struct {
	ID                int64
	ChatID            int64
	Text              string
	ProviderMessageID *int64
	Status            string
	Error             string
	CreatedAt         time.Time
}

// ReminderTarget is the joined user+settings row the reminder batch
// operates on.
type ReminderTarget struct {
	UserID             int64
	Name               string
	Email              string
	EmailNotifications bool
	TelegramEnabled    bool
	TelegramVerified   bool
	TelegramChatID     int64
	ReminderDays       int
}

// TelegramUsable mirrors NotificationSettings.TelegramUsable for the
// joined row; the bot token itself is resolved later by the gateway.
func (t *ReminderTarget) TelegramUsable() bool {
	return t != nil && t.TelegramEnabled && t.TelegramVerified && t.TelegramChatID != 0
}
