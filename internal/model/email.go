package model

import "time"

type UsageOutcome string

const (
	UsageSent UsageOutcome = "SENT"
	UsageFail UsageOutcome = "FAIL"
	UsageRead UsageOutcome = "READ"
)

// EmailUsage is the daily rollup for one app.
type EmailUsage struct {
	AppID       string    `json:"app_id"`
	UserID      string    `json:"user_id"`
	Date        time.Time `json:"date"`
	SentCount   int       `json:"sent_count"`
	FailedCount int       `json:"failed_count"`
	ReadCount   int       `json:"read_count"`
}

type EmailStatus string

const (
	EmailQueued    EmailStatus = "queued"
	EmailSent      EmailStatus = "sent"
	EmailFailed    EmailStatus = "failed"
	EmailDelivered EmailStatus = "delivered"
	EmailBounced   EmailStatus = "bounced"
	EmailOpened    EmailStatus = "opened"
)

// SentEmailLog is one provider send attempt.
type SentEmailLog struct {
	ID           int64       `json:"id"`
	AppID        string      `json:"app_id"`
	UserID       string      `json:"user_id"`
	Provider     string      `json:"provider"`
	ToEmail      string      `json:"to_email"`
	Subject      string      `json:"subject"`
	Status       EmailStatus `json:"status"`
	MessageTag   string      `json:"message_tag"`
	MessageID    *string     `json:"message_id"`
	TimeSent     *time.Time  `json:"time_sent"`
	TimeRead     *time.Time  `json:"time_read"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Day truncates t to its UTC calendar date, the key of a usage row.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
