package mq

import "time"

const (
	RoutingKeySendEmail            = "email.send"
	RoutingKeyProvisionCredentials = "credentials.provision"

	QueueSendEmail            = "email.send.q"
	QueueProvisionCredentials = "credentials.provision.q"
)

// SendEmailJob asks a worker to transmit one message through the app's
// active provider.
type SendEmailJob struct {
	JobID       string    `json:"job_id"`
	AppID       string    `json:"app_id"`
	UserID      string    `json:"user_id"`
	To          string    `json:"to"`
	Subject     string    `json:"subject"`
	HTML        string    `json:"html"`
	TraceID     string    `json:"trace_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// ProvisionCredentialsJob asks a worker to obtain app credentials for a
// configuration that is in the pending state.
type ProvisionCredentialsJob struct {
	JobID       string    `json:"job_id"`
	ConfigID    int64     `json:"config_id"`
	AppID       string    `json:"app_id"`
	OwnerID     string    `json:"owner_id"`
	ProviderID  int64     `json:"provider_id"`
	TraceID     string    `json:"trace_id,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}
