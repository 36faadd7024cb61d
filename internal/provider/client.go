// Package provider adapts upstream email vendors to a common Client: credential
// provisioning over each vendor's REST API and transmission over SMTP.
package provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sendgate/internal/model"
	"sendgate/pkg/circuitbreaker"
)

// AppData identifies the app credentials are provisioned for.
type AppData struct {
	AppID   string
	OwnerID string
}

// Message is one outbound email. Tag is the correlation tag; Send generates
// one when it is empty.
type Message struct {
	AppID   string
	UserID  string
	To      string
	Subject string
	HTML    string
	From    string
	Tag     string
}

// Client is implemented by every vendor adapter.
type Client interface {
	Type() model.ProviderType

	// Provision obtains app-specific SMTP credentials using the master
	// credentials the client was built with.
	Provision(ctx context.Context, app AppData) (model.Credentials, error)

	// Send transmits msg and reports success. It never panics and always
	// leaves exactly one finalized SentEmailLog row behind.
	Send(ctx context.Context, creds model.Credentials, msg Message) bool
}

// SentLogStore persists send attempts.
type SentLogStore interface {
	CreateQueued(ctx context.Context, entry *model.SentEmailLog) error
	Finalize(ctx context.Context, tag string, status model.EmailStatus, errMsg string, at time.Time) error
}

// Endpoints holds vendor API base URLs.
type Endpoints struct {
	SMTP2GO    string
	MailerSend string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		SMTP2GO:    "https://api.smtp2go.com/v3",
		MailerSend: "https://api.mailersend.com/v1",
	}
}

// Deps are the collaborators shared by all clients built from a Registry.
type Deps struct {
	HTTP      *http.Client
	DNS       *DNSClient
	Transport Transport
	Logs      SentLogStore
	Logger    *zap.Logger
	Endpoints Endpoints
	NewTag    func() string
	Now       func() time.Time

	// SMTPBreakers holds one breaker per vendor, host and SMTP username.
	// NewRegistry fills it in; nil disables breaking on the SMTP path.
	SMTPBreakers *circuitbreaker.Group
}

func (d Deps) withDefaults() Deps {
	if d.HTTP == nil {
		d.HTTP = &http.Client{Timeout: 10 * time.Second}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	def := DefaultEndpoints()
	if d.Endpoints.SMTP2GO == "" {
		d.Endpoints.SMTP2GO = def.SMTP2GO
	}
	if d.Endpoints.MailerSend == "" {
		d.Endpoints.MailerSend = def.MailerSend
	}
	if d.NewTag == nil {
		d.NewTag = NewMessageTag
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// NewMessageTag returns a 32 character hex correlation tag.
func NewMessageTag() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
