package model

import (
	"encoding/json"
	"time"
)

type ProviderType string

const (
	ProviderSMTP2GO    ProviderType = "SMTP2GO"
	ProviderMailerSend ProviderType = "MAILERSEND"
)

// Credential bundle keys.
const (
	CredHost      = "host"
	CredPort      = "port"
	CredUsername  = "username"
	CredPassword  = "password"
	CredFromEmail = "from_email"
)

// Credentials is an opaque key-value secret bundle.
type Credentials map[string]string

func (c Credentials) Empty() bool { return len(c) == 0 }

// Redacted returns a copy with the password masked.
func (c Credentials) Redacted() Credentials {
	out := make(Credentials, len(c))
	for k, v := range c {
		if k == CredPassword && v != "" {
			v = "********"
		}
		out[k] = v
	}
	return out
}

type Provider struct {
	ID                int64           `json:"id"`
	Name              string          `json:"name"`
	Type              ProviderType    `json:"provider_type"`
	CredentialsFormat json.RawMessage `json:"credentials_format,omitempty"`
	MasterCredentials Credentials     `json:"-"`
}

type ProvisioningStatus string

const (
	ProvisioningIdle    ProvisioningStatus = "idle"
	ProvisioningPending ProvisioningStatus = "pending"
	ProvisioningSuccess ProvisioningStatus = "success"
	ProvisioningError   ProvisioningStatus = "error"
)

// SendingConfiguration binds one app to one provider. At most one row per app
// has IsActive set.
type SendingConfiguration struct {
	ID                int64              `json:"id"`
	AppID             string             `json:"app_id"`
	UserID            string             `json:"user_id"`
	ProviderID        int64              `json:"provider_id"`
	Provider          *Provider          `json:"provider,omitempty"`
	Credentials       Credentials        `json:"credentials"`
	IsActive          bool               `json:"is_active"`
	Status            ProvisioningStatus `json:"provisioning_status"`
	ProvisioningError *string            `json:"provisioning_error"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}
