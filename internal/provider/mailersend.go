package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
	"sendgate/pkg/circuitbreaker"
)

const (
	mailerSendHost      = "smtp.mailersend.net"
	mailerSendTagHeader = "X-MailerSend-Tags"
)

// MailerSendClient provisions SMTP users under a MailerSend domain. Master
// credentials: token, domain_id.
type MailerSendClient struct {
	smtpSender
	master  model.Credentials
	baseURL string
	rest    restClient
}

var _ Client = (*MailerSendClient)(nil)

func NewMailerSendClient(master model.Credentials, deps Deps, breaker *circuitbreaker.CircuitBreaker) Client {
	return &MailerSendClient{
		smtpSender: newSMTPSender(model.ProviderMailerSend, mailerSendTagHeader, mailerSendHost, deps),
		master:     master,
		baseURL:    deps.Endpoints.MailerSend,
		rest:       restClient{http: deps.HTTP, breaker: breaker},
	}
}

func (c *MailerSendClient) Type() model.ProviderType { return model.ProviderMailerSend }

type mailerSendSMTPUserResponse struct {
	Data struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Server   string `json:"server"`
		// 587 or "587 (TLS)" depending on API version
		Port any `json:"port"`
	} `json:"data"`
}

func (c *MailerSendClient) Provision(ctx context.Context, app AppData) (model.Credentials, error) {
	domainID := c.master["domain_id"]
	if domainID == "" {
		return nil, apperror.ErrProvisioningFailed.WithMessage("MailerSend domain_id is not configured")
	}

	url := fmt.Sprintf("%s/domains/%s/smtp-users", c.baseURL, domainID)
	payload := map[string]any{"name": app.AppID, "enabled": true}
	headers := map[string]string{"Authorization": "Bearer " + c.master["token"]}

	resp, err := c.rest.postJSON(ctx, url, headers, payload)
	if err != nil {
		return nil, apperror.ErrProvisioningFailed.Wrap(err)
	}
	if resp.Status != http.StatusCreated {
		return nil, apperror.ErrProvisioningFailed.WithMessage("%s", resp.Body)
	}

	var out mailerSendSMTPUserResponse
	if err := resp.decode(&out); err != nil {
		return nil, apperror.ErrProvisioningFailed.Wrap(err)
	}
	port := ""
	if out.Data.Port != nil {
		if fields := strings.Fields(fmt.Sprint(out.Data.Port)); len(fields) > 0 {
			port = fields[0]
		}
	}

	return model.Credentials{
		model.CredUsername:  out.Data.Username,
		model.CredFromEmail: out.Data.Username,
		model.CredPassword:  out.Data.Password,
		model.CredHost:      out.Data.Server,
		model.CredPort:      port,
	}, nil
}

func (c *MailerSendClient) Send(ctx context.Context, creds model.Credentials, msg Message) bool {
	return c.send(ctx, creds, msg)
}
