package provider

import (
	"context"
	"fmt"
	"net/http"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
	"sendgate/pkg/circuitbreaker"
)

const (
	smtp2goHost      = "mail.smtp2go.com"
	smtp2goPort      = "2525"
	smtp2goTagHeader = "X-Custom-Header"
)

// SMTP2GoClient provisions SMTP users on SMTP2GO and sends from a per-owner
// subdomain. Master credentials: api_key.
type SMTP2GoClient struct {
	smtpSender
	master  model.Credentials
	baseURL string
	rest    restClient
	dns     *DNSClient
}

var _ Client = (*SMTP2GoClient)(nil)

func NewSMTP2GoClient(master model.Credentials, deps Deps, breaker *circuitbreaker.CircuitBreaker) Client {
	return &SMTP2GoClient{
		smtpSender: newSMTPSender(model.ProviderSMTP2GO, smtp2goTagHeader, smtp2goHost, deps),
		master:     master,
		baseURL:    deps.Endpoints.SMTP2GO,
		rest:       restClient{http: deps.HTTP, breaker: breaker},
		dns:        deps.DNS,
	}
}

func (c *SMTP2GoClient) Type() model.ProviderType { return model.ProviderSMTP2GO }

type smtp2goAddResponse struct {
	Data struct {
		Results []struct {
			Username      string `json:"username"`
			EmailPassword string `json:"email_password"`
		} `json:"results"`
	} `json:"data"`
}

func (c *SMTP2GoClient) Provision(ctx context.Context, app AppData) (model.Credentials, error) {
	if c.dns == nil {
		return nil, apperror.ErrProvisioningFailed.WithMessage("DNS client is not configured")
	}
	subdomain, err := c.dns.EnsureSubdomain(ctx, app.OwnerID)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"feedback_domain":       "default",
		"status":                "allowed",
		"open_tracking_enabled": true,
		"username":              app.AppID,
	}
	headers := map[string]string{"X-Smtp2go-Api-Key": c.master["api_key"]}

	resp, err := c.rest.postJSON(ctx, c.baseURL+"/users/smtp/add", headers, payload)
	if err != nil {
		return nil, apperror.ErrProvisioningFailed.Wrap(err)
	}
	if resp.Status != http.StatusOK {
		return nil, apperror.ErrProvisioningFailed.WithMessage("%s", resp.Body)
	}

	var out smtp2goAddResponse
	if err := resp.decode(&out); err != nil {
		return nil, apperror.ErrProvisioningFailed.Wrap(err)
	}
	if len(out.Data.Results) == 0 {
		return nil, apperror.ErrProvisioningFailed.WithMessage("SMTP2GO returned no SMTP user")
	}
	user := out.Data.Results[0]

	return model.Credentials{
		model.CredUsername:  user.Username,
		model.CredFromEmail: fmt.Sprintf("%s@%s", user.Username, subdomain),
		model.CredPassword:  user.EmailPassword,
		model.CredHost:      smtp2goHost,
		model.CredPort:      smtp2goPort,
	}, nil
}

func (c *SMTP2GoClient) Send(ctx context.Context, creds model.Credentials, msg Message) bool {
	return c.send(ctx, creds, msg)
}
