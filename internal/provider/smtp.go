package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"time"

	mail "github.com/go-mail/mail"

	"sendgate/internal/model"
)

// SMTPServer is the resolved per-app SMTP endpoint.
type SMTPServer struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Transport delivers a built message to an SMTP server.
type Transport interface {
	Send(ctx context.Context, server SMTPServer, m *mail.Message) error
}

// MailTransport dials with mandatory STARTTLS and logs in with the app
// credentials.
type MailTransport struct {
	Timeout time.Duration
}

func (t MailTransport) Send(ctx context.Context, server SMTPServer, m *mail.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := mail.NewDialer(server.Host, server.Port, server.Username, server.Password)
	d.TLSConfig = &tls.Config{ServerName: server.Host, MinVersion: tls.VersionTLS12}
	if !d.SSL {
		d.StartTLSPolicy = mail.MandatoryStartTLS
	}
	if t.Timeout > 0 {
		d.Timeout = t.Timeout
	}
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func serverFromCredentials(vendor string, creds model.Credentials, defaultHost string) (SMTPServer, error) {
	username := creds[model.CredUsername]
	password := creds[model.CredPassword]
	if username == "" || password == "" {
		return SMTPServer{}, fmt.Errorf("missing %s credentials", vendor)
	}

	host := creds[model.CredHost]
	if host == "" {
		host = defaultHost
	}
	port := 2525
	if raw := creds[model.CredPort]; raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil {
			return SMTPServer{}, fmt.Errorf("invalid SMTP port %q: %w", raw, err)
		}
		port = p
	}
	return SMTPServer{Host: host, Port: port, Username: username, Password: password}, nil
}

// buildMessage renders an HTML message carrying the correlation tag in the
// vendor's tag header.
func buildMessage(from string, msg Message, tagHeader, tag string) *mail.Message {
	m := mail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader(tagHeader, tag)
	m.SetBody("text/html", msg.HTML)
	return m
}
