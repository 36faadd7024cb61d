package provider

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"

	"sendgate/internal/model"
	"sendgate/pkg/circuitbreaker"
	"sendgate/pkg/logger"
	"sendgate/pkg/metrics"
)

// smtpSender is the SMTP send path shared by both vendors. They differ only in
// the tag header and the default host.
type smtpSender struct {
	vendor      model.ProviderType
	tagHeader   string
	defaultHost string
	transport   Transport
	breakers    *circuitbreaker.Group
	logs        SentLogStore
	logger      *zap.Logger
	newTag      func() string
	now         func() time.Time
}

func newSMTPSender(vendor model.ProviderType, tagHeader, defaultHost string, deps Deps) smtpSender {
	return smtpSender{
		vendor:      vendor,
		tagHeader:   tagHeader,
		defaultHost: defaultHost,
		transport:   deps.Transport,
		breakers:    deps.SMTPBreakers,
		logs:        deps.Logs,
		logger:      deps.Logger,
		newTag:      deps.NewTag,
		now:         deps.Now,
	}
}

func (s smtpSender) send(ctx context.Context, creds model.Credentials, msg Message) (ok bool) {
	tag := msg.Tag
	if tag == "" {
		tag = s.newTag()
	}
	log := logger.WithTrace(ctx, s.logger).With(
		zap.String("provider", string(s.vendor)),
		zap.String("app_id", msg.AppID),
		zap.String("message_tag", tag),
	)

	entry := &model.SentEmailLog{
		AppID:      msg.AppID,
		UserID:     msg.UserID,
		Provider:   string(s.vendor),
		ToEmail:    msg.To,
		Subject:    msg.Subject,
		Status:     model.EmailQueued,
		MessageTag: tag,
	}
	if err := s.logs.CreateQueued(ctx, entry); err != nil {
		log.Error("Failed to record queued send", zap.Error(err))
		return false
	}

	start := s.now()
	var sendErr error
	defer func() {
		if r := recover(); r != nil {
			sendErr = fmt.Errorf("panic during send: %v", r)
			ok = false
		}

		status, outcome, errText := model.EmailSent, "sent", ""
		if !ok {
			status, outcome = model.EmailFailed, "failed"
			if sendErr != nil {
				errText = sendErr.Error()
			}
			log.Error("Failed to send email", zap.String("error", errText))
		} else {
			log.Info("Email sent successfully")
		}
		metrics.RecordSendAttempt(string(s.vendor), outcome, s.now().Sub(start))

		// 成功和失败路径只写一次日志，ctx 取消后仍需落库
		if err := s.logs.Finalize(context.WithoutCancel(ctx), tag, status, errText, s.now()); err != nil {
			log.Error("Failed to finalize send log", zap.Error(err))
		}
	}()

	sendErr = s.deliver(ctx, creds, msg, tag)
	return sendErr == nil
}

func (s smtpSender) deliver(ctx context.Context, creds model.Credentials, msg Message, tag string) error {
	if s.transport == nil {
		return fmt.Errorf("no SMTP transport configured")
	}
	server, err := serverFromCredentials(string(s.vendor), creds, s.defaultHost)
	if err != nil {
		return err
	}
	from := msg.From
	if from == "" {
		from = creds[model.CredFromEmail]
	}
	if from == "" {
		from = server.Username
	}
	m := buildMessage(from, msg, s.tagHeader, tag)
	if s.breakers == nil {
		return s.transport.Send(ctx, server, m)
	}
	// 按应用凭据熔断，一个租户的错误不影响同一供应商下的其他租户
	key := string(s.vendor) + "|" + server.Host + "|" + server.Username
	return s.breakers.Get(key).ExecuteCounting(func() error {
		return s.transport.Send(ctx, server, m)
	}, isTransportFailure)
}

// isTransportFailure reports whether err means the SMTP endpoint was
// unreachable. Protocol replies such as 535 or 550 are the tenant's problem
// and do not trip the breaker.
func isTransportFailure(err error) bool {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && sendErr.Cause != nil {
		return isTransportFailure(sendErr.Cause)
	}
	var netErr net.Error
	var recordErr tls.RecordHeaderError
	var certErr *tls.CertificateVerificationError
	var startTLSErr mail.StartTLSUnsupportedError
	switch {
	case errors.As(err, &netErr),
		errors.As(err, &recordErr),
		errors.As(err, &certErr),
		errors.As(err, &startTLSErr):
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded)
}
