package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"sync"
	"testing"

	mail "github.com/go-mail/mail"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sendgate/internal/model"
	"sendgate/pkg/circuitbreaker"
)

var appCreds = model.Credentials{
	"username":   "app_1",
	"password":   "pw",
	"host":       "smtp.example.com",
	"port":       "587",
	"from_email": "app_1@owner.example.com",
}

func sendMessage() Message {
	return Message{AppID: "app_1", UserID: "owner_1", To: "to@example.com", Subject: "Hi", HTML: "<p>hi</p>"}
}

func TestSendSuccessFinalizesOnce(t *testing.T) {
	for _, tc := range []struct {
		name      string
		ctor      Constructor
		tagHeader string
	}{
		{"smtp2go", NewSMTP2GoClient, "X-Custom-Header"},
		{"mailersend", NewMailerSendClient, "X-MailerSend-Tags"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logs := newFakeLogStore()
			tr := &fakeTransport{}
			c := tc.ctor(nil, testDeps(nil, tr, logs).withDefaults(), nil)

			ok := c.Send(context.Background(), appCreds, sendMessage())
			require.True(t, ok)

			require.Len(t, logs.created, 1)
			assert.Equal(t, model.EmailQueued, logs.created[0].Status)
			assert.Equal(t, "tag_fixed", logs.created[0].MessageTag)
			assert.Equal(t, string(c.Type()), logs.created[0].Provider)
			assert.Equal(t, []model.EmailStatus{model.EmailSent}, logs.finalized["tag_fixed"])

			require.Len(t, tr.sent, 1)
			m := tr.sent[0]
			assert.Equal(t, []string{"tag_fixed"}, m.GetHeader(tc.tagHeader))
			assert.Equal(t, []string{"app_1@owner.example.com"}, m.GetHeader("From"))
			assert.Equal(t, []string{"to@example.com"}, m.GetHeader("To"))
			assert.Equal(t, SMTPServer{Host: "smtp.example.com", Port: 587, Username: "app_1", Password: "pw"}, tr.servers[0])
		})
	}
}

func TestSendTransportFailureRecordsError(t *testing.T) {
	logs := newFakeLogStore()
	tr := &fakeTransport{err: errors.New("550 rejected")}
	c := NewSMTP2GoClient(nil, testDeps(nil, tr, logs).withDefaults(), nil)

	ok := c.Send(context.Background(), appCreds, sendMessage())
	assert.False(t, ok)
	assert.Equal(t, []model.EmailStatus{model.EmailFailed}, logs.finalized["tag_fixed"])
	assert.Contains(t, logs.errors["tag_fixed"], "550 rejected")
}

func TestSendMissingCredentials(t *testing.T) {
	logs := newFakeLogStore()
	tr := &fakeTransport{}
	c := NewMailerSendClient(nil, testDeps(nil, tr, logs).withDefaults(), nil)

	ok := c.Send(context.Background(), model.Credentials{"username": "u"}, sendMessage())
	assert.False(t, ok)
	assert.Empty(t, tr.sent)
	assert.Equal(t, []model.EmailStatus{model.EmailFailed}, logs.finalized["tag_fixed"])
	assert.Contains(t, logs.errors["tag_fixed"], "missing MAILERSEND credentials")
}

func TestSendRecoversTransportPanic(t *testing.T) {
	logs := newFakeLogStore()
	tr := &fakeTransport{panicV: "boom"}
	c := NewSMTP2GoClient(nil, testDeps(nil, tr, logs).withDefaults(), nil)

	var ok bool
	require.NotPanics(t, func() {
		ok = c.Send(context.Background(), appCreds, sendMessage())
	})
	assert.False(t, ok)
	assert.Equal(t, []model.EmailStatus{model.EmailFailed}, logs.finalized["tag_fixed"])
	assert.Contains(t, logs.errors["tag_fixed"], "boom")
}

func TestSendLogInsertFailureSkipsDelivery(t *testing.T) {
	logs := newFakeLogStore()
	logs.createErr = errors.New("db down")
	tr := &fakeTransport{}
	c := NewSMTP2GoClient(nil, testDeps(nil, tr, logs).withDefaults(), nil)

	assert.False(t, c.Send(context.Background(), appCreds, sendMessage()))
	assert.Empty(t, tr.sent)
	assert.Empty(t, logs.finalized)
}

func TestSendUsesExplicitTagAndFrom(t *testing.T) {
	logs := newFakeLogStore()
	tr := &fakeTransport{}
	c := NewSMTP2GoClient(nil, testDeps(nil, tr, logs).withDefaults(), nil)

	msg := sendMessage()
	msg.Tag = "caller_tag"
	msg.From = "noreply@example.com"
	require.True(t, c.Send(context.Background(), appCreds, msg))

	assert.Equal(t, []model.EmailStatus{model.EmailSent}, logs.finalized["caller_tag"])
	assert.Equal(t, []string{"noreply@example.com"}, tr.sent[0].GetHeader("From"))
}

func TestNewMessageTagIsHex(t *testing.T) {
	tag := NewMessageTag()
	assert.Len(t, tag, 32)
	assert.NotContains(t, tag, "-")
	assert.NotEqual(t, tag, NewMessageTag())
}

// tenantTransport fails sends for specific SMTP usernames.
type tenantTransport struct {
	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
}

func (t *tenantTransport) Send(_ context.Context, server SMTPServer, _ *mail.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls[server.Username]++
	return t.errs[server.Username]
}

func (t *tenantTransport) count(username string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[username]
}

func tenantCreds(username string) model.Credentials {
	return model.Credentials{"username": username, "password": "pw", "host": "smtp.example.com", "port": "587"}
}

func TestSendBreakerIsolatesTenants(t *testing.T) {
	for _, tc := range []struct {
		name        string
		err         error
		breakerOpen bool
	}{
		{"rejected by server", fmt.Errorf("smtp send: %w", &textproto.Error{Code: 535, Msg: "authentication failed"}), false},
		{"recipient refused", &mail.SendError{Cause: &textproto.Error{Code: 550, Msg: "mailbox unavailable"}}, false},
		{"endpoint unreachable", fmt.Errorf("smtp send: %w", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}), true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tr := &tenantTransport{errs: map[string]error{"bad_tenant": tc.err}, calls: map[string]int{}}
			reg := NewDefaultRegistry(testDeps(nil, tr, newFakeLogStore()), circuitbreaker.DefaultConfig())
			c, err := reg.Client(model.ProviderSMTP2GO, nil)
			require.NoError(t, err)
			ctx := context.Background()

			threshold := circuitbreaker.DefaultConfig().FailureThreshold
			for i := 0; i < threshold; i++ {
				assert.False(t, c.Send(ctx, tenantCreds("bad_tenant"), sendMessage()))
			}
			require.Equal(t, threshold, tr.count("bad_tenant"))

			assert.True(t, c.Send(ctx, tenantCreds("good_tenant"), sendMessage()))
			assert.Equal(t, 1, tr.count("good_tenant"))

			// a client built later shares the same breakers
			other, err := reg.Client(model.ProviderSMTP2GO, nil)
			require.NoError(t, err)
			assert.False(t, other.Send(ctx, tenantCreds("bad_tenant"), sendMessage()))
			if tc.breakerOpen {
				assert.Equal(t, threshold, tr.count("bad_tenant"))
			} else {
				assert.Equal(t, threshold+1, tr.count("bad_tenant"))
			}
			assert.True(t, other.Send(ctx, tenantCreds("good_tenant"), sendMessage()))
			assert.Equal(t, 2, tr.count("good_tenant"))
		})
	}
}

func TestIsTransportFailure(t *testing.T) {
	assert.True(t, isTransportFailure(&net.OpError{Op: "dial", Err: errors.New("refused")}))
	assert.True(t, isTransportFailure(fmt.Errorf("smtp send: %w", context.DeadlineExceeded)))
	assert.True(t, isTransportFailure(&mail.SendError{Cause: fmt.Errorf("read: %w", io.EOF)}))
	assert.True(t, isTransportFailure(mail.StartTLSUnsupportedError{Policy: mail.MandatoryStartTLS}))
	assert.False(t, isTransportFailure(&textproto.Error{Code: 535, Msg: "bad auth"}))
	assert.False(t, isTransportFailure(errors.New("gomail: invalid address")))
}
