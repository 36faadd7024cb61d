package provider

import (
	"context"
	"net/http"
	"sync"
	"time"

	mail "github.com/go-mail/mail"

	"sendgate/internal/model"
)

type fakeLogStore struct {
	mu        sync.Mutex
	created   []*model.SentEmailLog
	finalized map[string][]model.EmailStatus
	errors    map[string]string
	createErr error
}

func newFakeLogStore() *fakeLogStore {
	return &fakeLogStore{
		finalized: make(map[string][]model.EmailStatus),
		errors:    make(map[string]string),
	}
}

func (s *fakeLogStore) CreateQueued(_ context.Context, entry *model.SentEmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *entry
	s.created = append(s.created, &cp)
	return nil
}

func (s *fakeLogStore) Finalize(_ context.Context, tag string, status model.EmailStatus, errMsg string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized[tag] = append(s.finalized[tag], status)
	s.errors[tag] = errMsg
	return nil
}

type fakeTransport struct {
	err     error
	panicV  any
	servers []SMTPServer
	sent    []*mail.Message
}

func (t *fakeTransport) Send(_ context.Context, server SMTPServer, m *mail.Message) error {
	if t.panicV != nil {
		panic(t.panicV)
	}
	t.servers = append(t.servers, server)
	t.sent = append(t.sent, m)
	return t.err
}

func testDeps(httpClient *http.Client, transport Transport, logs SentLogStore) Deps {
	return Deps{
		HTTP:      httpClient,
		Transport: transport,
		Logs:      logs,
		Endpoints: Endpoints{
			SMTP2GO:    "https://smtp2go.test/v3",
			MailerSend: "https://mailersend.test/v1",
		},
		NewTag: func() string { return "tag_fixed" },
	}
}
