package sendconfig

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mqcontracts "sendgate/contracts/mq"
	"sendgate/internal/apperror"
	"sendgate/internal/jobqueue"
	"sendgate/internal/model"
	"sendgate/internal/provider"
	"sendgate/internal/repository/memrepo"
)

type stubClient struct {
	creds   model.Credentials
	err     error
	panicV  any
	calls   int
	lastApp provider.AppData
}

func (c *stubClient) Type() model.ProviderType { return model.ProviderSMTP2GO }

func (c *stubClient) Provision(_ context.Context, app provider.AppData) (model.Credentials, error) {
	c.calls++
	c.lastApp = app
	if c.panicV != nil {
		panic(c.panicV)
	}
	return c.creds, c.err
}

func (c *stubClient) Send(context.Context, model.Credentials, provider.Message) bool { return false }

type stubFactory struct {
	client *stubClient
	master model.Credentials
}

func (f *stubFactory) Client(tag model.ProviderType, master model.Credentials) (provider.Client, error) {
	if tag != model.ProviderSMTP2GO && tag != model.ProviderMailerSend {
		return nil, apperror.ErrUnsupportedProvider.WithMessage("Unsupported provider type: %s", tag)
	}
	f.master = master
	return f.client, nil
}

type recordingQueue struct {
	jobs []jobqueue.Job
	err  error
}

func (q *recordingQueue) Submit(_ context.Context, job jobqueue.Job) (jobqueue.Handle, error) {
	if q.err != nil {
		return jobqueue.Handle{}, q.err
	}
	q.jobs = append(q.jobs, job)
	return jobqueue.Handle{JobID: job.ID, Kind: job.Kind}, nil
}

type fixture struct {
	store   *memrepo.Store
	svc     *Service
	client  *stubClient
	factory *stubFactory
	queue   *recordingQueue
	smtp2go int64
	mailer  int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memrepo.New()
	store.AddUser(model.User{ID: "u_1", Plan: model.PlanHobby, Credits: 2})
	store.AddApp(model.App{ID: "app_1", OwnerID: "u_1", Active: true})
	f := &fixture{
		store:   store,
		client:  &stubClient{creds: model.Credentials{"host": "h", "port": "2525", "username": "app_1", "password": "pw"}},
		queue:   &recordingQueue{},
		smtp2go: store.AddProvider(model.Provider{Name: "SMTP2GO", Type: model.ProviderSMTP2GO, MasterCredentials: model.Credentials{"api_key": "k"}}),
		mailer:  store.AddProvider(model.Provider{Name: "MailerSend", Type: model.ProviderMailerSend}),
	}
	f.factory = &stubFactory{client: f.client}
	f.svc = NewService(store.Apps(), store.Providers(), store.Configs(), f.factory, f.queue, nil)
	return f
}

func (f *fixture) provisionJob(t *testing.T) mqcontracts.ProvisionCredentialsJob {
	t.Helper()
	require.Len(t, f.queue.jobs, 1)
	job, ok := f.queue.jobs[0].Payload.(mqcontracts.ProvisionCredentialsJob)
	require.True(t, ok)
	return job
}

func TestBindLeavesExactlyOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Bind(ctx, "app_1", f.smtp2go)
	require.NoError(t, err)
	_, err = f.svc.Bind(ctx, "app_1", f.mailer)
	require.NoError(t, err)

	active := f.store.ActiveConfigs("app_1")
	require.Len(t, active, 1)
	assert.Equal(t, f.mailer, active[0].ProviderID)
	assert.Equal(t, "u_1", active[0].UserID)
	assert.Equal(t, model.ProvisioningIdle, active[0].Status)
}

func TestBindValidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Bind(context.Background(), "nope", f.smtp2go)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	_, err = f.svc.Bind(context.Background(), "app_1", 0)
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	_, err = f.svc.Bind(context.Background(), "app_1", 42)
	assert.ErrorIs(t, err, apperror.ErrProviderNotFound)
}

func TestProvisioningHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Bind(ctx, "app_1", f.smtp2go)
	require.NoError(t, err)

	h, err := f.svc.RequestProvisioning(ctx, "app_1")
	require.NoError(t, err)
	assert.Equal(t, mqcontracts.RoutingKeyProvisionCredentials, h.Kind)

	cfg, err := f.svc.Active(ctx, "app_1")
	require.NoError(t, err)
	assert.Equal(t, model.ProvisioningPending, cfg.Status)

	job := f.provisionJob(t)
	assert.Equal(t, "u_1", job.OwnerID)
	assert.Equal(t, cfg.ID, job.ConfigID)

	require.NoError(t, f.svc.Provision(ctx, job))
	assert.Equal(t, provider.AppData{AppID: "app_1", OwnerID: "u_1"}, f.client.lastApp)
	assert.Equal(t, "k", f.factory.master["api_key"])

	cfg, err = f.svc.Active(ctx, "app_1")
	require.NoError(t, err)
	assert.Equal(t, model.ProvisioningSuccess, cfg.Status)
	assert.Equal(t, "pw", cfg.Credentials["password"])

	creds, err := f.svc.SMTPCredentials(ctx, "app_1")
	require.NoError(t, err)
	assert.Equal(t, "h", creds["host"])
}

func TestSecondProvisioningIsRejectedWithoutMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Bind(ctx, "app_1", f.smtp2go)
	require.NoError(t, err)
	_, err = f.svc.RequestProvisioning(ctx, "app_1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Provision(ctx, f.provisionJob(t)))

	before, err := f.svc.Active(ctx, "app_1")
	require.NoError(t, err)

	_, err = f.svc.RequestProvisioning(ctx, "app_1")
	assert.ErrorIs(t, err, apperror.ErrCredentialsAlreadyConfigured)

	after, err := f.svc.Active(ctx, "app_1")
	require.NoError(t, err)
	assert.Equal(t, before.Status, after.Status)
	assert.Equal(t, before.Credentials, after.Credentials)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.Len(t, f.queue.jobs, 1)
	assert.Equal(t, 1, f.client.calls)
}

func TestProvisioningWhilePending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Bind(ctx, "app_1", f.smtp2go)
	require.NoError(t, err)
	_, err = f.svc.RequestProvisioning(ctx, "app_1")
	require.NoError(t, err)

	_, err = f.svc.RequestProvisioning(ctx, "app_1")
	assert.ErrorIs(t, err, apperror.ErrProvisioningInProgress)
}

func TestRequestProvisioningWithoutActiveConfig(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RequestProvisioning(context.Background(), "app_1")
	assert.ErrorIs(t, err, apperror.ErrNoActiveConfig)
	assert.Empty(t, f.queue.jobs)
}

func TestEnqueueFailureMarksError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Bind(ctx, "app_1", f.smtp2go)
	require.NoError(t, err)
	f.queue.err = errors.New("broker down")

	_, err = f.svc.RequestProvisioning(ctx, "app_1")
	require.Error(t, err)

	cfg, err := f.svc.Active(ctx, "app_1")
	require.NoError(t, err)
	assert.Equal(t, model.ProvisioningError, cfg.Status)
	require.NotNil(t, cfg.ProvisioningError)
	assert.Contains(t, *cfg.ProvisioningError, "broker down")
}

func TestProvisionFailuresLandInError(t *testing.T) {
	for _, tc := range []struct {
		name    string
		setup   func(c *stubClient)
		wantMsg string
	}{
		{"upstream error", func(c *stubClient) {
			c.err = apperror.ErrProvisioningFailed.WithMessage(`{"error":"quota"}`)
		}, `{"error":"quota"}`},
		{"empty credentials", func(c *stubClient) { c.creds = model.Credentials{} }, "empty credentials"},
		{"panic", func(c *stubClient) { c.panicV = "boom" }, "boom"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.svc.Bind(ctx, "app_1", f.smtp2go)
			require.NoError(t, err)
			_, err = f.svc.RequestProvisioning(ctx, "app_1")
			require.NoError(t, err)
			tc.setup(f.client)

			err = f.svc.Provision(ctx, f.provisionJob(t))
			require.Error(t, err)

			cfg, err := f.svc.Active(ctx, "app_1")
			require.NoError(t, err)
			assert.Equal(t, model.ProvisioningError, cfg.Status)
			require.NotNil(t, cfg.ProvisioningError)
			assert.Contains(t, *cfg.ProvisioningError, tc.wantMsg)
			assert.True(t, cfg.Credentials.Empty())

			// error 状态可以重新申请
			f.queue.jobs = nil
			_, err = f.svc.RequestProvisioning(ctx, "app_1")
			assert.NoError(t, err)
		})
	}
}

func TestProvisionSkipsNonPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cfg, err := f.svc.Bind(ctx, "app_1", f.smtp2go)
	require.NoError(t, err)

	require.NoError(t, f.svc.Provision(ctx, mqcontracts.ProvisionCredentialsJob{ConfigID: cfg.ID, AppID: "app_1"}))
	assert.Zero(t, f.client.calls)
}

func TestSMTPCredentialsIncomplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Bind(ctx, "app_1", f.smtp2go)
	require.NoError(t, err)
	f.client.creds = model.Credentials{"username": "u", "password": "p"}
	_, err = f.svc.RequestProvisioning(ctx, "app_1")
	require.NoError(t, err)
	require.NoError(t, f.svc.Provision(ctx, f.provisionJob(t)))

	_, err = f.svc.SMTPCredentials(ctx, "app_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrIncompleteCredentials)
	assert.Equal(t, "Stored SMTP credentials for provider 'SMTP2GO' are incomplete.", apperror.Message(err))
}
