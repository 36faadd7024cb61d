package memrepo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
)

func seeded(t *testing.T) (*Store, int64, int64) {
	t.Helper()
	s := New()
	s.AddUser(model.User{ID: "u_1", Plan: model.PlanHobby, Credits: 1})
	s.AddApp(model.App{ID: "app_1", OwnerID: "u_1", Active: true})
	a := s.AddProvider(model.Provider{Name: "smtp2go", Type: model.ProviderSMTP2GO})
	b := s.AddProvider(model.Provider{Name: "mailersend", Type: model.ProviderMailerSend})
	return s, a, b
}

func TestBindSwitchKeepsHistory(t *testing.T) {
	s, a, b := seeded(t)
	ctx := context.Background()

	first, err := s.Configs().Bind(ctx, "app_1", a)
	require.NoError(t, err)
	require.NoError(t, s.Configs().MarkSuccess(ctx, first.ID, model.Credentials{"username": "x"}))

	second, err := s.Configs().Bind(ctx, "app_1", b)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	active := s.ActiveConfigs("app_1")
	require.Len(t, active, 1)
	assert.Equal(t, b, active[0].ProviderID)

	old, err := s.Configs().GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)

	back, err := s.Configs().Bind(ctx, "app_1", a)
	require.NoError(t, err)
	assert.Equal(t, first.ID, back.ID)
	assert.Equal(t, model.ProvisioningIdle, back.Status)
	assert.True(t, back.Credentials.Empty())
}

func TestBindUnknownReferences(t *testing.T) {
	s, a, _ := seeded(t)
	_, err := s.Configs().Bind(context.Background(), "app_missing", a)
	assert.ErrorIs(t, err, apperror.ErrAppNotFound)
	_, err = s.Configs().Bind(context.Background(), "app_1", 999)
	assert.ErrorIs(t, err, apperror.ErrProviderNotFound)
}

func TestDeductStopsAtZero(t *testing.T) {
	s, _, _ := seeded(t)
	ctx := context.Background()

	ok, err := s.Users().DeductCredit(ctx, "u_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Users().DeductCredit(ctx, "u_1")
	require.NoError(t, err)
	assert.False(t, ok)

	u, err := s.Users().GetByID(ctx, "u_1")
	require.NoError(t, err)
	assert.Equal(t, 0, u.Credits)
}

func TestLogLifecycle(t *testing.T) {
	s, _, _ := seeded(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Logs().CreateQueued(ctx, &model.SentEmailLog{AppID: "app_1", MessageTag: "t1"}))
	require.NoError(t, s.Logs().Finalize(ctx, "t1", model.EmailSent, "", at))
	require.NoError(t, s.Logs().Finalize(ctx, "t1", model.EmailFailed, "late", at))

	l, err := s.Logs().FindByTag(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, model.EmailSent, l.Status)

	ok, err := s.Logs().MarkDelivered(ctx, "t1", "msg-1", at)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Logs().MarkDelivered(ctx, "t1", "msg-1", at)
	require.NoError(t, err)
	assert.False(t, ok)

	opened, err := s.Logs().MarkOpened(ctx, "msg-1", at.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, opened)
	assert.Equal(t, model.EmailOpened, opened.Status)

	again, err := s.Logs().MarkOpened(ctx, "msg-1", at.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Nil(t, again)

	_, err = s.Logs().FindByTag(ctx, "tag_999")
	assert.ErrorIs(t, err, apperror.ErrNoMatchingLog)
}

func TestUsageIncrementPerDay(t *testing.T) {
	s, _, _ := seeded(t)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 23, 0, 0, 0, time.UTC)

	require.NoError(t, s.Usage().Increment(ctx, "app_1", "u_1", day, model.UsageSent))
	require.NoError(t, s.Usage().Increment(ctx, "app_1", "u_1", day.Add(90*time.Minute), model.UsageFail))
	require.NoError(t, s.Usage().Increment(ctx, "app_1", "u_1", day, model.UsageRead))

	u := s.UsageFor("app_1", day)
	assert.Equal(t, 1, u.SentCount)
	assert.Equal(t, 0, u.FailedCount, "next UTC day")
	assert.Equal(t, 1, u.ReadCount)

	next := s.UsageFor("app_1", day.Add(90*time.Minute))
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), next.Date)
	assert.Equal(t, 1, next.FailedCount)
	assert.Equal(t, 0, next.SentCount)

	rows, err := s.Usage().List(ctx, "app_1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}
