package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sendgate/internal/apperror"
	"sendgate/internal/model"
	"sendgate/internal/repository/memrepo"
)

func newLedger(t *testing.T) (*Ledger, *memrepo.Store) {
	t.Helper()
	store := memrepo.New()
	store.AddUser(model.User{ID: "u_hobby", Plan: model.PlanHobby, Credits: 1})
	store.AddUser(model.User{ID: "u_broke", Plan: model.PlanHobby, Credits: 0})
	store.AddUser(model.User{ID: "u_pro", Plan: model.PlanPro, Credits: 0})
	return New(store.Users(), store.Usage(), nil), store
}

func TestCheckCredit(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	for _, tc := range []struct {
		user string
		want bool
	}{
		{"u_hobby", true},
		{"u_broke", false},
		{"u_pro", true},
	} {
		got, err := l.CheckCredit(ctx, tc.user)
		require.NoError(t, err, tc.user)
		assert.Equal(t, tc.want, got, tc.user)
	}

	_, err := l.CheckCredit(ctx, "u_ghost")
	assert.ErrorIs(t, err, apperror.ErrUserNotFound)
}

func TestDeductNeverGoesNegative(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()

	l.Deduct(ctx, "u_hobby")
	l.Deduct(ctx, "u_hobby")
	l.Deduct(ctx, "u_ghost")

	u, err := store.Users().GetByID(ctx, "u_hobby")
	require.NoError(t, err)
	assert.Equal(t, 0, u.Credits)
}

func TestRecordUsage(t *testing.T) {
	l, store := newLedger(t)
	ctx := context.Background()
	day := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.RecordUsage(ctx, "app_1", "u_hobby", day, model.UsageSent))
	require.NoError(t, l.RecordUsage(ctx, "app_1", "u_hobby", day, model.UsageFail))
	require.NoError(t, l.RecordUsage(ctx, "app_1", "u_hobby", day, model.UsageFail))

	u := store.UsageFor("app_1", day)
	assert.Equal(t, 1, u.SentCount)
	assert.Equal(t, 2, u.FailedCount)

	assert.Error(t, l.RecordUsage(ctx, "app_1", "u_hobby", day, "BOGUS"))
}

func TestPlanChanges(t *testing.T) {
	l, _ := newLedger(t)
	ctx := context.Background()

	u, err := l.Upgrade(ctx, "u_broke")
	require.NoError(t, err)
	assert.Equal(t, model.PlanPro, u.Plan)
	assert.Equal(t, 0, u.Credits)

	u, err = l.Downgrade(ctx, "u_broke")
	require.NoError(t, err)
	assert.Equal(t, model.PlanHobby, u.Plan)
	assert.Equal(t, model.HobbyCredits, u.Credits)

	_, err = l.Upgrade(ctx, "bad id")
	assert.ErrorIs(t, err, apperror.ErrInvalidInput)
	_, err = l.Downgrade(ctx, "u_ghost")
	assert.ErrorIs(t, err, apperror.ErrUserNotFound)
}
