package rbac

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRolePermissions(t *testing.T) {
	assert.True(t, HasPermission(RoleUser, PermissionSendEmail))
	assert.False(t, HasPermission(RoleUser, PermissionBindProvider))
	assert.True(t, HasPermission(RoleAdmin, PermissionBindProvider))
	assert.True(t, HasPermission(RoleAdmin, PermissionSendEmail))
	assert.False(t, HasPermission("", PermissionChangePlan), "unknown role falls back to user")
}

func TestCheckPermission(t *testing.T) {
	err := CheckPermission("u_1", RoleUser, PermissionReplayOutbox)
	var denied *PermissionDeniedError
	assert.ErrorAs(t, err, &denied)
	assert.Equal(t, "u_1", denied.UserID)

	assert.NoError(t, CheckPermission("u_1", RoleAdmin, PermissionReplayOutbox))
}

func TestCheckOwnership(t *testing.T) {
	assert.NoError(t, CheckOwnership("u_1", RoleUser, "u_1"))
	assert.NoError(t, CheckOwnership("u_admin", RoleAdmin, "u_1"))
	assert.Error(t, CheckOwnership("u_2", RoleUser, "u_1"))
}
