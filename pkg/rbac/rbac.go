package rbac

// 权限常量
const (
	// 应用所有者操作
	PermissionSendEmail        = "email:send"
	PermissionRequestProvision = "config:provision"
	PermissionReadConfig       = "config:read"
	PermissionReadSMTPSecrets  = "config:read_credentials"
	PermissionReadUsage        = "usage:read"

	// 管理操作
	PermissionBindProvider = "config:bind"
	PermissionChangePlan   = "account:plan"
	PermissionReplayOutbox = "outbox:replay"
)

// 角色常量
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

var ownerPermissions = []string{
	PermissionSendEmail,
	PermissionRequestProvision,
	PermissionReadConfig,
	PermissionReadSMTPSecrets,
	PermissionReadUsage,
}

// 角色权限映射
var rolePermissions = map[string][]string{
	RoleUser: ownerPermissions,
	RoleAdmin: append(append([]string{}, ownerPermissions...),
		PermissionBindProvider,
		PermissionChangePlan,
		PermissionReplayOutbox,
	),
}

// NormalizeRole 未知或空角色按 user 处理
func NormalizeRole(role string) string {
	if _, ok := rolePermissions[role]; ok {
		return role
	}
	return RoleUser
}

// HasPermission 检查角色是否有指定权限
func HasPermission(role, permission string) bool {
	for _, p := range rolePermissions[NormalizeRole(role)] {
		if p == permission {
			return true
		}
	}
	return false
}

// CheckPermission 检查角色是否有指定权限（返回错误而不是布尔值，便于处理）
func CheckPermission(userID, role, permission string) error {
	if !HasPermission(role, permission) {
		return &PermissionDeniedError{
			UserID:     userID,
			Permission: permission,
		}
	}
	return nil
}

// PermissionDeniedError 表示权限不足的错误
type PermissionDeniedError struct {
	UserID     string
	Permission string
}

func (e *PermissionDeniedError) Error() string {
	return "insufficient permissions"
}

// CheckOwnership admins act on any app; everyone else only on apps they own.
func CheckOwnership(userID, role, ownerID string) error {
	if NormalizeRole(role) == RoleAdmin || userID == ownerID {
		return nil
	}
	return &NotOwnerError{UserID: userID, OwnerID: ownerID}
}

// NotOwnerError 表示调用者不是应用所有者
type NotOwnerError struct {
	UserID  string
	OwnerID string
}

func (e *NotOwnerError) Error() string {
	return "app does not belong to the authenticated user"
}
