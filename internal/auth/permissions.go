package auth

// Role represents an authorisation tier.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
)

// ValidRoles lists every role a token may carry.
var ValidRoles = []Role{RoleViewer, RoleOperator, RoleAdmin}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Permission represents a named capability in the local API.
type Permission string

// Permission constants.
const (
	PermStatusRead     Permission = "status:read"
	PermDeviceRead     Permission = "device:read"
	PermDeviceOperate  Permission = "device:operate"
	PermDeviceManage   Permission = "device:manage"
	PermSettingsManage Permission = "settings:manage"
)

// rolePermissions maps each role to its granted permissions.
// This is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermStatusRead,
		PermDeviceRead,
	},
	RoleOperator: {
		PermStatusRead,
		PermDeviceRead,
		PermDeviceOperate,
	},
	RoleAdmin: {
		PermStatusRead,
		PermDeviceRead,
		PermDeviceOperate,
		PermDeviceManage,
		PermSettingsManage,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}
