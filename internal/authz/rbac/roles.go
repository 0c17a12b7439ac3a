// Package rbac provides role based authorization for the security
// pipeline. Effective permissions are computed as a pure function over a
// static role to permission table; there is no per-instance role state.
package rbac

// Role is a named role assigned to an identity.
type Role string

// Roles.
const (
	RoleAdmin     Role = "admin"
	RoleDeveloper Role = "developer"
	RoleAnalyst   Role = "analyst"
	RoleUser      Role = "user"
	RoleService   Role = "service"
	RoleGuest     Role = "guest"
)

// Permission is a single grantable capability.
type Permission string

// Permissions.
const (
	PermissionRead    Permission = "read"
	PermissionWrite   Permission = "write"
	PermissionDelete  Permission = "delete"
	PermissionAdmin   Permission = "admin"
	PermissionExecute Permission = "execute"
	PermissionMonitor Permission = "monitor"
	PermissionConfig  Permission = "config"
)

// AllPermissions lists every known permission.
var AllPermissions = []Permission{
	PermissionRead,
	PermissionWrite,
	PermissionDelete,
	PermissionAdmin,
	PermissionExecute,
	PermissionMonitor,
	PermissionConfig,
}

// rolePermissions is the static role to permission mapping. Broader
// roles carry the permissions of narrower ones; this is expressed by
// listing them, not by runtime hierarchy walking.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermissionRead, PermissionWrite, PermissionDelete, PermissionAdmin,
		PermissionExecute, PermissionMonitor, PermissionConfig,
	},
	RoleDeveloper: {
		PermissionRead, PermissionWrite, PermissionExecute, PermissionMonitor,
	},
	RoleAnalyst: {
		PermissionRead, PermissionMonitor,
	},
	RoleUser: {
		PermissionRead, PermissionWrite,
	},
	RoleService: {
		PermissionRead, PermissionWrite, PermissionExecute,
	},
	RoleGuest: {
		PermissionRead,
	},
}

// PermissionsOf returns the permission set of a role. Unknown roles
// have no permissions.
func PermissionsOf(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// PermissionsOfRoles returns the union of the permission sets of all
// given roles.
func PermissionsOfRoles(roles []Role) []Permission {
	seen := make(map[Permission]struct{})
	var out []Permission
	for _, role := range roles {
		for _, perm := range rolePermissions[role] {
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			out = append(out, perm)
		}
	}
	return out
}

// ValidRole reports whether the role is one of the known roles.
func ValidRole(role Role) bool {
	_, ok := rolePermissions[role]
	return ok
}

// ValidPermission reports whether the permission is known.
func ValidPermission(perm Permission) bool {
	for _, p := range AllPermissions {
		if p == perm {
			return true
		}
	}
	return false
}
