// Package rbac holds the fixed role and permission tables for the dashboard.
// Everything here is a pure lookup: no I/O, safe on every request.
package rbac

import "strings"

// Role is one of the closed set of dashboard roles. Registration always
// assigns RoleManager; RoleAdmin is provisioned out-of-band.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
)

// Permission is a capability token checked via Allowed.
type Permission string

const (
	PermRead            Permission = "read"
	PermWrite           Permission = "write"
	PermDelete          Permission = "delete"
	PermManageUsers     Permission = "manage_users"
	PermManageRoles     Permission = "manage_roles"
	PermManageInventory Permission = "manage_inventory"
	PermManageSuppliers Permission = "manage_suppliers"
)

// rolePermissions maps each role to its fixed permission set. There are no
// per-user overrides; a session's permissions are always exactly this set.
var rolePermissions = map[Role][]Permission{
	RoleAdmin:   {PermRead, PermWrite, PermDelete, PermManageUsers, PermManageRoles},
	RoleManager: {PermRead, PermWrite, PermManageInventory, PermManageSuppliers},
}

// Area path roots for each role, plus the public landing page.
const (
	AdminHome   = "/admin"
	ManagerHome = "/manager"
	PublicHome  = "/"
	LoginPath   = "/login"
)

// areaRoles is the explicit area-to-role table consulted for navigation.
// Membership in an area is decided here, never by ad-hoc prefix matching
// scattered through handlers.
var areaRoles = map[string]Role{
	AdminHome:   RoleAdmin,
	ManagerHome: RoleManager,
}

// Valid reports whether r belongs to the closed role set. Any other value is
// an invalid identity: the session is rejected, not partially admitted.
func (r Role) Valid() bool {
	_, ok := rolePermissions[r]
	return ok
}

// Home returns the role's landing path, or the public home for an
// unrecognized role.
func (r Role) Home() string {
	switch r {
	case RoleAdmin:
		return AdminHome
	case RoleManager:
		return ManagerHome
	default:
		return PublicHome
	}
}

// PermissionsFor returns a copy of the role's permission set. Unknown roles
// get an empty set.
func PermissionsFor(r Role) []Permission {
	perms := rolePermissions[r]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Allowed reports whether the role's fixed permission set contains p.
func Allowed(r Role, p Permission) bool {
	for _, have := range rolePermissions[r] {
		if have == p {
			return true
		}
	}
	return false
}

// AreaFor returns the role that owns the area containing path, if any.
func AreaFor(path string) (Role, bool) {
	for root, role := range areaRoles {
		if path == root || strings.HasPrefix(path, root+"/") {
			return role, true
		}
	}
	return "", false
}

// InArea reports whether path lies inside the given role's area.
func InArea(r Role, path string) bool {
	owner, ok := AreaFor(path)
	return ok && owner == r
}
