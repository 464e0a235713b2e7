package model

// Role is the access level the backend assigns to an account.
type Role string

const (
	RoleAdmin      Role = "Admin"
	RoleSupervisor Role = "Supervisor"
	RoleTechnician Role = "Technician"
	RoleViewer     Role = "Viewer"
)

// SignupRoles lists the roles a new account may pick, in display order.
// Admin accounts are provisioned by the backend.
var SignupRoles = []Role{RoleSupervisor, RoleTechnician, RoleViewer}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleSupervisor, RoleTechnician, RoleViewer:
		return true
	default:
		return false
	}
}

// HasRoleChannel reports whether accounts with this role also receive
// broadcasts addressed to the role itself.
func (r Role) HasRoleChannel() bool {
	return r == RoleSupervisor || r == RoleAdmin
}
