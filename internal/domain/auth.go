package domain

// Role identifies which side of a tenancy an actor acts for.
type Role string

const (
	RoleLandlord   Role = "LANDLORD"
	RoleTenant     Role = "TENANT"
	RoleContractor Role = "CONTRACTOR"
	RoleOps        Role = "OPS"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleLandlord, RoleTenant, RoleContractor, RoleOps:
		return true
	}
	return false
}

// Actor is the authenticated caller performing an action.
type Actor struct {
	ID   string
	Role Role
}
