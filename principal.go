package authcore

import "strings"

// Role is the closed set of clinical and administrative roles a principal
// can hold. Unknown values normalize to [RoleUser].
type Role string

const (
	RoleUser       Role = "user"
	RolePatient    Role = "patient"
	RoleCaregiver  Role = "caregiver"
	RoleStudent    Role = "student"
	RoleResearcher Role = "researcher"
	RoleNurse      Role = "nurse"
	RolePharmacist Role = "pharmacist"
	RoleOncologist Role = "oncologist"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// roleLevels orders roles for minimum-level checks. Clinical roles sit
// between patient-facing roles and administrators.
var roleLevels = map[Role]int{
	RoleUser:       10,
	RolePatient:    10,
	RoleCaregiver:  10,
	RoleStudent:    20,
	RoleResearcher: 30,
	RoleNurse:      40,
	RolePharmacist: 50,
	RoleOncologist: 60,
	RoleAdmin:      80,
	RoleSuperAdmin: 100,
}

// ParseRole normalizes a raw role string. "physician" is accepted as a
// legacy alias for oncologist; anything unrecognized becomes RoleUser.
func ParseRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RolePatient:
		return RolePatient
	case RoleCaregiver:
		return RoleCaregiver
	case RoleStudent:
		return RoleStudent
	case RoleResearcher:
		return RoleResearcher
	case RoleNurse:
		return RoleNurse
	case RolePharmacist:
		return RolePharmacist
	case RoleOncologist, Role("physician"):
		return RoleOncologist
	case RoleAdmin:
		return RoleAdmin
	case RoleSuperAdmin:
		return RoleSuperAdmin
	case RoleUser:
		return RoleUser
	default:
		return RoleUser
	}
}

// Level returns the role's position in the role ordering.
func (r Role) Level() int {
	return roleLevels[r]
}

// AtLeast reports whether r ranks at or above other.
func (r Role) AtLeast(other Role) bool {
	return r.Level() >= other.Level()
}

func (r Role) String() string { return string(r) }

// Principal is the resolved, trusted identity used for authorization
// decisions. It is built from verified token claims and never persisted
// by this module.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// IsAdmin reports whether the principal holds an administrative role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin || p.Role == RoleSuperAdmin
}

// IsSuperAdmin reports whether the principal holds the elevated
// super_admin role.
func (p Principal) IsSuperAdmin() bool {
	return p.Role == RoleSuperAdmin
}
