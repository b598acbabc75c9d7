package domain

import dErrors "evidex/pkg/domain-errors"

// Role is supplied by the identity provider with each call. This core trusts
// the role as given and never re-derives it.
type Role string

const (
	RoleBuyer   Role = "buyer"
	RoleFactory Role = "factory"
	RoleAdmin   Role = "admin"
)

// validRoles is the single source of truth for supported roles.
var validRoles = map[Role]bool{
	RoleBuyer:   true,
	RoleFactory: true,
	RoleAdmin:   true,
}

// ParseRole constructs a Role from external input (JWT claims, seeds).
//
// Errors: returns CodeInvalidInput when the value is empty or unsupported.
func ParseRole(s string) (Role, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "role cannot be empty")
	}
	r := Role(s)
	if !validRoles[r] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role")
	}
	return r, nil
}

func (r Role) IsValid() bool  { return validRoles[r] }
func (r Role) String() string { return string(r) }

// Actor is the authenticated identity an operation runs as.
type Actor struct {
	ID   UserID
	Role Role
}

// IsFactory reports whether the actor may own evidence and fulfill requests.
func (a Actor) IsFactory() bool { return a.Role == RoleFactory }

// IsBuyer reports whether the actor may create and cancel requests.
func (a Actor) IsBuyer() bool { return a.Role == RoleBuyer }

// IsAdmin reports whether the actor bypasses visibility checks. This is a
// deliberate, explicit exception, not a default.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
