// Package identity models the two disjoint account spaces that can
// participate in a conversation. Patient accounts and doctor accounts live in
// separate collections, so a bare id is ambiguous; every reference to a
// sender or participant carries a Role tag to pick the space to resolve
// against.
package identity

import "strings"

// Role discriminates the user and doctor account spaces.
type Role string

const (
	RoleUser   Role = "user"
	RoleDoctor Role = "doctor"
)

// ParseRole normalizes a wire role, defaulting to user for anything that is
// not explicitly "doctor".
func ParseRole(raw string) Role {
	if strings.TrimSpace(strings.ToLower(raw)) == string(RoleDoctor) {
		return RoleDoctor
	}
	return RoleUser
}

// Valid reports whether r is one of the two known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleDoctor
}

// Identity is an already-authenticated account reference. The token layer
// verifies it; everything below treats it as opaque.
type Identity struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Zero reports whether the identity carries no account id.
func (i Identity) Zero() bool { return i.ID == "" }
