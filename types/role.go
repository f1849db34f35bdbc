package types

import (
	"time"

	"github.com/google/uuid"
)

// Well-known role names.
const (
	RoleUser  = "User"
	RoleAdmin = "Admin"
)

// Role is a named group of permissions, e.g. "Admin" or "User".
type Role struct {
	Entity

	// Name is the unique role name.
	Name string `json:"name" db:"name"`
}

// UserRole assigns a role to a user. The (UserID, RoleID) pair is the
// composite identity; ID exists for auditing only.
type UserRole struct {
	Entity

	UserID uuid.UUID `json:"user_id" db:"user_id"`
	RoleID uuid.UUID `json:"role_id" db:"role_id"`
}

// NewUserRole builds an active assignment of role to user.
func NewUserRole(userID, roleID, actor uuid.UUID, now time.Time) UserRole {
	return UserRole{
		Entity: NewEntity(actor, now),
		UserID: userID,
		RoleID: roleID,
	}
}

// Claim is a generalized permission tag such as ("Permission", "CanDeleteUser").
type Claim struct {
	Entity

	Type  string `json:"type" db:"type"`
	Value string `json:"value" db:"value"`
}

// UserClaim grants a claim to a user. Same composite identity as UserRole.
type UserClaim struct {
	Entity

	UserID  uuid.UUID `json:"user_id" db:"user_id"`
	ClaimID uuid.UUID `json:"claim_id" db:"claim_id"`
}
