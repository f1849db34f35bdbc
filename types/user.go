package types

// Field limits enforced by the schema.
const (
	MaxUsernameLength = 50
	MaxEmailLength    = 100
)

// User represents an account in the system.
// Role membership is held in UserRole records, not on the user itself.
type User struct {
	Entity

	// Username is the unique login name chosen by the user.
	Username string `json:"username" db:"username"`

	// Email is the user's address, stored lowercased. Unique.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the hashed representation of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`
}
