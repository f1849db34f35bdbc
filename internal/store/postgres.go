package store

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/samber/oops"
)

// Unique index names from the initial migration.
const (
	constraintUsersEmail    = "users_email_key"
	constraintUsersUsername = "users_username_key"
	constraintUsersPkey     = "users_pkey"
	constraintQrCodesPkey   = "qr_codes_pkey"
)

var constraintFields = map[string]string{
	constraintUsersEmail:    FieldEmail,
	constraintUsersUsername: FieldUsername,
	constraintUsersPkey:     "id",
	constraintQrCodesPkey:   "id",
}

// constraintError translates PostgreSQL constraint failures into store
// errors. It returns nil for any other error.
func constraintError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return nil
	}
	switch string(pqErr.Code) {
	case pgerrcode.UniqueViolation:
		return &ConflictError{Field: constraintFields[pqErr.Constraint]}
	case pgerrcode.CheckViolation, pgerrcode.ForeignKeyViolation, pgerrcode.NotNullViolation:
		return oops.
			With("constraint", pqErr.Constraint, "sqlstate", string(pqErr.Code)).
			Wrapf(ErrInvalid, "%s", pqErr.Message)
	default:
		return nil
	}
}
