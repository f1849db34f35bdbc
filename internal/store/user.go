package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/qrpass/apiserver/types"
)

const userColumns = `id, username, email, password_hash, status, created_by, updated_by, created_at, updated_at`

// UserRepository handles persistence for users, roles and role assignments.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Status,
		&user.CreatedBy,
		&user.UpdatedBy,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

func (r *UserRepository) FindActiveUsersByLogin(ctx context.Context, email, username string) ([]types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE status = 1
			AND (($1 <> '' AND LOWER(email) = LOWER($1))
				OR ($2 <> '' AND LOWER(username) = LOWER($2)))
		ORDER BY created_at
		LIMIT 2`
	rows, err := r.db.QueryContext(ctx, query, email, username)
	if err != nil {
		return nil, oops.In("user_store").Wrapf(err, "find users by login")
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, oops.In("user_store").Wrapf(err, "scan user")
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("user_store").Wrapf(err, "iterate users")
	}
	return users, nil
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, email).Scan(&exists); err != nil {
		return false, oops.In("user_store").Wrapf(err, "check email")
	}
	return exists, nil
}

func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, username).Scan(&exists); err != nil {
		return false, oops.In("user_store").Wrapf(err, "check username")
	}
	return exists, nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	const query = `
		SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, oops.In("user_store").With("user_id", id.String()).Wrapf(err, "get user")
	}
	return user, nil
}

func (r *UserRepository) RoleNamesForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	const query = `
		SELECT r.name
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 AND ur.status = 1 AND r.status = 1
		ORDER BY r.name`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, oops.In("user_store").With("user_id", userID.String()).Wrapf(err, "list roles")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, oops.In("user_store").Wrapf(err, "scan role")
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.In("user_store").Wrapf(err, "iterate roles")
	}
	return names, nil
}

// CreateUserWithRole inserts user and assigns roleName in one transaction.
// The unique indexes on users arbitrate concurrent registrations.
func (r *UserRepository) CreateUserWithRole(ctx context.Context, user types.User, roleName string) (types.User, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return types.User{}, oops.In("user_store").Wrapf(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const insertUser = `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := tx.ExecContext(
		ctx,
		insertUser,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.Status,
		user.CreatedBy,
		user.UpdatedBy,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		if cerr := constraintError(err); cerr != nil {
			return types.User{}, cerr
		}
		return types.User{}, oops.In("user_store").Wrapf(err, "insert user")
	}

	if err := assignRole(ctx, tx, user.ID, roleName, user.CreatedBy, user.CreatedAt); err != nil {
		return types.User{}, err
	}

	if err := tx.Commit(); err != nil {
		return types.User{}, oops.In("user_store").Wrapf(err, "commit registration")
	}
	return user, nil
}

// AssignRole grants roleName to an existing user, creating the role if needed.
func (r *UserRepository) AssignRole(ctx context.Context, userID uuid.UUID, roleName string, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return oops.In("user_store").Wrapf(err, "begin transaction")
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var exists bool
	const userExists = `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`
	if err := tx.QueryRowContext(ctx, userExists, userID).Scan(&exists); err != nil {
		return oops.In("user_store").Wrapf(err, "check user")
	}
	if !exists {
		return ErrNotFound
	}

	if err := assignRole(ctx, tx, userID, roleName, uuid.Nil, now); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return oops.In("user_store").Wrapf(err, "commit role assignment")
	}
	return nil
}

func assignRole(ctx context.Context, tx *sql.Tx, userID uuid.UUID, roleName string, actor uuid.UUID, now time.Time) error {
	role := types.Role{Entity: types.NewEntity(actor, now), Name: roleName}

	const ensureRole = `
		INSERT INTO roles (id, name, status, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4, $5, $5)
		ON CONFLICT (name) DO NOTHING`
	if _, err := tx.ExecContext(ctx, ensureRole, role.ID, role.Name, role.Status, actor, now); err != nil {
		return oops.In("user_store").With("role", roleName).Wrapf(err, "ensure role")
	}

	var roleID uuid.UUID
	const selectRole = `SELECT id FROM roles WHERE name = $1`
	if err := tx.QueryRowContext(ctx, selectRole, roleName).Scan(&roleID); err != nil {
		return oops.In("user_store").With("role", roleName).Wrapf(err, "load role")
	}

	assignment := types.NewUserRole(userID, roleID, actor, now)
	const insertAssignment = `
		INSERT INTO user_roles (id, user_id, role_id, status, created_by, updated_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5, $6, $6)
		ON CONFLICT (user_id, role_id) DO NOTHING`
	if _, err := tx.ExecContext(
		ctx,
		insertAssignment,
		assignment.ID,
		assignment.UserID,
		assignment.RoleID,
		assignment.Status,
		actor,
		now,
	); err != nil {
		return oops.In("user_store").With("role", roleName).Wrapf(err, "assign role")
	}
	return nil
}
