// Package memory provides in-process stores with the same contract as the
// PostgreSQL stores. Every write runs under one mutex, which makes
// uniqueness checks and conditional updates atomic.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qrpass/apiserver/internal/store"
	"github.com/qrpass/apiserver/types"
)

// UserRepository keeps users, roles and role assignments in memory.
type UserRepository struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]types.User
	roles     map[string]types.Role
	userRoles map[userRoleKey]types.UserRole
}

type userRoleKey struct {
	userID uuid.UUID
	roleID uuid.UUID
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:     make(map[uuid.UUID]types.User),
		roles:     make(map[string]types.Role),
		userRoles: make(map[userRoleKey]types.UserRole),
	}
}

func (r *UserRepository) FindActiveUsersByLogin(ctx context.Context, email, username string) ([]types.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.ToLower(strings.TrimSpace(username))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []types.User
	for _, u := range r.users {
		if !u.IsActive() {
			continue
		}
		if (email != "" && strings.ToLower(u.Email) == email) ||
			(username != "" && strings.ToLower(u.Username) == username) {
			matches = append(matches, u)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.Before(matches[j].CreatedAt) })
	return matches, nil
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.field(store.FieldEmail, email), nil
}

func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.field(store.FieldUsername, username), nil
}

func (r *UserRepository) GetUserByID(ctx context.Context, id uuid.UUID) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

func (r *UserRepository) RoleNamesForUser(ctx context.Context, userID uuid.UUID) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := make(map[uuid.UUID]types.Role, len(r.roles))
	for _, role := range r.roles {
		byID[role.ID] = role
	}

	var names []string
	for key, ur := range r.userRoles {
		if key.userID != userID || !ur.IsActive() {
			continue
		}
		if role, ok := byID[key.roleID]; ok && role.IsActive() {
			names = append(names, role.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *UserRepository) CreateUserWithRole(ctx context.Context, user types.User, roleName string) (types.User, error) {
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.field(store.FieldEmail, user.Email) {
		return types.User{}, &store.ConflictError{Field: store.FieldEmail}
	}
	if r.field(store.FieldUsername, user.Username) {
		return types.User{}, &store.ConflictError{Field: store.FieldUsername}
	}
	if _, ok := r.users[user.ID]; ok {
		return types.User{}, &store.ConflictError{Field: "id"}
	}

	r.users[user.ID] = user
	r.assign(user.ID, roleName, user.CreatedBy, user.CreatedAt)
	return user, nil
}

// AssignRole grants roleName to an existing user, creating the role if needed.
// Assigning a role twice is a no-op.
func (r *UserRepository) AssignRole(ctx context.Context, userID uuid.UUID, roleName string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userID]; !ok {
		return store.ErrNotFound
	}
	r.assign(userID, roleName, uuid.Nil, now)
	return nil
}

// assign requires r.mu held for writing.
func (r *UserRepository) assign(userID uuid.UUID, roleName string, actor uuid.UUID, now time.Time) {
	role, ok := r.roles[roleName]
	if !ok {
		role = types.Role{Entity: types.NewEntity(actor, now), Name: roleName}
		r.roles[roleName] = role
	}
	key := userRoleKey{userID: userID, roleID: role.ID}
	if _, ok := r.userRoles[key]; ok {
		return
	}
	r.userRoles[key] = types.NewUserRole(userID, role.ID, actor, now)
}

// field requires r.mu held.
func (r *UserRepository) field(name, value string) bool {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return false
	}
	for _, u := range r.users {
		var got string
		switch name {
		case store.FieldEmail:
			got = u.Email
		case store.FieldUsername:
			got = u.Username
		}
		if strings.ToLower(got) == value {
			return true
		}
	}
	return false
}
