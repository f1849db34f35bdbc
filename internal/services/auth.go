package services

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/asaskevich/govalidator"
	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/qrpass/apiserver/internal/auth"
	"github.com/qrpass/apiserver/internal/errutil"
	"github.com/qrpass/apiserver/internal/metrics"
	"github.com/qrpass/apiserver/internal/store"
	"github.com/qrpass/apiserver/types"
)

// CredentialStore persists users and their role assignments.
type CredentialStore interface {
	// FindActiveUsersByLogin returns active users whose email or username
	// matches case-insensitively. Empty arguments match nothing.
	FindActiveUsersByLogin(ctx context.Context, email, username string) ([]types.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	RoleNamesForUser(ctx context.Context, userID uuid.UUID) ([]string, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (types.User, error)
	// CreateUserWithRole inserts user, ensures the named role exists and
	// assigns it, atomically. Unique collisions return a *store.ConflictError.
	CreateUserWithRole(ctx context.Context, user types.User, roleName string) (types.User, error)
}

// TokenSigner issues bearer tokens.
type TokenSigner interface {
	Issue(subject, email string, roles []string, now time.Time) (string, error)
}

// Registration rule limits.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MinPasswordLength = 8
	maxPasswordBytes  = 72
	passwordSymbols   = "!@#$%^&*_"
)

var (
	upperPattern  = regexp.MustCompile(`[A-Z]`)
	digitPattern  = regexp.MustCompile(`[0-9]`)
	symbolPattern = regexp.MustCompile(`[` + regexp.QuoteMeta(passwordSymbols) + `]`)
)

// AuthService implements login and registration.
type AuthService struct {
	store   CredentialStore
	hasher  auth.PasswordHasher
	tokens  TokenSigner
	metrics *metrics.Metrics
	logger  *slog.Logger
	events  emitter

	dummyOnce sync.Once
	dummyHash string
}

// AuthOption configures an AuthService.
type AuthOption func(*AuthService)

// WithAuthLogger sets the logger.
func WithAuthLogger(logger *slog.Logger) AuthOption {
	return func(s *AuthService) { s.logger = logger }
}

// WithAuthMetrics sets the metrics sink.
func WithAuthMetrics(m *metrics.Metrics) AuthOption {
	return func(s *AuthService) { s.metrics = m }
}

// WithAuthEvents publishes user.registered events to publisher.
func WithAuthEvents(publisher EventPublisher) AuthOption {
	return func(s *AuthService) { s.events.publisher = publisher }
}

func NewAuthService(store CredentialStore, hasher auth.PasswordHasher, tokens TokenSigner, opts ...AuthOption) *AuthService {
	s := &AuthService{
		store:  store,
		hasher: hasher,
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.events.logger = s.logger
	s.events.metrics = s.metrics
	return s
}

// Login authenticates by email or username and returns a signed token.
func (s *AuthService) Login(ctx context.Context, email, username, password string, now time.Time) (string, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)

	var violations []string
	if email == "" && username == "" {
		violations = append(violations, "email or username is required")
	}
	if password == "" {
		violations = append(violations, "password is required")
	}
	if len(violations) > 0 {
		s.metrics.ObserveLogin(metrics.ResultFailure)
		return "", validationError(violations)
	}

	users, err := s.store.FindActiveUsersByLogin(ctx, strings.ToLower(email), username)
	if err != nil {
		s.metrics.ObserveLogin(metrics.ResultError)
		return "", oops.Wrapf(err, "find user")
	}

	if len(users) != 1 {
		// Keep the response time independent of whether the account exists.
		s.hasher.Verify(password, s.dummy())
		s.metrics.ObserveLogin(metrics.ResultFailure)
		return "", invalidCredentials()
	}
	user := users[0]
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.metrics.ObserveLogin(metrics.ResultFailure)
		return "", invalidCredentials()
	}

	roles, err := s.store.RoleNamesForUser(ctx, user.ID)
	if err != nil {
		s.metrics.ObserveLogin(metrics.ResultError)
		return "", oops.With("user_id", user.ID.String()).Wrapf(err, "load roles")
	}

	token, err := s.tokens.Issue(user.ID.String(), user.Email, roles, now)
	if err != nil {
		s.metrics.ObserveLogin(metrics.ResultError)
		return "", oops.Wrapf(err, "issue token")
	}

	s.metrics.ObserveLogin(metrics.ResultSuccess)
	s.logger.InfoContext(ctx, "user logged in", "user_id", user.ID.String())
	return token, nil
}

// Register creates an active user with the default role.
func (s *AuthService) Register(ctx context.Context, username, email, password string, now time.Time) (types.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if violations := validateRegistration(username, email, password); len(violations) > 0 {
		s.metrics.ObserveRegistration(metrics.ResultFailure)
		return types.User{}, validationError(violations)
	}

	exists, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		s.metrics.ObserveRegistration(metrics.ResultError)
		return types.User{}, oops.Wrapf(err, "check email")
	}
	if exists {
		s.metrics.ObserveRegistration(metrics.ResultFailure)
		return types.User{}, duplicateError(store.FieldEmail)
	}

	exists, err = s.store.ExistsByUsername(ctx, username)
	if err != nil {
		s.metrics.ObserveRegistration(metrics.ResultError)
		return types.User{}, oops.Wrapf(err, "check username")
	}
	if exists {
		s.metrics.ObserveRegistration(metrics.ResultFailure)
		return types.User{}, duplicateError(store.FieldUsername)
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.metrics.ObserveRegistration(metrics.ResultError)
		return types.User{}, oops.Wrapf(err, "hash password")
	}

	user := types.User{
		Entity:       types.NewEntity(uuid.Nil, now),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
	}

	created, err := s.store.CreateUserWithRole(ctx, user, types.RoleUser)
	if err != nil {
		var conflict *store.ConflictError
		if errors.As(err, &conflict) {
			s.metrics.ObserveRegistration(metrics.ResultFailure)
			return types.User{}, duplicateError(conflict.Field)
		}
		if errors.Is(err, store.ErrConflict) {
			s.metrics.ObserveRegistration(metrics.ResultFailure)
			return types.User{}, duplicateError("")
		}
		s.metrics.ObserveRegistration(metrics.ResultError)
		return types.User{}, oops.Wrapf(err, "create user")
	}

	s.metrics.ObserveRegistration(metrics.ResultSuccess)
	s.logger.InfoContext(ctx, "user registered", "user_id", created.ID.String())
	s.events.emit(ctx, EventUserRegistered, created.ID.String(), now, map[string]string{
		"username": created.Username,
		"email":    created.Email,
	})
	return created, nil
}

// GetUser returns a user by id.
func (s *AuthService) GetUser(ctx context.Context, id uuid.UUID) (types.User, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		return types.User{}, err
	}
	return user, nil
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("qrpass-dummy-password")
		if err != nil {
			errutil.LogError(context.Background(), s.logger, "compute dummy hash", err)
			return
		}
		s.dummyHash = hash
	})
	return s.dummyHash
}

// validateRegistration reports every violated rule, not just the first.
func validateRegistration(username, email, password string) []string {
	var violations []string
	check := func(value string, rules ...validation.Rule) {
		for _, rule := range rules {
			if err := validation.Validate(value, rule); err != nil {
				violations = append(violations, err.Error())
			}
		}
	}

	if username == "" {
		violations = append(violations, "username is required")
	} else {
		check(username,
			validation.RuneLength(MinUsernameLength, MaxUsernameLength).
				Error("username must be between 3 and 30 characters"),
		)
	}

	if email == "" {
		violations = append(violations, "email is required")
	} else {
		check(email,
			validation.NewStringRule(govalidator.IsEmail, "email must be a valid email address"),
			validation.Length(0, types.MaxEmailLength).Error("email must be at most 100 characters"),
		)
	}

	if password == "" {
		violations = append(violations, "password is required")
	} else {
		check(password,
			validation.RuneLength(MinPasswordLength, 0).Error("password must be at least 8 characters"),
			validation.Match(upperPattern).Error("password must contain an uppercase letter"),
			validation.Match(digitPattern).Error("password must contain a digit"),
			validation.Match(symbolPattern).Error("password must contain one of "+passwordSymbols),
		)
		// bcrypt rejects input over 72 bytes.
		if len(password) > maxPasswordBytes {
			violations = append(violations, "password must be at most 72 bytes")
		}
	}
	return violations
}

func validationError(violations []string) error {
	return oops.
		Code(errutil.CodeValidation).
		With(errutil.KeyViolations, violations).
		Errorf("validation failed: %s", strings.Join(violations, "; "))
}

func duplicateError(field string) error {
	msg := "account already exists"
	switch field {
	case store.FieldEmail:
		msg = "this email is already registered"
	case store.FieldUsername:
		msg = "this username is already taken"
	}
	return oops.
		Code(errutil.CodeDuplicate).
		With(errutil.KeyField, field).
		Errorf("%s", msg)
}

func invalidCredentials() error {
	return oops.Code(errutil.CodeInvalidCredentials).Errorf("incorrect email/username or password")
}
