package auth

import (
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/qrpass/apiserver/internal/errutil"
)

type requirementKind int

const (
	requirePublic requirementKind = iota
	requireAuthenticated
	requireRole
)

// Requirement declares what an operation needs from its caller.
type Requirement struct {
	kind requirementKind
	role string
}

// Public requires nothing.
func Public() Requirement {
	return Requirement{kind: requirePublic}
}

// Authenticated requires any valid token.
func Authenticated() Requirement {
	return Requirement{kind: requireAuthenticated}
}

// RoleRequired requires a valid token whose role set contains role.
func RoleRequired(role string) Requirement {
	return Requirement{kind: requireRole, role: role}
}

func (r Requirement) String() string {
	switch r.kind {
	case requireAuthenticated:
		return "authenticated"
	case requireRole:
		return "role:" + r.role
	default:
		return "public"
	}
}

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string, now time.Time) (*Claims, error)
}

// Policy evaluates requirements against presented bearer tokens.
type Policy struct {
	tokens TokenValidator
}

// NewPolicy returns a policy backed by tokens.
func NewPolicy(tokens TokenValidator) *Policy {
	return &Policy{tokens: tokens}
}

// Authorize checks token against req. Public requirements return nil claims
// unless a valid token was presented anyway. Token failures are reported
// before role checks.
func (p *Policy) Authorize(req Requirement, token string, now time.Time) (*Claims, error) {
	token = strings.TrimSpace(token)
	if req.kind == requirePublic {
		if token == "" {
			return nil, nil
		}
		claims, err := p.tokens.Validate(token, now)
		if err != nil {
			return nil, nil
		}
		return claims, nil
	}

	if token == "" {
		return nil, oops.Code(errutil.CodeTokenMissing).Errorf("authorization required")
	}
	claims, err := p.tokens.Validate(token, now)
	if err != nil {
		return nil, err
	}

	if req.kind == requireRole && !claims.HasRole(req.role) {
		return nil, oops.
			Code(errutil.CodeForbidden).
			With("required_role", req.role).
			Errorf("role %q required", req.role)
	}
	return claims, nil
}

// ParseBearer extracts the token from an Authorization header value.
// An empty header yields an empty token; any other malformed value is an error.
func ParseBearer(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", oops.Code(errutil.CodeTokenMalformed).Errorf("invalid authorization header")
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", oops.Code(errutil.CodeTokenMalformed).Errorf("invalid authorization header")
	}
	return token, nil
}
