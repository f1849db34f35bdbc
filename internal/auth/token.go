// Package auth implements password hashing, bearer token issuance and the
// access policy evaluated on every protected request.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/oops"

	"github.com/qrpass/apiserver/internal/errutil"
)

// MinKeyLength is the minimum signing key size for HS256.
const MinKeyLength = 32

// Claims is the claim set carried by issued tokens.
type Claims struct {
	Email string           `json:"email"`
	Name  string           `json:"name"`
	Roles jwt.ClaimStrings `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the claim set contains role.
func (c *Claims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TokenConfig configures a TokenIssuer.
type TokenConfig struct {
	Issuer   string
	Audience string
	Key      []byte
	TTL      time.Duration
}

// TokenIssuer signs and validates HS256 bearer tokens.
type TokenIssuer struct {
	issuer   string
	audience string
	key      []byte
	ttl      time.Duration
}

// NewTokenIssuer validates cfg and returns an issuer.
func NewTokenIssuer(cfg TokenConfig) (*TokenIssuer, error) {
	if len(cfg.Key) < MinKeyLength {
		return nil, oops.
			With("min_length", MinKeyLength).
			Errorf("signing key too short: %d bytes", len(cfg.Key))
	}
	if cfg.TTL <= 0 {
		return nil, oops.With("ttl", cfg.TTL.String()).Errorf("token ttl must be positive")
	}
	key := make([]byte, len(cfg.Key))
	copy(key, cfg.Key)
	return &TokenIssuer{
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		key:      key,
		ttl:      cfg.TTL,
	}, nil
}

// TTL returns the lifetime of issued tokens.
func (i *TokenIssuer) TTL() time.Duration {
	return i.ttl
}

// Issue signs a token for subject. Identical inputs produce identical tokens.
func (i *TokenIssuer) Issue(subject, email string, roles []string, now time.Time) (string, error) {
	claims := Claims{
		Email: email,
		Name:  email,
		Roles: jwt.ClaimStrings(roles),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ceilTime(now.Add(i.ttl))),
		},
	}
	if i.issuer != "" {
		claims.Issuer = i.issuer
	}
	if i.audience != "" {
		claims.Audience = jwt.ClaimStrings{i.audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", oops.Wrapf(err, "sign token")
	}
	return signed, nil
}

// Validate verifies the signature, issuer, audience and expiry of token at now
// and returns its claims.
func (i *TokenIssuer) Validate(tokenString string, now time.Time) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, oops.Code(errutil.CodeTokenMissing).Errorf("token missing")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		// The expiry instant itself is still valid.
		jwt.WithTimeFunc(func() time.Time { return now.Add(-time.Nanosecond) }),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}
	if i.audience != "" {
		opts = append(opts, jwt.WithAudience(i.audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	}, opts...)
	if err != nil {
		return nil, tokenError(err)
	}
	if !token.Valid {
		return nil, oops.Code(errutil.CodeTokenMalformed).Errorf("token invalid")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, oops.Code(errutil.CodeTokenMalformed).Errorf("token has no subject")
	}
	return claims, nil
}

func tokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return oops.Code(errutil.CodeTokenSignature).Errorf("token signature invalid")
	case errors.Is(err, jwt.ErrTokenExpired):
		return oops.Code(errutil.CodeTokenExpired).Errorf("token expired")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return oops.Code(errutil.CodeTokenIssuer).Errorf("token issuer invalid")
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return oops.Code(errutil.CodeTokenAudience).Errorf("token audience invalid")
	default:
		return oops.Code(errutil.CodeTokenMalformed).Errorf("token malformed: %v", err)
	}
}

// ceilTime rounds t up to the claim precision so truncation never shortens
// a token's lifetime.
func ceilTime(t time.Time) time.Time {
	if r := t.Truncate(jwt.TimePrecision); !r.Equal(t) {
		return r.Add(jwt.TimePrecision)
	}
	return t
}
