package auth_test

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrpass/apiserver/internal/auth"
	"github.com/qrpass/apiserver/internal/errutil"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newIssuer(t *testing.T) *auth.TokenIssuer {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		Issuer:   "qrpass",
		Audience: "qrpass-clients",
		Key:      testKey,
		TTL:      time.Hour,
	})
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer_RejectsBadConfig(t *testing.T) {
	_, err := auth.NewTokenIssuer(auth.TokenConfig{Key: []byte("short"), TTL: time.Hour})
	assert.Error(t, err)

	_, err = auth.NewTokenIssuer(auth.TokenConfig{Key: testKey})
	assert.Error(t, err)
}

func TestTokenIssuer_IssueValidate(t *testing.T) {
	issuer := newIssuer(t)
	t0 := time.Date(2025, 7, 21, 12, 0, 0, 0, time.UTC)

	token, err := issuer.Issue("user-1", "bob@x.com", []string{"User"}, t0)
	require.NoError(t, err)
	assert.Len(t, strings.Split(token, "."), 3)

	claims, err := issuer.Validate(token, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "bob@x.com", claims.Email)
	assert.Equal(t, "bob@x.com", claims.Name)
	assert.Equal(t, jwt.ClaimStrings{"User"}, claims.Roles)
	assert.Equal(t, "qrpass", claims.Issuer)
	assert.Equal(t, jwt.ClaimStrings{"qrpass-clients"}, claims.Audience)
	assert.True(t, claims.IssuedAt.Time.Equal(t0))
	assert.True(t, claims.ExpiresAt.Time.Equal(t0.Add(time.Hour)))
	assert.True(t, claims.HasRole("User"))
	assert.False(t, claims.HasRole("Admin"))
}

func TestTokenIssuer_HeaderAndRoleClaim(t *testing.T) {
	issuer := newIssuer(t)
	token, err := issuer.Issue("user-1", "bob@x.com", []string{"User", "Admin"}, time.Now())
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	header, err := base64.RawURLEncoding.DecodeString(parts[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"alg":"HS256","typ":"JWT"}`, string(header))

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Equal(t, []any{"User", "Admin"}, decoded["role"])
	assert.Equal(t, "user-1", decoded["sub"])
}

func TestTokenIssuer_Deterministic(t *testing.T) {
	issuer := newIssuer(t)
	t0 := time.Unix(1_750_000_000, 0)

	a, err := issuer.Issue("user-1", "bob@x.com", []string{"User"}, t0)
	require.NoError(t, err)
	b, err := issuer.Issue("user-1", "bob@x.com", []string{"User"}, t0)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTokenIssuer_ExpiryBoundary(t *testing.T) {
	issuer := newIssuer(t)
	t0 := time.Unix(1_750_000_000, 0)

	tests := []struct {
		name     string
		issuedAt time.Time
		at       time.Time
		expired  bool
	}{
		{name: "exactly at expiry", issuedAt: t0, at: t0.Add(time.Hour)},
		{name: "just past expiry", issuedAt: t0, at: t0.Add(time.Hour + time.Nanosecond), expired: true},
		{name: "sub-second issue before expiry", issuedAt: t0.Add(900 * time.Millisecond), at: t0.Add(time.Hour + 400*time.Millisecond)},
		{name: "sub-second issue at expiry", issuedAt: t0.Add(900 * time.Millisecond), at: t0.Add(time.Hour + 900*time.Millisecond)},
		{name: "sub-second issue long past expiry", issuedAt: t0.Add(900 * time.Millisecond), at: t0.Add(time.Hour + 2*time.Second), expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := issuer.Issue("user-1", "bob@x.com", []string{"User"}, tt.issuedAt)
			require.NoError(t, err)

			_, err = issuer.Validate(token, tt.at)
			if tt.expired {
				errutil.AssertErrorCode(t, err, errutil.CodeTokenExpired)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTokenIssuer_ValidateFailures(t *testing.T) {
	issuer := newIssuer(t)
	t0 := time.Unix(1_750_000_000, 0)
	token, err := issuer.Issue("user-1", "bob@x.com", []string{"User"}, t0)
	require.NoError(t, err)

	otherKey, err := auth.NewTokenIssuer(auth.TokenConfig{
		Issuer: "qrpass", Audience: "qrpass-clients",
		Key: []byte("ffffffffffffffffffffffffffffffff"), TTL: time.Hour,
	})
	require.NoError(t, err)
	forged, err := otherKey.Issue("user-1", "bob@x.com", []string{"Admin"}, t0)
	require.NoError(t, err)

	otherIssuer, err := auth.NewTokenIssuer(auth.TokenConfig{
		Issuer: "someone-else", Audience: "qrpass-clients", Key: testKey, TTL: time.Hour,
	})
	require.NoError(t, err)
	wrongIss, err := otherIssuer.Issue("user-1", "bob@x.com", nil, t0)
	require.NoError(t, err)

	otherAudience, err := auth.NewTokenIssuer(auth.TokenConfig{
		Issuer: "qrpass", Audience: "elsewhere", Key: testKey, TTL: time.Hour,
	})
	require.NoError(t, err)
	wrongAud, err := otherAudience.Issue("user-1", "bob@x.com", nil, t0)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + base64.RawURLEncoding.EncodeToString([]byte(`{"sub":"admin"}`)) + "." + parts[2]

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-1"})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
		now   time.Time
		code  string
	}{
		{"empty", "", t0, errutil.CodeTokenMissing},
		{"garbage", "not-a-token", t0, errutil.CodeTokenMalformed},
		{"wrong key", forged, t0, errutil.CodeTokenSignature},
		{"tampered payload", tampered, t0, errutil.CodeTokenSignature},
		{"alg none", unsigned, t0, errutil.CodeTokenSignature},
		{"wrong issuer", wrongIss, t0, errutil.CodeTokenIssuer},
		{"wrong audience", wrongAud, t0, errutil.CodeTokenAudience},
		{"expired", token, t0.Add(time.Hour + time.Second), errutil.CodeTokenExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := issuer.Validate(tt.token, tt.now)
			assert.Nil(t, claims)
			errutil.AssertErrorCode(t, err, tt.code)
			errutil.AssertErrorKind(t, err, errutil.KindAuth)
		})
	}
}
