package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/qrpass/apiserver/internal/auth"
)

func TestNewBcryptHasher_ClampsCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, auth.NewBcryptHasher(4).Cost())
	assert.Equal(t, 12, auth.NewBcryptHasher(12).Cost())
	assert.Equal(t, bcrypt.MaxCost, auth.NewBcryptHasher(99).Cost())
}

func TestBcryptHasher_RoundTrip(t *testing.T) {
	h := auth.NewBcryptHasher(bcrypt.DefaultCost)

	hash, err := h.Hash("Str0ng!Pass")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2a$10$"), "unexpected hash format %q", hash)

	assert.True(t, h.Verify("Str0ng!Pass", hash))
	assert.False(t, h.Verify("str0ng!Pass", hash))
	assert.False(t, h.Verify("", hash))
}

func TestBcryptHasher_SaltPerCall(t *testing.T) {
	h := auth.NewBcryptHasher(bcrypt.DefaultCost)

	first, err := h.Hash("same-password")
	require.NoError(t, err)
	second, err := h.Hash("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, h.Verify("same-password", first))
	assert.True(t, h.Verify("same-password", second))
}

func TestBcryptHasher_MalformedHash(t *testing.T) {
	h := auth.NewBcryptHasher(bcrypt.DefaultCost)

	for _, hash := range []string{"", "not-a-hash", "$2a$10$short"} {
		assert.False(t, h.Verify("anything", hash), "hash %q", hash)
	}
}

func TestBcryptHasher_TooLongPassword(t *testing.T) {
	h := auth.NewBcryptHasher(bcrypt.DefaultCost)

	_, err := h.Hash(strings.Repeat("a", 73))
	assert.Error(t, err)
}
