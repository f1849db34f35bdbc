package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ENV", "test")
	cfg := LoadConfig()

	assert.Equal(t, 8080, cfg.ServerPort)
	assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 60*time.Minute, cfg.JWT.TTL())
	assert.Equal(t, 60*time.Minute, cfg.Qr.TTL())
	assert.Equal(t, 256, cfg.Qr.ImageSize)
	assert.Equal(t, 12, cfg.BcryptCost)
	assert.False(t, cfg.Qr.OneTimeSpentOnCreate)
	assert.Equal(t, MQBackendNone, cfg.MQ.Backend)
	assert.Equal(t, StorageBackendNone, cfg.Storage.Backend)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STORE_BACKEND", "Memory")
	t.Setenv("JWT_KEY", "0123456789abcdef0123456789abcdef")
	t.Setenv("JWT_EXPIRE_MINUTES", "15")
	t.Setenv("QR_ONE_TIME_SPENT_ON_CREATE", "true")
	t.Setenv("DB_SSL", "yes-please")
	t.Setenv("RATE_LIMIT_REFILL_PER_SECOND", "2.5")

	cfg := LoadConfig()
	assert.Equal(t, 9090, cfg.ServerPort)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, 15*time.Minute, cfg.JWT.TTL())
	assert.True(t, cfg.Qr.OneTimeSpentOnCreate)
	assert.False(t, cfg.Database.UseSSL, "unparseable bools fall back to the default")
	assert.Equal(t, 2.5, cfg.RateLimit.RefillRate)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	cfg := LoadConfig()
	cfg.JWT.Key = "short"
	cfg.JWT.ExpireMinutes = 0
	cfg.StoreBackend = "mongo"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_KEY must be at least 32 bytes")
	assert.Contains(t, err.Error(), "JWT_EXPIRE_MINUTES must be positive")
	assert.Contains(t, err.Error(), `unknown STORE_BACKEND "mongo"`)
}
