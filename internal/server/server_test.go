package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrpass/apiserver/config"
	"github.com/qrpass/apiserver/internal/server"
)

func memoryConfig() config.Config {
	return config.Config{
		ServerPort:   0,
		StoreBackend: config.StoreBackendMemory,
		JWT: config.JWTConfig{
			Issuer:        "qrpass",
			Audience:      "qrpass-clients",
			Key:           "0123456789abcdef0123456789abcdef",
			ExpireMinutes: 60,
		},
		BcryptCost: 10,
		Qr:         config.QrConfig{TTLMinutes: 60, ImageSize: 128},
		RateLimit:  config.RateLimitConfig{Capacity: 10, RefillRate: 1},
		MQ:         config.MQConfig{Backend: config.MQBackendNone},
		Storage:    config.StorageConfig{Backend: config.StorageBackendNone},
	}
}

func serve(t *testing.T, h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := memoryConfig()
	cfg.JWT.Key = "short"

	_, err := server.New(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "JWT_KEY")
}

func TestServer_MemoryBackendRoutes(t *testing.T) {
	srv, err := server.New(context.Background(), memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	h := srv.Router()

	rec := serve(t, h, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, h, http.MethodPost, "/api/auth/register", "", `{"username":"alice","email":"alice@example.com","password":"Str0ng!pass"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(t, h, http.MethodPost, "/api/auth/login", "", `{"email":"alice@example.com","password":"Str0ng!pass"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var login struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &login))

	rec = serve(t, h, http.MethodPost, "/api/qr/generate", login.Token, `{"type":"temporary"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var code struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &code))

	rec = serve(t, h, http.MethodGet, "/api/qr/validate/"+code.ID, "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, h, http.MethodGet, "/api/user/admin", login.Token, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, h, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `qrpass_login_attempts_total{result="success"} 1`)
	assert.Contains(t, rec.Body.String(), `qrpass_qr_created_total{type="temporary"} 1`)
}
