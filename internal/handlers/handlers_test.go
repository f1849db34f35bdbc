package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrpass/apiserver/internal/auth"
	"github.com/qrpass/apiserver/internal/errutil"
	"github.com/qrpass/apiserver/internal/handlers"
	"github.com/qrpass/apiserver/internal/qrimage"
	"github.com/qrpass/apiserver/internal/services"
	"github.com/qrpass/apiserver/internal/store/memory"
	"github.com/qrpass/apiserver/types"
)

const testPassword = "Str0ng!pass"

type testApp struct {
	router http.Handler
	users  *memory.UserRepository
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	tokens, err := auth.NewTokenIssuer(auth.TokenConfig{
		Issuer:   "qrpass",
		Audience: "qrpass-clients",
		Key:      []byte("0123456789abcdef0123456789abcdef"),
		TTL:      time.Hour,
	})
	require.NoError(t, err)

	users := memory.NewUserRepository()
	authService := services.NewAuthService(users, auth.NewBcryptHasher(0), tokens)
	qrService := services.NewQrService(memory.NewQrCodeRepository(), qrimage.NewEncoder(qrimage.DefaultSize), services.QrConfig{})
	access := handlers.NewAccess(auth.NewPolicy(tokens), nil)

	r := chi.NewRouter()
	r.Route("/api/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, nil, nil)
	})
	r.Route("/api/qr", func(r chi.Router) {
		handlers.QrRouter(r, qrService, access, nil)
	})
	r.Route("/api/user", func(r chi.Router) {
		handlers.UserRouter(r, access, nil)
	})
	return &testApp{router: r, users: users}
}

func (a *testApp) do(t *testing.T, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testApp) register(t *testing.T, username, email string) {
	t.Helper()
	body := `{"username":"` + username + `","email":"` + email + `","password":"` + testPassword + `"}`
	rec := a.do(t, http.MethodPost, "/api/auth/register", "", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func (a *testApp) login(t *testing.T, email string) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/auth/login", "", `{"email":"`+email+`","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp handlers.LoginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)
	return resp.Token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) handlers.ErrorResponse {
	t.Helper()
	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestAuth_RegisterAndLogin(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@example.com")

	var msg handlers.MessageResponse
	rec := app.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"alice","email":"other@example.com","password":"`+testPassword+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, errutil.CodeDuplicate, resp.Code)
	assert.Equal(t, "username", resp.Field)

	rec = app.do(t, http.MethodPost, "/api/auth/login", "", `{"username":"ALICE","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	token := app.login(t, "alice@example.com")
	assert.Len(t, strings.Split(token, "."), 3)

	rec = app.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"bob","email":"bob@example.com","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, "Registration successful", msg.Message)
}

func TestAuth_RegisterValidation(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/api/auth/register", "", `{"username":"al","email":"nope","password":"short"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, errutil.CodeValidation, resp.Code)
	assert.GreaterOrEqual(t, len(resp.Errors), 3)

	rec = app.do(t, http.MethodPost, "/api/auth/register", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodPost, "/api/auth/register", "", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errutil.CodeValidation, decodeError(t, rec).Code)
}

func TestAuth_LoginFailures(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@example.com")

	rec := app.do(t, http.MethodPost, "/api/auth/login", "", `{"email":"alice@example.com","password":"Wr0ng!pass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, errutil.CodeInvalidCredentials, decodeError(t, rec).Code)

	rec = app.do(t, http.MethodPost, "/api/auth/login", "", `{"email":"ghost@example.com","password":"`+testPassword+`"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodPost, "/api/auth/login", "", `{"password":"`+testPassword+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUser_AccessRequirements(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@example.com")
	token := app.login(t, "alice@example.com")

	rec := app.do(t, http.MethodGet, "/api/user/public", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/user/authenticated", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, errutil.CodeTokenMissing, decodeError(t, rec).Code)

	rec = app.do(t, http.MethodGet, "/api/user/authenticated", "not-a-token", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, errutil.CodeTokenMalformed, decodeError(t, rec).Code)

	rec = app.do(t, http.MethodGet, "/api/user/authenticated", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var identity handlers.IdentityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &identity))
	assert.Equal(t, "alice@example.com", identity.Email)
	assert.Equal(t, []string{types.RoleUser}, identity.Roles)

	rec = app.do(t, http.MethodGet, "/api/user/admin", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/user/admin", token, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, errutil.CodeForbidden, decodeError(t, rec).Code)

	userID, err := uuid.Parse(identity.UserID)
	require.NoError(t, err)
	require.NoError(t, app.users.AssignRole(context.Background(), userID, types.RoleAdmin, time.Now()))

	// Roles are read at login.
	rec = app.do(t, http.MethodGet, "/api/user/admin", token, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodGet, "/api/user/admin", app.login(t, "alice@example.com"), "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func generate(t *testing.T, app *testApp, token, body string) handlers.GenerateResponse {
	t.Helper()
	rec := app.do(t, http.MethodPost, "/api/qr/generate", token, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp handlers.GenerateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestQr_OneTimeLifecycle(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@example.com")
	token := app.login(t, "alice@example.com")

	rec := app.do(t, http.MethodPost, "/api/qr/generate", "", `{"type":"one_time"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	code := generate(t, app, token, `{"type":"one_time"}`)
	assert.Equal(t, types.QrOneTime, code.Type)
	assert.True(t, code.IsActive)
	assert.WithinDuration(t, code.CreatedAt.Add(services.DefaultQrTTL), code.ExpiresAt, time.Second)
	png, err := qrimage.DecodeDataURI(code.QrCodeBase64)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(png, []byte("\x89PNG")))

	rec = app.do(t, http.MethodGet, "/api/qr/validate/"+code.ID.String(), "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var validated handlers.ValidateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &validated))
	assert.Equal(t, code.ID, validated.ID)
	assert.True(t, validated.IsActive)

	rec = app.do(t, http.MethodGet, "/api/qr/validate/"+code.ID.String(), "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errutil.CodeQrInvalidState, decodeError(t, rec).Code)
}

func TestQr_GenerateBodies(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@example.com")
	token := app.login(t, "alice@example.com")

	tests := []struct {
		body string
		want types.QrCodeType
	}{
		{`{"type":"permanent"}`, types.QrPermanent},
		{`{"type":1}`, types.QrTemporary},
		{`"one_time"`, types.QrOneTime},
		{`2`, types.QrOneTime},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, generate(t, app, token, tt.body).Type)
		})
	}

	for _, body := range []string{`{"type":"forever"}`, `{"type":7}`, `{}`, `true`} {
		rec := app.do(t, http.MethodPost, "/api/qr/generate", token, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, errutil.CodeValidation, decodeError(t, rec).Code, body)
	}
}

func TestQr_ValidateUnknown(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/api/qr/validate/"+uuid.NewString(), "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, errutil.CodeQrNotFound, decodeError(t, rec).Code)

	rec = app.do(t, http.MethodGet, "/api/qr/validate/not-a-uuid", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestQr_PermanentStaysValid(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@example.com")
	code := generate(t, app, app.login(t, "alice@example.com"), `{"type":"permanent"}`)

	for i := 0; i < 3; i++ {
		rec := app.do(t, http.MethodGet, "/api/qr/validate/"+code.ID.String(), "", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestQr_ImageOwnerOnly(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice", "alice@example.com")
	app.register(t, "bob", "bob@example.com")
	alice := app.login(t, "alice@example.com")
	bob := app.login(t, "bob@example.com")

	code := generate(t, app, alice, `{"type":"temporary"}`)
	path := "/api/qr/" + code.ID.String() + "/image"

	rec := app.do(t, http.MethodGet, path, alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, qrimage.ContentType, rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = app.do(t, http.MethodGet, path, bob, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = app.do(t, http.MethodGet, path, "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type fakeLimiter struct {
	decision handlers.Decision
	err      error
	keys     []string
}

func (f *fakeLimiter) Take(_ context.Context, key string, _ time.Time) (handlers.Decision, error) {
	f.keys = append(f.keys, key)
	return f.decision, f.err
}

func TestRateLimit(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name       string
		limiter    *fakeLimiter
		wantStatus int
		wantRetry  string
	}{
		{
			name:       "allowed",
			limiter:    &fakeLimiter{decision: handlers.Decision{Allowed: true, Remaining: 4}},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "limited",
			limiter:    &fakeLimiter{decision: handlers.Decision{RetryAfter: 1500 * time.Millisecond}},
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  "2",
		},
		{
			name:       "limiter down",
			limiter:    &fakeLimiter{err: errors.New("connection refused")},
			wantStatus: http.StatusNoContent,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := handlers.RateLimit(tt.limiter, 5, "auth", nil, nil)(ok)
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
			req.RemoteAddr = "203.0.113.7:4242"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantRetry, rec.Header().Get("Retry-After"))
			assert.Equal(t, []string{"auth:203.0.113.7"}, tt.limiter.keys)
		})
	}
}

type fakePinger struct{ err error }

func (f fakePinger) PingContext(context.Context) error { return f.err }

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	handlers.Healthz(fakePinger{}, nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handlers.Healthz(fakePinger{err: errors.New("down")}, nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	handlers.Healthz(nil, nil)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
