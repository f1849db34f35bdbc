package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/qrpass/apiserver/internal/services"
)

const registrationMessage = "Registration successful"

// AuthHandler provides login and registration endpoints.
type AuthHandler struct {
	authService *services.AuthService
	logger      *slog.Logger
	now         func() time.Time
}

// NewAuthHandler constructs an AuthHandler with the provided dependencies.
func NewAuthHandler(authService *services.AuthService, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		authService: authService,
		logger:      logger,
		now:         time.Now,
	}
}

// AuthRouter registers auth routes on the given router. limit may be nil.
func AuthRouter(r chi.Router, authService *services.AuthService, logger *slog.Logger, limit func(http.Handler) http.Handler) {
	handler := NewAuthHandler(authService, logger)

	if limit != nil {
		r = r.With(limit)
	}
	r.Post("/login", handler.Login)
	r.Post("/register", handler.Register)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login authenticates by email or username and returns a bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	token, err := h.authService.Login(r.Context(), req.Email, req.Username, req.Password, h.now())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{Token: token})
}

// Register creates a new account with the default role.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	if _, err := h.authService.Register(r.Context(), req.Username, req.Email, req.Password, h.now()); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: registrationMessage})
}
