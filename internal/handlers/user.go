package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qrpass/apiserver/internal/auth"
	"github.com/qrpass/apiserver/types"
)

// UserHandler exposes endpoints probing each access requirement.
type UserHandler struct {
	logger *slog.Logger
}

func NewUserHandler(logger *slog.Logger) *UserHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserHandler{logger: logger}
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, access *Access, logger *slog.Logger) {
	handler := NewUserHandler(logger)

	r.Get("/public", handler.Public)
	r.With(access.Require(auth.Authenticated())).Get("/authenticated", handler.Authenticated)
	r.With(access.Require(auth.RoleRequired(types.RoleAdmin))).Get("/admin", handler.Admin)
}

type IdentityResponse struct {
	Message string   `json:"message"`
	UserID  string   `json:"userId"`
	Email   string   `json:"email"`
	Roles   []string `json:"roles,omitempty"`
}

func (h *UserHandler) Public(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "This is a public endpoint."})
}

func (h *UserHandler) Authenticated(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authorization required")
		return
	}
	writeJSON(w, http.StatusOK, IdentityResponse{
		Message: "You are authenticated.",
		UserID:  claims.Subject,
		Email:   claims.Email,
		Roles:   claims.Roles,
	})
}

func (h *UserHandler) Admin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Welcome, admin."})
}
