package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/samber/oops"

	"github.com/qrpass/apiserver/internal/auth"
	"github.com/qrpass/apiserver/internal/errutil"
)

const maxBodyBytes = 1 << 20

type contextKey string

const contextClaimsKey contextKey = "claims"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error  string   `json:"error"`
	Code   string   `json:"code,omitempty"`
	Errors []string `json:"errors,omitempty"`
	Field  string   `json:"field,omitempty"`
}

// MessageResponse is a plain confirmation body.
type MessageResponse struct {
	Message string `json:"message"`
}

func withClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, contextClaimsKey, claims)
}

// claimsFromContext returns the validated claims of the request, if any.
func claimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(contextClaimsKey).(*auth.Claims)
	return claims, ok && claims != nil
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

// writeDomainError maps err onto its HTTP status. Internal errors are logged
// and reported without detail.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	kind := errutil.KindOf(err)
	if kind == errutil.KindInternal {
		errutil.LogError(r.Context(), logger, "request failed", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := ErrorResponse{
		Error:  err.Error(),
		Code:   errutil.Code(err),
		Errors: errutil.Violations(err),
		Field:  errutil.Field(err),
	}
	writeJSON(w, kind.HTTPStatus(), resp)
}

// decodeJSON decodes a size-limited request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return oops.
				Code(errutil.CodeValidation).
				With(errutil.KeyViolations, []string{"request body is required"}).
				Errorf("request body is required")
		}
		return oops.
			Code(errutil.CodeValidation).
			With(errutil.KeyViolations, []string{"request body is not valid JSON"}).
			Errorf("invalid request: %v", err)
	}
	return nil
}
