package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/qrpass/apiserver/internal/auth"
)

// Authorizer decides whether a bearer token satisfies a requirement.
type Authorizer interface {
	Authorize(req auth.Requirement, token string, now time.Time) (*auth.Claims, error)
}

// Access builds middleware enforcing access requirements.
type Access struct {
	authorizer Authorizer
	logger     *slog.Logger
	now        func() time.Time
}

func NewAccess(authorizer Authorizer, logger *slog.Logger) *Access {
	if logger == nil {
		logger = slog.Default()
	}
	return &Access{authorizer: authorizer, logger: logger, now: time.Now}
}

// Require rejects requests that do not satisfy req and stores the validated
// claims in the request context.
func (a *Access) Require(req auth.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := auth.ParseBearer(r.Header.Get("Authorization"))
			if err != nil && req != auth.Public() {
				writeDomainError(w, r, a.logger, err)
				return
			}

			claims, err := a.authorizer.Authorize(req, token, a.now())
			if err != nil {
				a.logger.DebugContext(r.Context(), "access denied",
					"requirement", req.String(),
					"path", r.URL.Path,
					"error", err,
				)
				writeDomainError(w, r, a.logger, err)
				return
			}
			if claims != nil {
				r = r.WithContext(withClaims(r.Context(), claims))
			}
			next.ServeHTTP(w, r)
		})
	}
}
