package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/qrpass/apiserver/internal/auth"
	"github.com/qrpass/apiserver/internal/errutil"
	"github.com/qrpass/apiserver/internal/qrimage"
	"github.com/qrpass/apiserver/internal/services"
	"github.com/qrpass/apiserver/types"
)

// QrHandler provides QR code endpoints.
type QrHandler struct {
	qrService *services.QrService
	logger    *slog.Logger
	now       func() time.Time
}

// NewQrHandler constructs a QrHandler with the provided dependencies.
func NewQrHandler(qrService *services.QrService, logger *slog.Logger) *QrHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QrHandler{
		qrService: qrService,
		logger:    logger,
		now:       time.Now,
	}
}

// QrRouter registers QR routes on the given router.
func QrRouter(r chi.Router, qrService *services.QrService, access *Access, logger *slog.Logger) {
	handler := NewQrHandler(qrService, logger)

	r.With(access.Require(auth.Authenticated())).Post("/generate", handler.Generate)
	r.Get("/validate/{qrID}", handler.Validate)
	r.With(access.Require(auth.Authenticated())).Get("/{qrID}/image", handler.Image)
}

// GenerateRequest selects the type of code to create. The body may also be
// the bare type value.
type GenerateRequest struct {
	Type types.QrCodeType `json:"type"`
}

type GenerateResponse struct {
	ID           uuid.UUID        `json:"id"`
	Type         types.QrCodeType `json:"type"`
	IsActive     bool             `json:"isActive"`
	CreatedAt    time.Time        `json:"createdAt"`
	ExpiresAt    time.Time        `json:"expiresAt"`
	QrCodeBase64 string           `json:"qrCodeBase64"`
}

type ValidateResponse struct {
	ID        uuid.UUID        `json:"id"`
	Type      types.QrCodeType `json:"type"`
	IsActive  bool             `json:"isActive"`
	ExpiresAt time.Time        `json:"expiresAt"`
}

// Generate creates a code owned by the caller.
func (h *QrHandler) Generate(w http.ResponseWriter, r *http.Request) {
	userID, err := subjectFromContext(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	var raw json.RawMessage
	if err := decodeJSON(w, r, &raw); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	codeType, err := parseGenerateBody(raw)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	code, dataURI, err := h.qrService.Create(r.Context(), userID, codeType, h.now())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, GenerateResponse{
		ID:           code.ID,
		Type:         code.Type,
		IsActive:     code.IsActive,
		CreatedAt:    code.CreatedAt,
		ExpiresAt:    code.ExpiresAt,
		QrCodeBase64: dataURI,
	})
}

// Validate checks a code and consumes it if it is one-time.
func (h *QrHandler) Validate(w http.ResponseWriter, r *http.Request) {
	id, err := parseQrID(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	code, err := h.qrService.Validate(r.Context(), id, h.now())
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, ValidateResponse{
		ID:        code.ID,
		Type:      code.Type,
		IsActive:  code.IsActive,
		ExpiresAt: code.ExpiresAt,
	})
}

// Image serves the PNG barcode of a code owned by the caller.
func (h *QrHandler) Image(w http.ResponseWriter, r *http.Request) {
	userID, err := subjectFromContext(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	id, err := parseQrID(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	png, err := h.qrService.Image(r.Context(), id, userID)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", qrimage.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func parseGenerateBody(raw json.RawMessage) (types.QrCodeType, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var req struct {
			Type *types.QrCodeType `json:"type"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			return 0, invalidType(err)
		}
		if req.Type == nil {
			return 0, oops.
				Code(errutil.CodeValidation).
				With(errutil.KeyViolations, []string{"type is required"}).
				Errorf("type is required")
		}
		return *req.Type, nil
	}

	var codeType types.QrCodeType
	if err := json.Unmarshal(raw, &codeType); err != nil {
		return 0, invalidType(err)
	}
	return codeType, nil
}

func invalidType(err error) error {
	return oops.
		Code(errutil.CodeValidation).
		With(errutil.KeyViolations, []string{"type must be one of permanent, temporary, one_time"}).
		Errorf("invalid qr code type: %v", err)
}

func parseQrID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "qrID")
	id, err := uuid.Parse(raw)
	if err != nil {
		// An id that cannot exist is reported like an unknown one.
		return uuid.Nil, oops.Code(errutil.CodeQrNotFound).With("qr_id", raw).Errorf("qr code not found")
	}
	return id, nil
}

// subjectFromContext returns the authenticated user id of the request.
func subjectFromContext(r *http.Request) (uuid.UUID, error) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		return uuid.Nil, oops.Code(errutil.CodeTokenMissing).Errorf("authorization required")
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return uuid.Nil, oops.Code(errutil.CodeTokenMalformed).Errorf("token subject is not a user id")
	}
	return id, nil
}
