package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/qrpass/apiserver/internal/errutil"
	"github.com/qrpass/apiserver/internal/metrics"
	"github.com/qrpass/apiserver/internal/qrimage"
	"github.com/qrpass/apiserver/internal/store"
	"github.com/qrpass/apiserver/types"
)

// DefaultQrTTL is the lifetime of a generated code.
const DefaultQrTTL = 60 * time.Minute

// CodeStore persists QR codes.
type CodeStore interface {
	Create(ctx context.Context, code types.QrCode) (types.QrCode, error)
	Get(ctx context.Context, id uuid.UUID) (types.QrCode, error)
	// ConsumeIfActive retires an active code at now. It returns
	// store.ErrStale when the code is no longer active.
	ConsumeIfActive(ctx context.Context, id uuid.UUID, now time.Time) error
}

// ImageRenderer renders content as a PNG barcode.
type ImageRenderer interface {
	PNG(content string) ([]byte, error)
}

// ImageArchive stores rendered barcode images.
type ImageArchive interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// QrConfig configures QrService.
type QrConfig struct {
	// TTL is the lifetime of new codes. Zero means DefaultQrTTL.
	TTL time.Duration

	// OneTimeSpentOnCreate stores one-time codes already retired, matching
	// the behaviour of earlier releases.
	OneTimeSpentOnCreate bool
}

// QrService creates and validates QR access codes.
type QrService struct {
	store    CodeStore
	renderer ImageRenderer
	archive  ImageArchive
	cfg      QrConfig
	metrics  *metrics.Metrics
	logger   *slog.Logger
	events   emitter
}

// QrOption configures a QrService.
type QrOption func(*QrService)

// WithQrLogger sets the logger.
func WithQrLogger(logger *slog.Logger) QrOption {
	return func(s *QrService) { s.logger = logger }
}

// WithQrMetrics sets the metrics sink.
func WithQrMetrics(m *metrics.Metrics) QrOption {
	return func(s *QrService) { s.metrics = m }
}

// WithQrEvents publishes qr.created and qr.consumed events to publisher.
func WithQrEvents(publisher EventPublisher) QrOption {
	return func(s *QrService) { s.events.publisher = publisher }
}

// WithQrArchive stores rendered images in archive.
func WithQrArchive(archive ImageArchive) QrOption {
	return func(s *QrService) { s.archive = archive }
}

func NewQrService(store CodeStore, renderer ImageRenderer, cfg QrConfig, opts ...QrOption) *QrService {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultQrTTL
	}
	s := &QrService{
		store:    store,
		renderer: renderer,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.events.logger = s.logger
	s.events.metrics = s.metrics
	return s
}

// ImageKey returns the archive key of a code's image.
func ImageKey(id uuid.UUID) string {
	return "qr/" + id.String() + ".png"
}

// Create persists a new code for userID and returns it with its barcode
// image as a PNG data URI. The barcode encodes the code id only.
func (s *QrService) Create(ctx context.Context, userID uuid.UUID, codeType types.QrCodeType, now time.Time) (types.QrCode, string, error) {
	var violations []string
	if userID == uuid.Nil {
		violations = append(violations, "user id is required")
	}
	if !codeType.Valid() {
		violations = append(violations, "type must be one of permanent, temporary, one_time")
	}
	if len(violations) > 0 {
		return types.QrCode{}, "", validationError(violations)
	}

	code := types.QrCode{
		Entity:    types.NewEntity(userID, now),
		UserID:    userID,
		Type:      codeType,
		IsActive:  true,
		ExpiresAt: now.Add(s.cfg.TTL),
	}
	if codeType == types.QrOneTime && s.cfg.OneTimeSpentOnCreate {
		code = code.Consumed(now)
	}

	png, err := s.renderer.PNG(code.ID.String())
	if err != nil {
		return types.QrCode{}, "", oops.With("qr_id", code.ID.String()).Wrapf(err, "render qr code")
	}

	created, err := s.store.Create(ctx, code)
	if err != nil {
		return types.QrCode{}, "", oops.With("qr_id", code.ID.String()).Wrapf(err, "create qr code")
	}

	if s.archive != nil {
		key := ImageKey(created.ID)
		if err := s.archive.Put(ctx, key, bytes.NewReader(png), int64(len(png)), qrimage.ContentType); err != nil {
			errutil.LogError(ctx, s.logger, "archive qr image", oops.With("key", key).Wrap(err))
		}
	}

	s.metrics.ObserveQrCreated(created.Type.String())
	s.logger.InfoContext(ctx, "qr code created",
		"qr_id", created.ID.String(),
		"user_id", userID.String(),
		"type", created.Type.String(),
	)
	s.events.emit(ctx, EventQrCreated, created.ID.String(), now, map[string]string{
		"user_id": userID.String(),
		"type":    created.Type.String(),
	})
	return created, qrimage.DataURI(png), nil
}

// Validate checks a code at now. Expiry is checked before state. A valid
// one-time code is consumed atomically; the returned view is the one that
// was validated, before consumption.
func (s *QrService) Validate(ctx context.Context, id uuid.UUID, now time.Time) (types.QrCode, error) {
	code, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.metrics.ObserveQrValidation("unknown", errutil.CodeQrNotFound)
			return types.QrCode{}, oops.
				Code(errutil.CodeQrNotFound).
				With("qr_id", id.String()).
				Errorf("qr code not found")
		}
		return types.QrCode{}, oops.With("qr_id", id.String()).Wrapf(err, "get qr code")
	}

	if code.IsExpired(now) {
		s.metrics.ObserveQrValidation(code.Type.String(), errutil.CodeQrExpired)
		return types.QrCode{}, oops.
			Code(errutil.CodeQrExpired).
			With("qr_id", id.String(), "expires_at", code.ExpiresAt).
			Errorf("qr code expired")
	}

	if code.Type == types.QrOneTime {
		if !code.IsActive || !code.Entity.IsActive() {
			s.metrics.ObserveQrValidation(code.Type.String(), errutil.CodeQrInvalidState)
			return types.QrCode{}, invalidState(id)
		}
		if err := s.store.ConsumeIfActive(ctx, id, now); err != nil {
			if errors.Is(err, store.ErrStale) {
				s.metrics.ObserveQrValidation(code.Type.String(), errutil.CodeQrInvalidState)
				return types.QrCode{}, invalidState(id)
			}
			return types.QrCode{}, oops.With("qr_id", id.String()).Wrapf(err, "consume qr code")
		}
		s.logger.InfoContext(ctx, "one-time qr code consumed", "qr_id", id.String())
		s.events.emit(ctx, EventQrConsumed, id.String(), now, map[string]string{
			"user_id": code.UserID.String(),
		})
	}

	s.metrics.ObserveQrValidation(code.Type.String(), "valid")
	return code, nil
}

// Image returns the PNG barcode of a code owned by requester.
func (s *QrService) Image(ctx context.Context, id, requester uuid.UUID) ([]byte, error) {
	code, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, oops.Code(errutil.CodeQrNotFound).With("qr_id", id.String()).Errorf("qr code not found")
		}
		return nil, oops.With("qr_id", id.String()).Wrapf(err, "get qr code")
	}
	if code.UserID != requester {
		return nil, oops.
			Code(errutil.CodeForbidden).
			With("qr_id", id.String()).
			Errorf("qr code belongs to another user")
	}

	if s.archive != nil {
		png, err := s.archived(ctx, id)
		if err == nil {
			return png, nil
		}
		s.logger.DebugContext(ctx, "archived qr image unavailable", "qr_id", id.String(), "error", err)
	}

	png, err := s.renderer.PNG(id.String())
	if err != nil {
		return nil, oops.With("qr_id", id.String()).Wrapf(err, "render qr code")
	}
	return png, nil
}

func (s *QrService) archived(ctx context.Context, id uuid.UUID) ([]byte, error) {
	rc, err := s.archive.Get(ctx, ImageKey(id))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	png, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	if len(png) == 0 {
		return nil, errors.New("empty object")
	}
	return png, nil
}

func invalidState(id uuid.UUID) error {
	return oops.
		Code(errutil.CodeQrInvalidState).
		With("qr_id", id.String()).
		Errorf("one-time qr code already used")
}
