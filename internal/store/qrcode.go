package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/qrpass/apiserver/types"
)

const qrCodeColumns = `id, user_id, type, is_active, status, created_by, updated_by, created_at, updated_at, expires_at, revoked_at`

// QrCodeRepository handles persistence for QR codes.
type QrCodeRepository struct {
	db *sql.DB
}

func NewQrCodeRepository(db *sql.DB) *QrCodeRepository {
	return &QrCodeRepository{db: db}
}

func (r *QrCodeRepository) Create(ctx context.Context, code types.QrCode) (types.QrCode, error) {
	const query = `
		INSERT INTO qr_codes (` + qrCodeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	var revokedAt sql.NullTime
	if code.RevokedAt != nil {
		revokedAt = sql.NullTime{Time: *code.RevokedAt, Valid: true}
	}
	if _, err := r.db.ExecContext(
		ctx,
		query,
		code.ID,
		code.UserID,
		code.Type,
		code.IsActive,
		code.Status,
		code.CreatedBy,
		code.UpdatedBy,
		code.CreatedAt,
		code.UpdatedAt,
		code.ExpiresAt,
		revokedAt,
	); err != nil {
		if cerr := constraintError(err); cerr != nil {
			return types.QrCode{}, cerr
		}
		return types.QrCode{}, oops.In("qr_store").With("qr_id", code.ID.String()).Wrapf(err, "insert qr code")
	}
	return code, nil
}

func (r *QrCodeRepository) Get(ctx context.Context, id uuid.UUID) (types.QrCode, error) {
	const query = `
		SELECT ` + qrCodeColumns + `
		FROM qr_codes
		WHERE id = $1`
	var (
		code      types.QrCode
		revokedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&code.ID,
		&code.UserID,
		&code.Type,
		&code.IsActive,
		&code.Status,
		&code.CreatedBy,
		&code.UpdatedBy,
		&code.CreatedAt,
		&code.UpdatedAt,
		&code.ExpiresAt,
		&revokedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.QrCode{}, ErrNotFound
		}
		return types.QrCode{}, oops.In("qr_store").With("qr_id", id.String()).Wrapf(err, "get qr code")
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		code.RevokedAt = &t
	}
	return code, nil
}

// ConsumeIfActive retires the code only if it is still active, so that at
// most one concurrent caller succeeds.
func (r *QrCodeRepository) ConsumeIfActive(ctx context.Context, id uuid.UUID, now time.Time) error {
	const query = `
		UPDATE qr_codes
		SET is_active = FALSE,
			status = 0,
			revoked_at = $2,
			updated_at = $2
		WHERE id = $1 AND is_active AND status = 1`
	result, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return oops.In("qr_store").With("qr_id", id.String()).Wrapf(err, "consume qr code")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return oops.In("qr_store").With("qr_id", id.String()).Wrapf(err, "consume qr code")
	}
	if affected == 1 {
		return nil
	}

	var exists bool
	const existsQuery = `SELECT EXISTS (SELECT 1 FROM qr_codes WHERE id = $1)`
	if err := r.db.QueryRowContext(ctx, existsQuery, id).Scan(&exists); err != nil {
		return oops.In("qr_store").With("qr_id", id.String()).Wrapf(err, "check qr code")
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStale
}
