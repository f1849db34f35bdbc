package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qrpass/apiserver/internal/store"
	"github.com/qrpass/apiserver/types"
)

// QrCodeRepository keeps QR codes in memory.
type QrCodeRepository struct {
	mu    sync.RWMutex
	codes map[uuid.UUID]types.QrCode
}

func NewQrCodeRepository() *QrCodeRepository {
	return &QrCodeRepository{codes: make(map[uuid.UUID]types.QrCode)}
}

func (r *QrCodeRepository) Create(ctx context.Context, code types.QrCode) (types.QrCode, error) {
	if err := ctx.Err(); err != nil {
		return types.QrCode{}, err
	}
	if !code.ExpiresAt.After(code.CreatedAt) {
		return types.QrCode{}, store.ErrInvalid
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codes[code.ID]; ok {
		return types.QrCode{}, &store.ConflictError{Field: "id"}
	}
	r.codes[code.ID] = code
	return code, nil
}

func (r *QrCodeRepository) Get(ctx context.Context, id uuid.UUID) (types.QrCode, error) {
	if err := ctx.Err(); err != nil {
		return types.QrCode{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.codes[id]
	if !ok {
		return types.QrCode{}, store.ErrNotFound
	}
	return code, nil
}

func (r *QrCodeRepository) ConsumeIfActive(ctx context.Context, id uuid.UUID, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.codes[id]
	if !ok {
		return store.ErrNotFound
	}
	if !code.IsActive || !code.Entity.IsActive() {
		return store.ErrStale
	}
	r.codes[id] = code.Consumed(now)
	return nil
}
