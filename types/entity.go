package types

import (
	"time"

	"github.com/google/uuid"
)

// EntityStatus is the soft-delete flag shared by every persisted record.
// Records are retired by flipping the status, never removed.
type EntityStatus int

const (
	// StatusPassive marks a retired record.
	StatusPassive EntityStatus = 0
	// StatusActive marks a live record.
	StatusActive EntityStatus = 1
)

func (s EntityStatus) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusPassive:
		return "passive"
	default:
		return "unknown"
	}
}

// Entity carries the audit fields common to all persisted records.
// It is embedded by value in each record type.
type Entity struct {
	// ID is the unique identifier of the record.
	ID uuid.UUID `json:"id" db:"id"`

	// Status is the record's soft-delete state.
	Status EntityStatus `json:"status" db:"status"`

	// CreatedBy is the user that created the record. Zero for self-registration.
	CreatedBy uuid.UUID `json:"created_by" db:"created_by"`

	// UpdatedBy is the user that last modified the record.
	UpdatedBy uuid.UUID `json:"updated_by" db:"updated_by"`

	// CreatedAt is the timestamp at which the record was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the record.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// NewEntity returns audit fields for a record created by actor at now.
func NewEntity(actor uuid.UUID, now time.Time) Entity {
	return Entity{
		ID:        uuid.New(),
		Status:    StatusActive,
		CreatedBy: actor,
		UpdatedBy: actor,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsActive reports whether the record has not been retired.
func (e Entity) IsActive() bool {
	return e.Status == StatusActive
}
