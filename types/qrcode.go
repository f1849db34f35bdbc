package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// QrCodeType determines how a QR access code may be used.
// Numeric values match the stored representation.
type QrCodeType int

const (
	// QrPermanent codes stay usable until they expire.
	QrPermanent QrCodeType = 0
	// QrTemporary codes stay usable until they expire.
	QrTemporary QrCodeType = 1
	// QrOneTime codes are usable for exactly one successful validation.
	QrOneTime QrCodeType = 2
)

var qrCodeTypeNames = map[QrCodeType]string{
	QrPermanent: "permanent",
	QrTemporary: "temporary",
	QrOneTime:   "one_time",
}

// ParseQrCodeType parses the wire name of a code type.
func ParseQrCodeType(s string) (QrCodeType, error) {
	for t, name := range qrCodeTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown qr code type %q", s)
}

// Valid reports whether t is one of the defined types.
func (t QrCodeType) Valid() bool {
	_, ok := qrCodeTypeNames[t]
	return ok
}

func (t QrCodeType) String() string {
	if name, ok := qrCodeTypeNames[t]; ok {
		return name
	}
	return "QrCodeType(" + strconv.Itoa(int(t)) + ")"
}

// MarshalJSON encodes the type by name.
func (t QrCodeType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid qr code type %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts either the wire name ("one_time") or the numeric value (2).
func (t *QrCodeType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		parsed, err := ParseQrCodeType(name)
		if err != nil {
			return err
		}
		*t = parsed
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("qr code type must be a name or number: %w", err)
	}
	if !QrCodeType(n).Valid() {
		return fmt.Errorf("unknown qr code type %d", n)
	}
	*t = QrCodeType(n)
	return nil
}

// QrCode is a short-lived access code owned by a user.
//
// A code is created Active and is retired at most once, when a one-time
// code is consumed. ExpiresAt is always after CreatedAt; expiry is derived
// from the clock and never stored as a status. RevokedAt is set only for
// retired codes.
type QrCode struct {
	Entity

	// UserID is the owner of the code.
	UserID uuid.UUID `json:"user_id" db:"user_id"`

	// Type controls reuse semantics.
	Type QrCodeType `json:"type" db:"type"`

	// IsActive is false once a one-time code has been consumed.
	IsActive bool `json:"is_active" db:"is_active"`

	// ExpiresAt is the instant after which the code is no longer accepted.
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`

	// RevokedAt records when the code was consumed or revoked.
	RevokedAt *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

// IsExpired reports whether the code is past its expiry at now.
func (q QrCode) IsExpired(now time.Time) bool {
	return now.After(q.ExpiresAt)
}

// Consumed returns the retired copy of a one-time code at now.
func (q QrCode) Consumed(now time.Time) QrCode {
	revoked := now
	q.IsActive = false
	q.Status = StatusPassive
	q.RevokedAt = &revoked
	q.UpdatedAt = now
	return q
}
