package services_test

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qrpass/apiserver/internal/services"
)

func TestNewEvent(t *testing.T) {
	tests := []struct {
		name    string
		now     time.Time
		wantErr bool
	}{
		{name: "ordinary time", now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
		{name: "unix epoch", now: time.Unix(0, 0)},
		{name: "zero time", now: time.Time{}, wantErr: true},
		{name: "beyond ulid range", now: time.Date(10900, 1, 1, 0, 0, 0, 0, time.UTC), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var evt services.Event
			var err error
			require.NotPanics(t, func() {
				evt, err = services.NewEvent(services.EventQrCreated, "qr-1", tt.now, nil)
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)

			id, err := ulid.ParseStrict(evt.ID)
			require.NoError(t, err)
			assert.Equal(t, ulid.Timestamp(tt.now), id.Time())
			assert.Equal(t, services.EventQrCreated, evt.Type)
			assert.True(t, evt.OccurredAt.Equal(tt.now))
		})
	}
}
