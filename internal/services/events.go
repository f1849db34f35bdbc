package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/qrpass/apiserver/internal/errutil"
	"github.com/qrpass/apiserver/internal/metrics"
)

// Event channels.
const (
	EventUserRegistered = "user.registered"
	EventQrCreated      = "qr.created"
	EventQrConsumed     = "qr.consumed"
)

// EventChannels lists every channel the services publish on.
var EventChannels = []string{EventUserRegistered, EventQrCreated, EventQrConsumed}

// EventPublisher delivers domain events to a broker.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Event is the payload published for every domain event.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Subject    string            `json:"subject"`
	Data       map[string]string `json:"data,omitempty"`
}

// NewEvent builds an event with a time-ordered id. It fails when now lies
// outside the range a ULID timestamp can hold.
func NewEvent(eventType, subject string, now time.Time, data map[string]string) (Event, error) {
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return Event{}, oops.Wrapf(err, "generate event id at %s", now.Format(time.RFC3339))
	}
	return Event{
		ID:         id.String(),
		Type:       eventType,
		OccurredAt: now.UTC(),
		Subject:    subject,
		Data:       data,
	}, nil
}

// emitter publishes events on a best-effort basis. Failures are logged and
// counted, never returned.
type emitter struct {
	publisher EventPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func (e emitter) emit(ctx context.Context, eventType, subject string, now time.Time, data map[string]string) {
	if e.publisher == nil {
		return
	}
	evt, err := NewEvent(eventType, subject, now, data)
	if err != nil {
		e.metrics.ObserveEventFailure(eventType)
		errutil.LogError(ctx, e.logger, "build event", err)
		return
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		errutil.LogError(ctx, e.logger, "encode event", err)
		return
	}
	attrs := map[string]string{
		"event_id":   evt.ID,
		"event_type": evt.Type,
	}
	if _, err := e.publisher.Publish(ctx, evt.Type, payload, attrs); err != nil {
		e.metrics.ObserveEventFailure(evt.Type)
		errutil.LogError(ctx, e.logger, "publish event", err)
	}
}
