package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/quizlive/go/internal/models"
)

var ErrEventNotFound = errors.New("outbox event not found or already sent")

// OutboxEvent is one row-level change waiting to be relayed to the changefeed
type OutboxEvent struct {
	ID        uuid.UUID         `json:"id"`
	SessionID uuid.UUID         `json:"session_id"`
	Table     string            `json:"table"`
	EventType models.ChangeType `json:"event_type"`
	Old       json.RawMessage   `json:"old,omitempty"`
	New       json.RawMessage   `json:"new,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	SentAt    *time.Time        `json:"sent_at,omitempty"`
}

// Change converts the outbox row into the change record consumers see.
func (e OutboxEvent) Change() models.ChangeEvent {
	return models.ChangeEvent{
		EventType:       e.EventType,
		Table:           e.Table,
		SessionID:       e.SessionID,
		Old:             e.Old,
		New:             e.New,
		CommitTimestamp: e.CreatedAt,
	}
}

// Envelope is the JSON message body published on the changefeed.
type Envelope struct {
	EventID string `json:"eventId"`
	models.ChangeEvent
}

// Publisher relays outbox events to a downstream transport.
type Publisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}
