package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/models"
)

// OutboxRepository defines what the app layer needs from the repository
type OutboxRepository interface {
	InsertChange(ctx context.Context, change models.ChangeEvent) (uuid.UUID, error)
	FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID) error
	FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error)
	CountPending(ctx context.Context) (int64, error)
	PurgeSent(ctx context.Context, before time.Time) (int64, error)
}

// App handles outbox business logic
type App struct {
	repo OutboxRepository
}

// NewApp creates a new outbox App
func NewApp(repo OutboxRepository) *App {
	return &App{
		repo: repo,
	}
}

// RecordChange validates and inserts a row-level change into the outbox
func (a *App) RecordChange(ctx context.Context, change models.ChangeEvent) error {
	if err := validateChange(change); err != nil {
		return fmt.Errorf("invalid %s change: %w", change.EventType, err)
	}

	id, err := a.repo.InsertChange(ctx, change)
	if err != nil {
		return fmt.Errorf("failed to record change: %w", err)
	}

	log.Debug().
		Str("event_id", id.String()).
		Str("session_id", change.SessionID.String()).
		Str("table", change.Table).
		Str("event_type", string(change.EventType)).
		Msg("outbox event inserted")

	return nil
}

// FetchUnsentEvents fetches unsent outbox events
func (a *App) FetchUnsentEvents(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than 0")
	}

	events, err := a.repo.FetchUnsentOutbox(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent events: %w", err)
	}

	if len(events) > 0 {
		log.Debug().
			Int("count", len(events)).
			Msg("fetched unsent outbox events")
	}

	return events, nil
}

// MarkEventSent marks an outbox event as sent
func (a *App) MarkEventSent(ctx context.Context, eventID uuid.UUID) error {
	if err := a.repo.MarkOutboxSent(ctx, eventID); err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}

	log.Debug().
		Str("event_id", eventID.String()).
		Msg("marked outbox event as sent")

	return nil
}

// GetEventByID fetches a specific unsent outbox event by ID
func (a *App) GetEventByID(ctx context.Context, eventID uuid.UUID) (*OutboxEvent, error) {
	event, err := a.repo.FetchOutboxByID(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch event by ID: %w", err)
	}

	return event, nil
}

// PendingCount reports how many events have not been relayed yet
func (a *App) PendingCount(ctx context.Context) (int64, error) {
	return a.repo.CountPending(ctx)
}

// PurgeSentBefore deletes relayed events older than the cutoff
func (a *App) PurgeSentBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	n, err := a.repo.PurgeSent(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Info().
			Int64("purged", n).
			Time("cutoff", cutoff).
			Msg("purged sent outbox events")
	}
	return n, nil
}

// ProcessUnsentEvents processes one batch of unsent events
func (a *App) ProcessUnsentEvents(ctx context.Context, batchSize int32, processor func(event OutboxEvent) error) error {
	events, err := a.FetchUnsentEvents(ctx, batchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unsent events: %w", err)
	}

	processedCount := 0
	errorCount := 0

	for _, event := range events {
		if err := processor(event); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID.String()).
				Str("event_type", string(event.EventType)).
				Msg("failed to process event")
			errorCount++
			continue
		}

		if err := a.MarkEventSent(ctx, event.ID); err != nil {
			log.Error().
				Err(err).
				Str("event_id", event.ID.String()).
				Msg("failed to mark event as sent after processing")
			errorCount++
			continue
		}

		processedCount++
	}

	if processedCount > 0 || errorCount > 0 {
		log.Info().
			Int("processed", processedCount).
			Int("errors", errorCount).
			Int("total", len(events)).
			Msg("processed unsent events batch")
	}

	return nil
}

func validateChange(change models.ChangeEvent) error {
	if change.SessionID == uuid.Nil {
		return fmt.Errorf("session id is required")
	}
	switch change.Table {
	case models.TableGameSessions, models.TableSessionParticipants:
	default:
		return fmt.Errorf("unknown table %q", change.Table)
	}
	switch change.EventType {
	case models.ChangeInsert, models.ChangeUpdate:
		if len(change.New) == 0 {
			return fmt.Errorf("new row snapshot cannot be empty")
		}
	case models.ChangeDelete:
		if len(change.Old) == 0 {
			return fmt.Errorf("old row snapshot cannot be empty")
		}
	default:
		return fmt.Errorf("unknown event type %q", change.EventType)
	}
	return nil
}
