package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/quizlive/go/internal/models"
	"github.com/mcdev12/quizlive/go/internal/outbox/db"
	"github.com/mcdev12/quizlive/go/internal/sqlutil"
)

// Querier defines what the repository needs from the database layer
type Querier interface {
	InsertOutboxEvent(ctx context.Context, arg db.InsertOutboxEventParams) error
	FetchUnsentOutbox(ctx context.Context, limit int32) ([]db.SessionOutbox, error)
	FetchOutboxByID(ctx context.Context, id uuid.UUID) (db.SessionOutbox, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID) error
	CountPendingOutbox(ctx context.Context) (int64, error)
	PurgeSentOutbox(ctx context.Context, before time.Time) (int64, error)
}

type Repository struct {
	queries Querier
}

func NewRepository(queries Querier) *Repository {
	return &Repository{
		queries: queries,
	}
}

// InsertChange records a row-level change. Callers pass a repository bound to the
// transaction that performed the change.
func (r *Repository) InsertChange(ctx context.Context, change models.ChangeEvent) (uuid.UUID, error) {
	id := uuid.New()
	err := r.queries.InsertOutboxEvent(ctx, db.InsertOutboxEventParams{
		ID:        id,
		SessionID: change.SessionID,
		TableName: change.Table,
		EventType: string(change.EventType),
		OldRow:    sqlutil.ToNullRawMessage(change.Old),
		NewRow:    sqlutil.ToNullRawMessage(change.New),
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert %s outbox event: %w", change.EventType, err)
	}
	return id, nil
}

func (r *Repository) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := r.queries.FetchUnsentOutbox(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}

	events := make([]OutboxEvent, len(rows))
	for i, row := range rows {
		events[i] = rowToEvent(row)
	}
	return events, nil
}

func (r *Repository) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	if err := r.queries.MarkOutboxSent(ctx, id); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

func (r *Repository) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	row, err := r.queries.FetchOutboxByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}

	event := rowToEvent(row)
	return &event, nil
}

func (r *Repository) CountPending(ctx context.Context) (int64, error) {
	count, err := r.queries.CountPendingOutbox(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending outbox events: %w", err)
	}
	return count, nil
}

func (r *Repository) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	n, err := r.queries.PurgeSentOutbox(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge sent outbox events: %w", err)
	}
	return n, nil
}

func rowToEvent(row db.SessionOutbox) OutboxEvent {
	return OutboxEvent{
		ID:        row.ID,
		SessionID: row.SessionID,
		Table:     row.TableName,
		EventType: models.ChangeType(row.EventType),
		Old:       sqlutil.FromNullRawMessage(row.OldRow),
		New:       sqlutil.FromNullRawMessage(row.NewRow),
		CreatedAt: row.CreatedAt,
		SentAt:    sqlutil.FromSqlTime(row.SentAt),
	}
}
