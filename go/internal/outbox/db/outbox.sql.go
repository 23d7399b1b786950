package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const outboxColumns = `id, session_id, table_name, event_type, old_row, new_row, created_at, sent_at`

func scanOutbox(row interface{ Scan(...interface{}) error }) (SessionOutbox, error) {
	var i SessionOutbox
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.TableName,
		&i.EventType,
		&i.OldRow,
		&i.NewRow,
		&i.CreatedAt,
		&i.SentAt,
	)
	return i, err
}

const insertOutboxEvent = `-- name: InsertOutboxEvent :exec
INSERT INTO session_outbox (id, session_id, table_name, event_type, old_row, new_row)
VALUES ($1, $2, $3, $4, $5, $6)`

type InsertOutboxEventParams struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	TableName string
	EventType string
	OldRow    pqtype.NullRawMessage
	NewRow    pqtype.NullRawMessage
}

func (q *Queries) InsertOutboxEvent(ctx context.Context, arg InsertOutboxEventParams) error {
	_, err := q.db.ExecContext(ctx, insertOutboxEvent,
		arg.ID,
		arg.SessionID,
		arg.TableName,
		arg.EventType,
		arg.OldRow,
		arg.NewRow,
	)
	return err
}

const fetchUnsentOutbox = `-- name: FetchUnsentOutbox :many
SELECT ` + outboxColumns + ` FROM session_outbox
WHERE sent_at IS NULL
ORDER BY created_at
LIMIT $1
FOR UPDATE SKIP LOCKED`

func (q *Queries) FetchUnsentOutbox(ctx context.Context, limit int32) ([]SessionOutbox, error) {
	rows, err := q.db.QueryContext(ctx, fetchUnsentOutbox, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SessionOutbox
	for rows.Next() {
		i, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const fetchOutboxByID = `-- name: FetchOutboxByID :one
SELECT ` + outboxColumns + ` FROM session_outbox
WHERE id = $1 AND sent_at IS NULL`

func (q *Queries) FetchOutboxByID(ctx context.Context, id uuid.UUID) (SessionOutbox, error) {
	row := q.db.QueryRowContext(ctx, fetchOutboxByID, id)
	return scanOutbox(row)
}

const markOutboxSent = `-- name: MarkOutboxSent :exec
UPDATE session_outbox
SET sent_at = NOW()
WHERE id = $1 AND sent_at IS NULL`

func (q *Queries) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, markOutboxSent, id)
	return err
}

const countPendingOutbox = `-- name: CountPendingOutbox :one
SELECT COUNT(*) FROM session_outbox
WHERE sent_at IS NULL`

func (q *Queries) CountPendingOutbox(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countPendingOutbox)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const purgeSentOutbox = `-- name: PurgeSentOutbox :execrows
DELETE FROM session_outbox
WHERE sent_at IS NOT NULL AND sent_at < $1`

func (q *Queries) PurgeSentOutbox(ctx context.Context, before time.Time) (int64, error) {
	result, err := q.db.ExecContext(ctx, purgeSentOutbox, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
