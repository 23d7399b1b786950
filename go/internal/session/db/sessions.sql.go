package db

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

const sessionColumns = `id, quiz_id, host_id, game_pin, status, countdown_started_at, countdown_seconds, created_at, updated_at`

func scanSession(row interface{ Scan(...interface{}) error }) (GameSession, error) {
	var i GameSession
	err := row.Scan(
		&i.ID,
		&i.QuizID,
		&i.HostID,
		&i.GamePin,
		&i.Status,
		&i.CountdownStartedAt,
		&i.CountdownSeconds,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createSession = `-- name: CreateSession :one
INSERT INTO game_sessions (id, quiz_id, host_id, game_pin, status, countdown_seconds)
VALUES ($1, $2, $3, $4, 'waiting', $5)
RETURNING ` + sessionColumns

type CreateSessionParams struct {
	ID               uuid.UUID
	QuizID           uuid.UUID
	HostID           uuid.UUID
	GamePin          string
	CountdownSeconds int32
}

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (GameSession, error) {
	row := q.db.QueryRowContext(ctx, createSession,
		arg.ID,
		arg.QuizID,
		arg.HostID,
		arg.GamePin,
		arg.CountdownSeconds,
	)
	return scanSession(row)
}

const getSession = `-- name: GetSession :one
SELECT ` + sessionColumns + ` FROM game_sessions
WHERE id = $1`

func (q *Queries) GetSession(ctx context.Context, id uuid.UUID) (GameSession, error) {
	row := q.db.QueryRowContext(ctx, getSession, id)
	return scanSession(row)
}

const getSessionForUpdate = `-- name: GetSessionForUpdate :one
SELECT ` + sessionColumns + ` FROM game_sessions
WHERE id = $1
FOR UPDATE`

func (q *Queries) GetSessionForUpdate(ctx context.Context, id uuid.UUID) (GameSession, error) {
	row := q.db.QueryRowContext(ctx, getSessionForUpdate, id)
	return scanSession(row)
}

// A joinable session wins over finished sessions that reused the PIN.
const getSessionByPin = `-- name: GetSessionByPin :one
SELECT ` + sessionColumns + ` FROM game_sessions
WHERE game_pin = $1
ORDER BY (status <> 'finished') DESC, created_at DESC
LIMIT 1`

func (q *Queries) GetSessionByPin(ctx context.Context, gamePin string) (GameSession, error) {
	row := q.db.QueryRowContext(ctx, getSessionByPin, gamePin)
	return scanSession(row)
}

const updateSessionStatus = `-- name: UpdateSessionStatus :one
UPDATE game_sessions
SET status = $3,
    countdown_started_at = COALESCE($4, countdown_started_at),
    updated_at = NOW()
WHERE id = $1 AND status = $2
RETURNING ` + sessionColumns

type UpdateSessionStatusParams struct {
	ID                 uuid.UUID
	FromStatus         string
	ToStatus           string
	CountdownStartedAt sql.NullTime
}

// UpdateSessionStatus returns sql.ErrNoRows when the row is no longer in FromStatus.
func (q *Queries) UpdateSessionStatus(ctx context.Context, arg UpdateSessionStatusParams) (GameSession, error) {
	row := q.db.QueryRowContext(ctx, updateSessionStatus,
		arg.ID,
		arg.FromStatus,
		arg.ToStatus,
		arg.CountdownStartedAt,
	)
	return scanSession(row)
}

const deleteSession = `-- name: DeleteSession :execrows
DELETE FROM game_sessions
WHERE id = $1`

func (q *Queries) DeleteSession(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteSession, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
