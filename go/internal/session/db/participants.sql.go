package db

import (
	"context"

	"github.com/google/uuid"
)

const participantColumns = `id, session_id, user_id, nickname, score, started, ended, joined_at`

func scanParticipant(row interface{ Scan(...interface{}) error }) (SessionParticipant, error) {
	var i SessionParticipant
	err := row.Scan(
		&i.ID,
		&i.SessionID,
		&i.UserID,
		&i.Nickname,
		&i.Score,
		&i.Started,
		&i.Ended,
		&i.JoinedAt,
	)
	return i, err
}

const insertParticipant = `-- name: InsertParticipant :one
INSERT INTO session_participants (id, session_id, user_id, nickname)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id, user_id) DO NOTHING
RETURNING ` + participantColumns

type InsertParticipantParams struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	UserID    uuid.NullUUID
	Nickname  string
}

// InsertParticipant returns sql.ErrNoRows when the user already has a row in the session.
func (q *Queries) InsertParticipant(ctx context.Context, arg InsertParticipantParams) (SessionParticipant, error) {
	row := q.db.QueryRowContext(ctx, insertParticipant,
		arg.ID,
		arg.SessionID,
		arg.UserID,
		arg.Nickname,
	)
	return scanParticipant(row)
}

const getParticipant = `-- name: GetParticipant :one
SELECT ` + participantColumns + ` FROM session_participants
WHERE session_id = $1 AND id = $2`

type GetParticipantParams struct {
	SessionID uuid.UUID
	ID        uuid.UUID
}

func (q *Queries) GetParticipant(ctx context.Context, arg GetParticipantParams) (SessionParticipant, error) {
	row := q.db.QueryRowContext(ctx, getParticipant, arg.SessionID, arg.ID)
	return scanParticipant(row)
}

const getParticipantByUser = `-- name: GetParticipantByUser :one
SELECT ` + participantColumns + ` FROM session_participants
WHERE session_id = $1 AND user_id = $2`

type GetParticipantByUserParams struct {
	SessionID uuid.UUID
	UserID    uuid.UUID
}

func (q *Queries) GetParticipantByUser(ctx context.Context, arg GetParticipantByUserParams) (SessionParticipant, error) {
	row := q.db.QueryRowContext(ctx, getParticipantByUser, arg.SessionID, arg.UserID)
	return scanParticipant(row)
}

const listParticipants = `-- name: ListParticipants :many
SELECT ` + participantColumns + ` FROM session_participants
WHERE session_id = $1
ORDER BY joined_at, id`

func (q *Queries) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]SessionParticipant, error) {
	rows, err := q.db.QueryContext(ctx, listParticipants, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SessionParticipant
	for rows.Next() {
		i, err := scanParticipant(rows)
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

const deleteParticipant = `-- name: DeleteParticipant :one
DELETE FROM session_participants
WHERE session_id = $1 AND id = $2
RETURNING ` + participantColumns

type DeleteParticipantParams struct {
	SessionID uuid.UUID
	ID        uuid.UUID
}

// DeleteParticipant returns the removed row, or sql.ErrNoRows when nothing matched.
func (q *Queries) DeleteParticipant(ctx context.Context, arg DeleteParticipantParams) (SessionParticipant, error) {
	row := q.db.QueryRowContext(ctx, deleteParticipant, arg.SessionID, arg.ID)
	return scanParticipant(row)
}

const updateParticipantScore = `-- name: UpdateParticipantScore :one
UPDATE session_participants
SET score = $3
WHERE session_id = $1 AND id = $2
RETURNING ` + participantColumns

type UpdateParticipantScoreParams struct {
	SessionID uuid.UUID
	ID        uuid.UUID
	Score     int32
}

func (q *Queries) UpdateParticipantScore(ctx context.Context, arg UpdateParticipantScoreParams) (SessionParticipant, error) {
	row := q.db.QueryRowContext(ctx, updateParticipantScore, arg.SessionID, arg.ID, arg.Score)
	return scanParticipant(row)
}

const markParticipantsStarted = `-- name: MarkParticipantsStarted :many
UPDATE session_participants
SET started = COALESCE(started, NOW())
WHERE session_id = $1
RETURNING ` + participantColumns

func (q *Queries) MarkParticipantsStarted(ctx context.Context, sessionID uuid.UUID) ([]SessionParticipant, error) {
	return q.updateMany(ctx, markParticipantsStarted, sessionID)
}

const markParticipantsEnded = `-- name: MarkParticipantsEnded :many
UPDATE session_participants
SET ended = COALESCE(ended, NOW())
WHERE session_id = $1
RETURNING ` + participantColumns

func (q *Queries) MarkParticipantsEnded(ctx context.Context, sessionID uuid.UUID) ([]SessionParticipant, error) {
	return q.updateMany(ctx, markParticipantsEnded, sessionID)
}

func (q *Queries) updateMany(ctx context.Context, query string, sessionID uuid.UUID) ([]SessionParticipant, error) {
	rows, err := q.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SessionParticipant
	for rows.Next() {
		i, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
