package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type GameSession struct {
	ID                 uuid.UUID
	QuizID             uuid.UUID
	HostID             uuid.UUID
	GamePin            string
	Status             string
	CountdownStartedAt sql.NullTime
	CountdownSeconds   int32
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type SessionParticipant struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	UserID    uuid.NullUUID
	Nickname  string
	Score     int32
	Started   sql.NullTime
	Ended     sql.NullTime
	JoinedAt  time.Time
}
