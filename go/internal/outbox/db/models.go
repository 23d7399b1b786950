package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type SessionOutbox struct {
	ID        uuid.UUID
	SessionID uuid.UUID
	TableName string
	EventType string
	OldRow    pqtype.NullRawMessage
	NewRow    pqtype.NullRawMessage
	CreatedAt time.Time
	SentAt    sql.NullTime
}
