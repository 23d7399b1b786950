package models

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Participant is a player's membership in one game session
type Participant struct {
	ID       uuid.UUID  `json:"id"`
	UserID   *uuid.UUID `json:"user_id,omitempty"`
	Nickname string     `json:"nickname"`
	Score    int        `json:"score"`
	Started  *time.Time `json:"started,omitempty"`
	Ended    *time.Time `json:"ended,omitempty"`
	JoinedAt time.Time  `json:"joined_at"`
}

// SortByJoinOrder orders participants by join time, then id.
func SortByJoinOrder(roster []Participant) {
	sort.SliceStable(roster, func(i, j int) bool {
		if !roster[i].JoinedAt.Equal(roster[j].JoinedAt) {
			return roster[i].JoinedAt.Before(roster[j].JoinedAt)
		}
		return roster[i].ID.String() < roster[j].ID.String()
	})
}

// Profile is the public identity attached to a user
type Profile struct {
	UserID    uuid.UUID `json:"user_id"`
	Username  string    `json:"username"`
	AvatarURL string    `json:"avatar_url"`
}

// ChangeType classifies a row-level change
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

const (
	TableGameSessions        = "game_sessions"
	TableSessionParticipants = "session_participants"
)

// ChangeEvent is a row-level change record delivered by the mirror and the changefeed
type ChangeEvent struct {
	EventType       ChangeType      `json:"eventType"`
	Table           string          `json:"table"`
	SessionID       uuid.UUID       `json:"session_id"`
	Old             json.RawMessage `json:"old,omitempty"`
	New             json.RawMessage `json:"new,omitempty"`
	CommitTimestamp time.Time       `json:"commit_timestamp"`
}

// DecodeParticipant decodes the participant snapshot carried by a change.
// For DELETE events the old snapshot is used.
func (e ChangeEvent) DecodeParticipant() (Participant, error) {
	raw := e.New
	if e.EventType == ChangeDelete || len(raw) == 0 {
		raw = e.Old
	}
	var p Participant
	err := json.Unmarshal(raw, &p)
	return p, err
}

// DecodeSession decodes the new session snapshot carried by a change.
func (e ChangeEvent) DecodeSession() (GameSession, error) {
	var s GameSession
	err := json.Unmarshal(e.New, &s)
	return s, err
}
