package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the lifecycle status of a game session
type SessionStatus string

const (
	SessionStatusWaiting  SessionStatus = "waiting"
	SessionStatusActive   SessionStatus = "active"
	SessionStatusFinished SessionStatus = "finished"
)

// rank orders statuses along the forward-only lifecycle.
func (s SessionStatus) rank() int {
	switch s {
	case SessionStatusWaiting:
		return 0
	case SessionStatusActive:
		return 1
	case SessionStatusFinished:
		return 2
	default:
		return -1
	}
}

// IsValid reports whether s is a known status.
func (s SessionStatus) IsValid() bool {
	return s.rank() >= 0
}

// CanTransitionTo reports whether moving from s to next goes strictly forward.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	return next.rank() > s.rank()
}

// ParseSessionStatus converts a raw value into a SessionStatus.
func ParseSessionStatus(raw string) (SessionStatus, error) {
	s := SessionStatus(raw)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown session status %q", raw)
	}
	return s, nil
}

// GameSession represents a single live run of a quiz
type GameSession struct {
	ID                 uuid.UUID     `json:"id"`
	QuizID             uuid.UUID     `json:"quiz_id"`
	HostID             uuid.UUID     `json:"host_id"`
	GamePin            string        `json:"game_pin"`
	Status             SessionStatus `json:"status"`
	Participants       []Participant `json:"participants"`
	CountdownStartedAt *time.Time    `json:"countdown_started_at,omitempty"`
	CountdownSeconds   int           `json:"countdown_seconds"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
}

// FindParticipantByUser returns the participant bound to userID, if any.
func (g *GameSession) FindParticipantByUser(userID uuid.UUID) (*Participant, bool) {
	for i := range g.Participants {
		p := &g.Participants[i]
		if p.UserID != nil && *p.UserID == userID {
			return p, true
		}
	}
	return nil, false
}

// HasParticipant reports whether a participant with id is in the session.
func (g *GameSession) HasParticipant(id uuid.UUID) bool {
	for _, p := range g.Participants {
		if p.ID == id {
			return true
		}
	}
	return false
}

// CountdownRunning reports whether a start countdown has been stamped.
func (g *GameSession) CountdownRunning() bool {
	return g.CountdownStartedAt != nil
}
