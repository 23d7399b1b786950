package session

import (
	"errors"

	"github.com/google/uuid"

	"github.com/mcdev12/quizlive/go/internal/models"
)

var (
	// ErrInvalidPin means the PIN is malformed or matches no session.
	ErrInvalidPin = errors.New("invalid game pin")
	// ErrSessionFinished means the session can no longer be joined.
	ErrSessionFinished = errors.New("game session has finished")
	ErrNotFound        = errors.New("game session not found")
	// ErrParticipantNotFound means the participant is not (or no longer) in the session.
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNotHost             = errors.New("only the host can do that")
	ErrNotOwner            = errors.New("participant belongs to another user")
	ErrUnauthenticated     = errors.New("sign in required")
	// ErrInvalidTransition means the requested status would move the session backward.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrWriteConflict means a concurrent writer changed the row first.
	ErrWriteConflict = errors.New("concurrent write conflict")
	// ErrPinTaken means a live session already uses the generated PIN.
	ErrPinTaken       = errors.New("game pin already in use")
	ErrInvalidRequest = errors.New("invalid request")
)

// JoinRequest is a player's attempt to enter a session by PIN
type JoinRequest struct {
	Pin      string    `json:"pin"`
	UserID   uuid.UUID `json:"-"`
	Nickname string    `json:"nickname,omitempty"`
}

// JoinResult is what a successful join resolves to
type JoinResult struct {
	Session     *models.GameSession `json:"session"`
	Participant models.Participant  `json:"participant"`
	Rejoined    bool                `json:"rejoined"`
}

// CreateSessionRequest opens a new lobby for a quiz
type CreateSessionRequest struct {
	QuizID uuid.UUID `json:"quiz_id"`
	HostID uuid.UUID `json:"-"`
}

// CreateSessionParams is what the repository persists for a new session
type CreateSessionParams struct {
	ID               uuid.UUID
	QuizID           uuid.UUID
	HostID           uuid.UUID
	GamePin          string
	CountdownSeconds int
}
