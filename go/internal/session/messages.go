package session

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/mcdev12/quizlive/go/internal/countdown"
	"github.com/mcdev12/quizlive/go/internal/models"
)

// ServiceName is the fully-qualified RPC service name
const ServiceName = "quizlive.session.v1.SessionService"

// Procedure paths served by the session service
const (
	CreateSessionProcedure = "/" + ServiceName + "/CreateSession"
	JoinByPinProcedure     = "/" + ServiceName + "/JoinByPin"
	GetSessionProcedure    = "/" + ServiceName + "/GetSession"
	LeaveProcedure         = "/" + ServiceName + "/Leave"
	KickProcedure          = "/" + ServiceName + "/Kick"
	StartGameProcedure     = "/" + ServiceName + "/StartGame"
	FinishGameProcedure    = "/" + ServiceName + "/FinishGame"
	UpdateScoreProcedure   = "/" + ServiceName + "/UpdateScore"
	DeleteSessionProcedure = "/" + ServiceName + "/DeleteSession"
)

type CreateSessionRPCRequest struct {
	QuizID uuid.UUID `json:"quiz_id"`
}

type CreateSessionRPCResponse struct {
	Session *models.GameSession `json:"session"`
}

type JoinByPinRPCRequest struct {
	Pin      string `json:"pin"`
	Nickname string `json:"nickname,omitempty"`
}

type JoinByPinRPCResponse struct {
	Session     *models.GameSession `json:"session"`
	Participant models.Participant  `json:"participant"`
	Rejoined    bool                `json:"rejoined"`
	RoomPath    string              `json:"room_path"`
}

type GetSessionRPCRequest struct {
	SessionID uuid.UUID `json:"session_id"`
}

type GetSessionRPCResponse struct {
	Session *models.GameSession `json:"session"`
}

// ParticipantRPCRequest addresses one participant of a session (Leave, Kick)
type ParticipantRPCRequest struct {
	SessionID     uuid.UUID `json:"session_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
}

type EmptyRPCResponse struct{}

type StartGameRPCRequest struct {
	SessionID uuid.UUID `json:"session_id"`
}

type StartGameRPCResponse struct {
	Session   *models.GameSession `json:"session"`
	Countdown *countdown.Event    `json:"countdown,omitempty"`
}

type FinishGameRPCRequest struct {
	SessionID uuid.UUID `json:"session_id"`
}

type FinishGameRPCResponse struct {
	Session *models.GameSession `json:"session"`
}

type DeleteSessionRPCRequest struct {
	SessionID uuid.UUID `json:"session_id"`
}

type UpdateScoreRPCRequest struct {
	SessionID     uuid.UUID `json:"session_id"`
	ParticipantID uuid.UUID `json:"participant_id"`
	Score         int       `json:"score"`
}

type UpdateScoreRPCResponse struct {
	Participant *models.Participant `json:"participant"`
}

// JSONCodec serializes plain Go structs for Connect. It registers under the
// "json" name so application/json requests are served by it.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
