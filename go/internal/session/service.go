package session

import (
	"context"
	"errors"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/mcdev12/quizlive/go/internal/auth"
	"github.com/mcdev12/quizlive/go/internal/countdown"
	"github.com/mcdev12/quizlive/go/internal/models"
)

// SessionApp defines what the service layer needs from the session application
type SessionApp interface {
	CreateSession(ctx context.Context, req CreateSessionRequest) (*models.GameSession, error)
	JoinByPin(ctx context.Context, req JoinRequest) (*JoinResult, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	Leave(ctx context.Context, userID, sessionID, participantID uuid.UUID) error
	Kick(ctx context.Context, hostID, sessionID, participantID uuid.UUID) error
	StartGame(ctx context.Context, hostID, sessionID uuid.UUID) (*models.GameSession, error)
	FinishGame(ctx context.Context, hostID, sessionID uuid.UUID) (*models.GameSession, error)
	UpdateScore(ctx context.Context, hostID, sessionID, participantID uuid.UUID, score int) (*models.Participant, error)
	DeleteSession(ctx context.Context, hostID, sessionID uuid.UUID) error
}

// Service exposes the session App over Connect
type Service struct {
	app SessionApp
}

// NewService creates a new session Connect service
func NewService(app SessionApp) *Service {
	return &Service{
		app: app,
	}
}

// Handler returns the path prefix and handler serving every session procedure.
func (s *Service) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(JSONCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CreateSessionProcedure, connect.NewUnaryHandler(CreateSessionProcedure, s.CreateSession, opts...))
	mux.Handle(JoinByPinProcedure, connect.NewUnaryHandler(JoinByPinProcedure, s.JoinByPin, opts...))
	mux.Handle(GetSessionProcedure, connect.NewUnaryHandler(GetSessionProcedure, s.GetSession, opts...))
	mux.Handle(LeaveProcedure, connect.NewUnaryHandler(LeaveProcedure, s.Leave, opts...))
	mux.Handle(KickProcedure, connect.NewUnaryHandler(KickProcedure, s.Kick, opts...))
	mux.Handle(StartGameProcedure, connect.NewUnaryHandler(StartGameProcedure, s.StartGame, opts...))
	mux.Handle(FinishGameProcedure, connect.NewUnaryHandler(FinishGameProcedure, s.FinishGame, opts...))
	mux.Handle(UpdateScoreProcedure, connect.NewUnaryHandler(UpdateScoreProcedure, s.UpdateScore, opts...))
	mux.Handle(DeleteSessionProcedure, connect.NewUnaryHandler(DeleteSessionProcedure, s.DeleteSession, opts...))
	return "/" + ServiceName + "/", mux
}

// CreateSession opens a lobby hosted by the caller
func (s *Service) CreateSession(ctx context.Context, req *connect.Request[CreateSessionRPCRequest]) (*connect.Response[CreateSessionRPCResponse], error) {
	hostID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.app.CreateSession(ctx, CreateSessionRequest{QuizID: req.Msg.QuizID, HostID: hostID})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&CreateSessionRPCResponse{Session: session}), nil
}

// JoinByPin adds the caller to the session behind a PIN
func (s *Service) JoinByPin(ctx context.Context, req *connect.Request[JoinByPinRPCRequest]) (*connect.Response[JoinByPinRPCResponse], error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	result, err := s.app.JoinByPin(ctx, JoinRequest{Pin: req.Msg.Pin, UserID: userID, Nickname: req.Msg.Nickname})
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&JoinByPinRPCResponse{
		Session:     result.Session,
		Participant: result.Participant,
		Rejoined:    result.Rejoined,
		RoomPath:    RoomPath(result.Session.ID, result.Participant.ID),
	}), nil
}

// GetSession retrieves a session by ID
func (s *Service) GetSession(ctx context.Context, req *connect.Request[GetSessionRPCRequest]) (*connect.Response[GetSessionRPCResponse], error) {
	if req.Msg.SessionID == uuid.Nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id is required"))
	}
	session, err := s.app.GetSession(ctx, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&GetSessionRPCResponse{Session: session}), nil
}

// Leave removes the caller's participant
func (s *Service) Leave(ctx context.Context, req *connect.Request[ParticipantRPCRequest]) (*connect.Response[EmptyRPCResponse], error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.app.Leave(ctx, userID, req.Msg.SessionID, req.Msg.ParticipantID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&EmptyRPCResponse{}), nil
}

// Kick removes another participant; host only
func (s *Service) Kick(ctx context.Context, req *connect.Request[ParticipantRPCRequest]) (*connect.Response[EmptyRPCResponse], error) {
	hostID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.app.Kick(ctx, hostID, req.Msg.SessionID, req.Msg.ParticipantID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&EmptyRPCResponse{}), nil
}

// StartGame starts the countdown for a waiting session
func (s *Service) StartGame(ctx context.Context, req *connect.Request[StartGameRPCRequest]) (*connect.Response[StartGameRPCResponse], error) {
	hostID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.app.StartGame(ctx, hostID, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	resp := &StartGameRPCResponse{Session: session}
	if session.CountdownStartedAt != nil {
		evt := countdown.NewEvent(*session.CountdownStartedAt)
		resp.Countdown = &evt
	}
	return connect.NewResponse(resp), nil
}

// FinishGame closes a session
func (s *Service) FinishGame(ctx context.Context, req *connect.Request[FinishGameRPCRequest]) (*connect.Response[FinishGameRPCResponse], error) {
	hostID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	session, err := s.app.FinishGame(ctx, hostID, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&FinishGameRPCResponse{Session: session}), nil
}

// UpdateScore sets a participant's score; host only
func (s *Service) UpdateScore(ctx context.Context, req *connect.Request[UpdateScoreRPCRequest]) (*connect.Response[UpdateScoreRPCResponse], error) {
	hostID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	participant, err := s.app.UpdateScore(ctx, hostID, req.Msg.SessionID, req.Msg.ParticipantID, req.Msg.Score)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&UpdateScoreRPCResponse{Participant: participant}), nil
}

// DeleteSession removes a session and its roster; host only
func (s *Service) DeleteSession(ctx context.Context, req *connect.Request[DeleteSessionRPCRequest]) (*connect.Response[EmptyRPCResponse], error) {
	hostID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	if req.Msg.SessionID == uuid.Nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("session_id is required"))
	}
	if err := s.app.DeleteSession(ctx, hostID, req.Msg.SessionID); err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&EmptyRPCResponse{}), nil
}

func callerID(ctx context.Context) (uuid.UUID, error) {
	userID, ok := auth.UserFromContext(ctx)
	if !ok {
		return uuid.Nil, connect.NewError(connect.CodeUnauthenticated, ErrUnauthenticated)
	}
	return userID, nil
}

// CodeFor maps a session error onto its Connect code
func CodeFor(err error) connect.Code {
	switch {
	case errors.Is(err, ErrInvalidPin), errors.Is(err, ErrInvalidRequest):
		return connect.CodeInvalidArgument
	case errors.Is(err, ErrSessionFinished):
		return connect.CodeFailedPrecondition
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrParticipantNotFound):
		return connect.CodeNotFound
	case errors.Is(err, ErrNotHost), errors.Is(err, ErrNotOwner):
		return connect.CodePermissionDenied
	case errors.Is(err, ErrUnauthenticated):
		return connect.CodeUnauthenticated
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrWriteConflict):
		return connect.CodeAborted
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	default:
		return connect.CodeInternal
	}
}

func toConnectError(err error) error {
	return connect.NewError(CodeFor(err), err)
}
