package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/countdown"
	"github.com/mcdev12/quizlive/go/internal/models"
)

const (
	defaultNickname   = "Player"
	maxNicknameLength = 24
)

// SessionRepository defines what the app layer needs from the primary store
type SessionRepository interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*models.GameSession, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	GetSessionByPin(ctx context.Context, pin string) (*models.GameSession, error)
	GetParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (*models.Participant, error)
	AddParticipant(ctx context.Context, sessionID uuid.UUID, p models.Participant) (*models.Participant, bool, error)
	RemoveParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (*models.Participant, error)
	UpdateScore(ctx context.Context, sessionID, participantID uuid.UUID, score int) (*models.Participant, error)
	TransitionStatus(ctx context.Context, sessionID uuid.UUID, next models.SessionStatus, countdownStartedAt *time.Time) (*models.GameSession, error)
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
}

// Mirror is the low-latency secondary store. Writes to it are best-effort.
type Mirror interface {
	UpsertSession(ctx context.Context, session *models.GameSession) error
	UpsertParticipant(ctx context.Context, sessionID uuid.UUID, p models.Participant) error
	DeleteParticipant(ctx context.Context, sessionID, participantID uuid.UUID) error
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
}

// ProfileReader supplies default nicknames for joining players
type ProfileReader interface {
	GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error)
}

// CountdownBroadcaster announces the start timestamp to every client in a session
type CountdownBroadcaster interface {
	Broadcast(ctx context.Context, sessionID uuid.UUID, evt countdown.Event) error
}

// AppConfig holds session tunables
type AppConfig struct {
	CountdownSeconds int
	MaxPinAttempts   int
}

// DefaultAppConfig returns the production defaults
func DefaultAppConfig() AppConfig {
	return AppConfig{
		CountdownSeconds: 5,
		MaxPinAttempts:   5,
	}
}

// App handles game session business logic
type App struct {
	repo      SessionRepository
	mirror    Mirror
	profiles  ProfileReader
	countdown CountdownBroadcaster
	clock     clockwork.Clock
	config    AppConfig
	pinGen    func() string
}

// NewApp creates a new session App. mirror, profiles and broadcaster may be nil.
func NewApp(repo SessionRepository, mirror Mirror, profiles ProfileReader, broadcaster CountdownBroadcaster, clock clockwork.Clock, config AppConfig) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if config.MaxPinAttempts <= 0 {
		config.MaxPinAttempts = DefaultAppConfig().MaxPinAttempts
	}
	if config.CountdownSeconds <= 0 {
		config.CountdownSeconds = DefaultAppConfig().CountdownSeconds
	}
	return &App{
		repo:      repo,
		mirror:    mirror,
		profiles:  profiles,
		countdown: broadcaster,
		clock:     clock,
		config:    config,
		pinGen:    GeneratePin,
	}
}

// JoinByPin resolves a PIN to a session and adds the caller as a participant.
// Joining a session the caller is already in returns the existing participant.
func (a *App) JoinByPin(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	if req.UserID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	pin, err := NormalizePin(req.Pin)
	if err != nil {
		return nil, err
	}

	session, err := a.repo.GetSessionByPin(ctx, pin)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: no session for pin %s", ErrInvalidPin, pin)
		}
		return nil, fmt.Errorf("failed to resolve pin: %w", err)
	}
	if session.Status == models.SessionStatusFinished {
		return nil, ErrSessionFinished
	}

	if existing, ok := session.FindParticipantByUser(req.UserID); ok {
		log.Info().
			Str("session_id", session.ID.String()).
			Str("participant_id", existing.ID.String()).
			Msg("player rejoined session")
		return &JoinResult{Session: session, Participant: *existing, Rejoined: true}, nil
	}

	userID := req.UserID
	participant, created, err := a.repo.AddParticipant(ctx, session.ID, models.Participant{
		ID:       uuid.New(),
		UserID:   &userID,
		Nickname: a.nickname(ctx, req),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join session: %w", err)
	}

	if created {
		a.mirrorWrite(ctx, "upsert participant", session.ID, func(m Mirror) error {
			return m.UpsertParticipant(ctx, session.ID, *participant)
		})
		log.Info().
			Str("session_id", session.ID.String()).
			Str("participant_id", participant.ID.String()).
			Str("nickname", participant.Nickname).
			Msg("player joined session")
	}

	if fresh, err := a.repo.GetSession(ctx, session.ID); err == nil {
		session = fresh
	} else if !session.HasParticipant(participant.ID) {
		session.Participants = append(session.Participants, *participant)
	}

	return &JoinResult{Session: session, Participant: *participant, Rejoined: !created}, nil
}

// Leave removes the caller's own participant. Leaving twice is not an error.
func (a *App) Leave(ctx context.Context, userID, sessionID, participantID uuid.UUID) error {
	if userID == uuid.Nil {
		return ErrUnauthenticated
	}
	participant, err := a.repo.GetParticipant(ctx, sessionID, participantID)
	if err != nil {
		if errors.Is(err, ErrParticipantNotFound) {
			return nil
		}
		return fmt.Errorf("failed to load participant: %w", err)
	}
	if participant.UserID == nil || *participant.UserID != userID {
		return ErrNotOwner
	}

	// The mirror tombstones the id, so it is only written once the primary row is gone.
	if _, err := a.repo.RemoveParticipant(ctx, sessionID, participantID); err != nil {
		if errors.Is(err, ErrParticipantNotFound) {
			return nil
		}
		return fmt.Errorf("failed to leave session: %w", err)
	}
	a.mirrorWrite(ctx, "delete participant", sessionID, func(m Mirror) error {
		return m.DeleteParticipant(ctx, sessionID, participantID)
	})

	log.Info().
		Str("session_id", sessionID.String()).
		Str("participant_id", participantID.String()).
		Msg("player left session")
	return nil
}

// Kick removes a participant on the host's behalf
func (a *App) Kick(ctx context.Context, hostID, sessionID, participantID uuid.UUID) error {
	if _, err := a.requireHost(ctx, hostID, sessionID); err != nil {
		return err
	}

	removed, err := a.repo.RemoveParticipant(ctx, sessionID, participantID)
	if err != nil {
		return err
	}
	a.mirrorWrite(ctx, "delete participant", sessionID, func(m Mirror) error {
		return m.DeleteParticipant(ctx, sessionID, participantID)
	})

	log.Info().
		Str("session_id", sessionID.String()).
		Str("participant_id", removed.ID.String()).
		Msg("participant kicked")
	return nil
}

// CreateSession opens a waiting lobby with a fresh PIN
func (a *App) CreateSession(ctx context.Context, req CreateSessionRequest) (*models.GameSession, error) {
	if req.HostID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	if req.QuizID == uuid.Nil {
		return nil, fmt.Errorf("%w: quiz_id is required", ErrInvalidRequest)
	}

	var (
		session *models.GameSession
		err     error
	)
	for attempt := 1; attempt <= a.config.MaxPinAttempts; attempt++ {
		session, err = a.repo.CreateSession(ctx, CreateSessionParams{
			ID:               uuid.New(),
			QuizID:           req.QuizID,
			HostID:           req.HostID,
			GamePin:          a.pinGen(),
			CountdownSeconds: a.config.CountdownSeconds,
		})
		if err == nil {
			break
		}
		if !errors.Is(err, ErrPinTaken) {
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		log.Debug().Int("attempt", attempt).Msg("generated pin already live, retrying")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to allocate pin after %d attempts: %w", a.config.MaxPinAttempts, err)
	}

	a.mirrorWrite(ctx, "upsert session", session.ID, func(m Mirror) error {
		return m.UpsertSession(ctx, session)
	})

	log.Info().
		Str("session_id", session.ID.String()).
		Str("game_pin", session.GamePin).
		Str("host_id", session.HostID.String()).
		Msg("created game session")
	return session, nil
}

// StartGame moves a waiting session to active and stamps the countdown start.
// The stamped timestamp is broadcast so every client counts down from the same instant.
func (a *App) StartGame(ctx context.Context, hostID, sessionID uuid.UUID) (*models.GameSession, error) {
	if _, err := a.requireHost(ctx, hostID, sessionID); err != nil {
		return nil, err
	}

	startedAt := a.clock.Now().UTC()
	session, err := a.repo.TransitionStatus(ctx, sessionID, models.SessionStatusActive, &startedAt)
	if err != nil {
		return nil, err
	}

	// Broadcast ahead of the mirror write so rooms hear the countdown before the status.
	if a.countdown != nil && session.CountdownStartedAt != nil {
		evt := countdown.NewEvent(*session.CountdownStartedAt)
		if err := a.countdown.Broadcast(ctx, sessionID, evt); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("countdown broadcast failed, clients fall back to status")
		}
	}
	a.syncMirror(ctx, session)

	log.Info().
		Str("session_id", sessionID.String()).
		Time("countdown_started_at", startedAt).
		Int("participants", len(session.Participants)).
		Msg("game started")
	return session, nil
}

// FinishGame closes a session to further joins
func (a *App) FinishGame(ctx context.Context, hostID, sessionID uuid.UUID) (*models.GameSession, error) {
	if _, err := a.requireHost(ctx, hostID, sessionID); err != nil {
		return nil, err
	}

	session, err := a.repo.TransitionStatus(ctx, sessionID, models.SessionStatusFinished, nil)
	if err != nil {
		return nil, err
	}
	a.syncMirror(ctx, session)

	log.Info().Str("session_id", sessionID.String()).Msg("game finished")
	return session, nil
}

// UpdateScore records a participant's score. Only the host may score.
func (a *App) UpdateScore(ctx context.Context, hostID, sessionID, participantID uuid.UUID, score int) (*models.Participant, error) {
	if score < 0 {
		return nil, fmt.Errorf("%w: score must be non-negative", ErrInvalidRequest)
	}
	session, err := a.requireHost(ctx, hostID, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionStatusFinished {
		return nil, ErrSessionFinished
	}

	participant, err := a.repo.UpdateScore(ctx, sessionID, participantID, score)
	if err != nil {
		return nil, err
	}
	a.mirrorWrite(ctx, "upsert participant", sessionID, func(m Mirror) error {
		return m.UpsertParticipant(ctx, sessionID, *participant)
	})
	return participant, nil
}

// GetSession retrieves a session with its roster
func (a *App) GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	session, err := a.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession removes a session on the host's behalf
func (a *App) DeleteSession(ctx context.Context, hostID, sessionID uuid.UUID) error {
	if _, err := a.requireHost(ctx, hostID, sessionID); err != nil {
		return err
	}
	if err := a.repo.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	a.mirrorWrite(ctx, "delete session", sessionID, func(m Mirror) error {
		return m.DeleteSession(ctx, sessionID)
	})

	log.Info().Str("session_id", sessionID.String()).Msg("game session deleted")
	return nil
}

func (a *App) requireHost(ctx context.Context, hostID, sessionID uuid.UUID) (*models.GameSession, error) {
	if hostID == uuid.Nil {
		return nil, ErrUnauthenticated
	}
	session, err := a.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.HostID != hostID {
		return nil, ErrNotHost
	}
	return session, nil
}

func (a *App) nickname(ctx context.Context, req JoinRequest) string {
	name := strings.TrimSpace(req.Nickname)
	if name == "" && a.profiles != nil {
		profile, err := a.profiles.GetProfile(ctx, req.UserID)
		if err != nil {
			log.Debug().Err(err).Str("user_id", req.UserID.String()).Msg("no profile for nickname")
		} else {
			name = strings.TrimSpace(profile.Username)
		}
	}
	if name == "" {
		return defaultNickname
	}
	if utf8.RuneCountInString(name) > maxNicknameLength {
		name = string([]rune(name)[:maxNicknameLength])
	}
	return name
}

func (a *App) syncMirror(ctx context.Context, session *models.GameSession) {
	a.mirrorWrite(ctx, "upsert session", session.ID, func(m Mirror) error {
		if err := m.UpsertSession(ctx, session); err != nil {
			return err
		}
		for _, p := range session.Participants {
			if err := m.UpsertParticipant(ctx, session.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
}

// mirrorWrite runs fn against the mirror and logs failures. The primary store
// stays authoritative and the projector reconciles the mirror later.
func (a *App) mirrorWrite(ctx context.Context, op string, sessionID uuid.UUID, fn func(Mirror) error) {
	if a.mirror == nil {
		return
	}
	if err := fn(a.mirror); err != nil {
		log.Warn().
			Err(err).
			Str("op", op).
			Str("session_id", sessionID.String()).
			Msg("mirror write failed")
	}
}
