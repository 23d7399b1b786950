package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/models"
)

var (
	// ErrMirrorWrite wraps every failed mirror mutation. Callers log and continue.
	ErrMirrorWrite = errors.New("mirror write failed")
	// ErrMirrorMiss means the mirror holds no copy of the session.
	ErrMirrorMiss = errors.New("session not present in mirror")
)

type Options struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewClient creates a Redis client and verifies connectivity.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return rdb, nil
}

func sessionKey(id uuid.UUID) string      { return "quiz:session:" + id.String() }
func participantsKey(id uuid.UUID) string { return "quiz:participants:" + id.String() }
func removedKey(id uuid.UUID) string      { return "quiz:removed:" + id.String() }

// SessionChannel is the pub/sub channel carrying game_sessions changes.
func SessionChannel(id uuid.UUID) string { return "quiz:feed:session:" + id.String() }

// ParticipantsChannel is the pub/sub channel carrying session_participants changes.
func ParticipantsChannel(id uuid.UUID) string { return "quiz:feed:participants:" + id.String() }

// Store keeps a low-latency copy of session rows in Redis and announces every
// change on per-session pub/sub channels.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl, now: time.Now}
}

// Client exposes the Redis client for components sharing the connection.
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// UpsertSession writes the session scalars. Backward status moves are dropped so a
// late replay cannot undo a newer write.
func (s *Store) UpsertSession(ctx context.Context, session *models.GameSession) error {
	key := sessionKey(session.ID)

	current, err := s.rdb.HGet(ctx, key, "status").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: read session status: %v", ErrMirrorWrite, err)
	}
	if !statusAdvances(models.SessionStatus(current), session.Status) {
		log.Debug().
			Str("session_id", session.ID.String()).
			Str("mirror_status", current).
			Str("incoming_status", string(session.Status)).
			Msg("skipping stale session write")
		return nil
	}

	snapshot := *session
	snapshot.Participants = nil
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("%w: marshal session: %v", ErrMirrorWrite, err)
	}

	countdown := ""
	if session.CountdownStartedAt != nil {
		countdown = session.CountdownStartedAt.UTC().Format(time.RFC3339Nano)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(session.Status),
		"game_pin", session.GamePin,
		"countdown_started_at", countdown,
		"snapshot", raw,
	)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: write session: %v", ErrMirrorWrite, err)
	}

	return s.publish(ctx, SessionChannel(session.ID), models.ChangeEvent{
		EventType: models.ChangeUpdate,
		Table:     models.TableGameSessions,
		SessionID: session.ID,
		New:       raw,
	})
}

// Session reads the mirrored session scalars.
func (s *Store) Session(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	raw, err := s.rdb.HGet(ctx, sessionKey(id), "snapshot").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMirrorMiss
		}
		return nil, fmt.Errorf("failed to read mirrored session: %w", err)
	}
	var session models.GameSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("failed to decode mirrored session: %w", err)
	}
	return &session, nil
}

// UpsertParticipant writes one participant. Participants that were removed stay removed.
func (s *Store) UpsertParticipant(ctx context.Context, sessionID uuid.UUID, p models.Participant) error {
	removed, err := s.rdb.SIsMember(ctx, removedKey(sessionID), p.ID.String()).Result()
	if err != nil {
		return fmt.Errorf("%w: read tombstones: %v", ErrMirrorWrite, err)
	}
	if removed {
		log.Debug().
			Str("session_id", sessionID.String()).
			Str("participant_id", p.ID.String()).
			Msg("skipping write for removed participant")
		return nil
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("%w: marshal participant: %v", ErrMirrorWrite, err)
	}

	key := participantsKey(sessionID)
	old, err := s.rdb.HGet(ctx, key, p.ID.String()).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: read participant: %v", ErrMirrorWrite, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, p.ID.String(), raw)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: write participant: %v", ErrMirrorWrite, err)
	}

	change := models.ChangeEvent{
		EventType: models.ChangeInsert,
		Table:     models.TableSessionParticipants,
		SessionID: sessionID,
		New:       raw,
	}
	if len(old) > 0 {
		change.EventType = models.ChangeUpdate
		change.Old = old
	}
	return s.publish(ctx, ParticipantsChannel(sessionID), change)
}

// DeleteParticipant removes a participant and tombstones its id.
func (s *Store) DeleteParticipant(ctx context.Context, sessionID, participantID uuid.UUID) error {
	key := participantsKey(sessionID)
	old, err := s.rdb.HGet(ctx, key, participantID.String()).Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: read participant: %v", ErrMirrorWrite, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.HDel(ctx, key, participantID.String())
	pipe.SAdd(ctx, removedKey(sessionID), participantID.String())
	pipe.Expire(ctx, removedKey(sessionID), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: delete participant: %v", ErrMirrorWrite, err)
	}

	if len(old) == 0 {
		old, _ = json.Marshal(models.Participant{ID: participantID})
	}
	return s.publish(ctx, ParticipantsChannel(sessionID), models.ChangeEvent{
		EventType: models.ChangeDelete,
		Table:     models.TableSessionParticipants,
		SessionID: sessionID,
		Old:       old,
	})
}

// Roster returns the mirrored participants ordered by join time.
func (s *Store) Roster(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	values, err := s.rdb.HGetAll(ctx, participantsKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read mirrored roster: %w", err)
	}
	roster := make([]models.Participant, 0, len(values))
	for id, raw := range values {
		var p models.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			log.Warn().Err(err).Str("participant_id", id).Msg("skipping undecodable mirrored participant")
			continue
		}
		roster = append(roster, p)
	}
	models.SortByJoinOrder(roster)
	return roster, nil
}

// DeleteSession announces the deletion to room feeds, then drops every key the
// mirror holds for the session.
func (s *Store) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	old, err := s.rdb.HGet(ctx, sessionKey(sessionID), "snapshot").Bytes()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: read session: %v", ErrMirrorWrite, err)
	}
	if len(old) == 0 {
		old, _ = json.Marshal(models.GameSession{ID: sessionID})
	}

	if err := s.publish(ctx, SessionChannel(sessionID), models.ChangeEvent{
		EventType: models.ChangeDelete,
		Table:     models.TableGameSessions,
		SessionID: sessionID,
		Old:       old,
	}); err != nil {
		return err
	}

	if err := s.rdb.Del(ctx, sessionKey(sessionID), participantsKey(sessionID), removedKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: delete session: %v", ErrMirrorWrite, err)
	}
	return nil
}

// Apply projects a changefeed record onto the mirror.
func (s *Store) Apply(ctx context.Context, change models.ChangeEvent) error {
	switch change.Table {
	case models.TableGameSessions:
		if change.EventType == models.ChangeDelete {
			return s.DeleteSession(ctx, change.SessionID)
		}
		session, err := change.DecodeSession()
		if err != nil {
			return fmt.Errorf("decode session change: %w", err)
		}
		return s.UpsertSession(ctx, &session)
	case models.TableSessionParticipants:
		p, err := change.DecodeParticipant()
		if err != nil {
			return fmt.Errorf("decode participant change: %w", err)
		}
		if change.EventType == models.ChangeDelete {
			return s.DeleteParticipant(ctx, change.SessionID, p.ID)
		}
		return s.UpsertParticipant(ctx, change.SessionID, p)
	default:
		return fmt.Errorf("unknown table %q", change.Table)
	}
}

func (s *Store) publish(ctx context.Context, channel string, change models.ChangeEvent) error {
	change.CommitTimestamp = s.now().UTC()
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("%w: marshal change: %v", ErrMirrorWrite, err)
	}
	if err := s.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("%w: publish change: %v", ErrMirrorWrite, err)
	}
	return nil
}

// statusAdvances reports whether incoming may overwrite current.
func statusAdvances(current, incoming models.SessionStatus) bool {
	if current == "" || current == incoming {
		return true
	}
	return current.CanTransitionTo(incoming)
}
