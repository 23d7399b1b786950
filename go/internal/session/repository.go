package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/quizlive/go/internal/models"
	"github.com/mcdev12/quizlive/go/internal/outbox"
	outboxdb "github.com/mcdev12/quizlive/go/internal/outbox/db"
	"github.com/mcdev12/quizlive/go/internal/session/db"
	"github.com/mcdev12/quizlive/go/internal/sqlutil"
)

const pinConstraint = "game_sessions_pin_live_idx"

// Querier defines the reads the repository performs outside a transaction
type Querier interface {
	GetSession(ctx context.Context, id uuid.UUID) (db.GameSession, error)
	GetSessionByPin(ctx context.Context, gamePin string) (db.GameSession, error)
	GetParticipant(ctx context.Context, arg db.GetParticipantParams) (db.SessionParticipant, error)
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]db.SessionParticipant, error)
}

// txQueries binds session and outbox queries to the same transaction so every
// row change commits together with its outbox record.
type txQueries struct {
	*db.Queries
	changes *outbox.App
}

func newTxQueries(tx *sql.Tx) *txQueries {
	return &txQueries{
		Queries: db.New(tx),
		changes: outbox.NewApp(outbox.NewRepository(outboxdb.New(tx))),
	}
}

// Repository is the primary store accessor
type Repository struct {
	queries Querier
	db      *sql.DB
}

func NewRepository(queries Querier, database *sql.DB) *Repository {
	return &Repository{
		queries: queries,
		db:      database,
	}
}

// CreateSession inserts a waiting session. Returns ErrPinTaken when the PIN collides
// with a live session.
func (r *Repository) CreateSession(ctx context.Context, params CreateSessionParams) (*models.GameSession, error) {
	var created db.GameSession
	err := sqlutil.Run(ctx, r.db, newTxQueries, func(q *txQueries) error {
		row, err := q.CreateSession(ctx, db.CreateSessionParams{
			ID:               params.ID,
			QuizID:           params.QuizID,
			HostID:           params.HostID,
			GamePin:          params.GamePin,
			CountdownSeconds: int32(params.CountdownSeconds),
		})
		if err != nil {
			return err
		}
		created = row

		session := dbSessionToModel(row, nil)
		return q.changes.RecordChange(ctx, sessionChange(models.ChangeInsert, nil, session))
	})
	if err != nil {
		if sqlutil.IsUniqueViolation(err, pinConstraint) {
			return nil, ErrPinTaken
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return dbSessionToModel(created, []models.Participant{}), nil
}

// GetSession loads a session with its participants
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	row, err := r.queries.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return r.withParticipants(ctx, row)
}

// GetSessionByPin loads the session a PIN currently resolves to
func (r *Repository) GetSessionByPin(ctx context.Context, pin string) (*models.GameSession, error) {
	row, err := r.queries.GetSessionByPin(ctx, pin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session by pin: %w", err)
	}
	return r.withParticipants(ctx, row)
}

// ListParticipants returns the roster in join order
func (r *Repository) ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]models.Participant, error) {
	rows, err := r.queries.ListParticipants(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	participants := make([]models.Participant, len(rows))
	for i, row := range rows {
		participants[i] = dbParticipantToModel(row)
	}
	return participants, nil
}

func (r *Repository) GetParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (*models.Participant, error) {
	row, err := r.queries.GetParticipant(ctx, db.GetParticipantParams{SessionID: sessionID, ID: participantID})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	p := dbParticipantToModel(row)
	return &p, nil
}

// AddParticipant inserts p unless its user already has a row in the session, in which
// case the existing row is returned and created is false.
func (r *Repository) AddParticipant(ctx context.Context, sessionID uuid.UUID, p models.Participant) (*models.Participant, bool, error) {
	var (
		result  models.Participant
		created bool
	)
	err := sqlutil.Run(ctx, r.db, newTxQueries, func(q *txQueries) error {
		row, err := q.InsertParticipant(ctx, db.InsertParticipantParams{
			ID:        p.ID,
			SessionID: sessionID,
			UserID:    sqlutil.ToNullUUID(p.UserID),
			Nickname:  p.Nickname,
		})
		if errors.Is(err, sql.ErrNoRows) {
			if p.UserID == nil {
				return fmt.Errorf("insert participant: no row returned")
			}
			existing, err := q.GetParticipantByUser(ctx, db.GetParticipantByUserParams{SessionID: sessionID, UserID: *p.UserID})
			if err != nil {
				return fmt.Errorf("load existing participant: %w", err)
			}
			result = dbParticipantToModel(existing)
			return nil
		}
		if err != nil {
			return err
		}

		result = dbParticipantToModel(row)
		created = true
		return q.changes.RecordChange(ctx, participantChange(models.ChangeInsert, sessionID, nil, &result))
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to add participant: %w", err)
	}
	return &result, created, nil
}

// RemoveParticipant deletes one participant row and returns what was removed.
func (r *Repository) RemoveParticipant(ctx context.Context, sessionID, participantID uuid.UUID) (*models.Participant, error) {
	var removed models.Participant
	err := sqlutil.Run(ctx, r.db, newTxQueries, func(q *txQueries) error {
		row, err := q.DeleteParticipant(ctx, db.DeleteParticipantParams{SessionID: sessionID, ID: participantID})
		if err != nil {
			return err
		}
		removed = dbParticipantToModel(row)
		return q.changes.RecordChange(ctx, participantChange(models.ChangeDelete, sessionID, &removed, nil))
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to remove participant: %w", err)
	}
	return &removed, nil
}

// UpdateScore sets one participant's score
func (r *Repository) UpdateScore(ctx context.Context, sessionID, participantID uuid.UUID, score int) (*models.Participant, error) {
	var updated models.Participant
	err := sqlutil.Run(ctx, r.db, newTxQueries, func(q *txQueries) error {
		before, err := q.GetParticipant(ctx, db.GetParticipantParams{SessionID: sessionID, ID: participantID})
		if err != nil {
			return err
		}
		row, err := q.UpdateParticipantScore(ctx, db.UpdateParticipantScoreParams{
			SessionID: sessionID,
			ID:        participantID,
			Score:     int32(score),
		})
		if err != nil {
			return err
		}
		old := dbParticipantToModel(before)
		updated = dbParticipantToModel(row)
		return q.changes.RecordChange(ctx, participantChange(models.ChangeUpdate, sessionID, &old, &updated))
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrParticipantNotFound
		}
		return nil, fmt.Errorf("failed to update score: %w", err)
	}
	return &updated, nil
}

// TransitionStatus moves a session forward to next. The update is guarded on the
// status read under lock, so a concurrent transition surfaces as ErrWriteConflict.
func (r *Repository) TransitionStatus(ctx context.Context, sessionID uuid.UUID, next models.SessionStatus, countdownStartedAt *time.Time) (*models.GameSession, error) {
	var (
		updated      db.GameSession
		participants []models.Participant
	)
	err := sqlutil.Run(ctx, r.db, newTxQueries, func(q *txQueries) error {
		current, err := q.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return err
		}
		from := models.SessionStatus(current.Status)
		if !from.CanTransitionTo(next) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
		}

		row, err := q.UpdateSessionStatus(ctx, db.UpdateSessionStatusParams{
			ID:                 sessionID,
			FromStatus:         current.Status,
			ToStatus:           string(next),
			CountdownStartedAt: sqlutil.ToSqlTime(countdownStartedAt),
		})
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrWriteConflict
			}
			return err
		}
		updated = row

		oldSession := dbSessionToModel(current, nil)
		newSession := dbSessionToModel(row, nil)
		if err := q.changes.RecordChange(ctx, sessionChange(models.ChangeUpdate, oldSession, newSession)); err != nil {
			return err
		}

		var stamped []db.SessionParticipant
		switch next {
		case models.SessionStatusActive:
			stamped, err = q.MarkParticipantsStarted(ctx, sessionID)
		case models.SessionStatusFinished:
			stamped, err = q.MarkParticipantsEnded(ctx, sessionID)
		}
		if err != nil {
			return fmt.Errorf("stamp participants: %w", err)
		}
		stampedParticipants := participantsInJoinOrder(stamped)
		for i := range stampedParticipants {
			if err := q.changes.RecordChange(ctx, participantChange(models.ChangeUpdate, sessionID, nil, &stampedParticipants[i])); err != nil {
				return err
			}
		}
		participants = stampedParticipants
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrWriteConflict) {
			return nil, err
		}
		if sqlutil.IsSerializationFailure(err) {
			return nil, ErrWriteConflict
		}
		return nil, fmt.Errorf("failed to transition session: %w", err)
	}

	if participants == nil {
		participants, err = r.ListParticipants(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}
	return dbSessionToModel(updated, participants), nil
}

// DeleteSession removes a session and, by cascade, its participants
func (r *Repository) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	err := sqlutil.Run(ctx, r.db, newTxQueries, func(q *txQueries) error {
		current, err := q.GetSessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		if _, err := q.Queries.DeleteSession(ctx, sessionID); err != nil {
			return err
		}
		return q.changes.RecordChange(ctx, sessionChange(models.ChangeDelete, dbSessionToModel(current, nil), nil))
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *Repository) withParticipants(ctx context.Context, row db.GameSession) (*models.GameSession, error) {
	participants, err := r.ListParticipants(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	return dbSessionToModel(row, participants), nil
}

func sessionChange(kind models.ChangeType, old, new *models.GameSession) models.ChangeEvent {
	change := models.ChangeEvent{
		EventType: kind,
		Table:     models.TableGameSessions,
	}
	if old != nil {
		change.SessionID = old.ID
		change.Old = mustJSON(old)
	}
	if new != nil {
		change.SessionID = new.ID
		change.New = mustJSON(new)
	}
	return change
}

func participantChange(kind models.ChangeType, sessionID uuid.UUID, old, new *models.Participant) models.ChangeEvent {
	change := models.ChangeEvent{
		EventType: kind,
		Table:     models.TableSessionParticipants,
		SessionID: sessionID,
	}
	if old != nil {
		change.Old = mustJSON(old)
	}
	if new != nil {
		change.New = mustJSON(new)
	}
	return change
}

// mustJSON marshals model snapshots, which contain only JSON-safe fields.
func mustJSON(v interface{}) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal snapshot: %v", err))
	}
	return raw
}

func dbSessionToModel(row db.GameSession, participants []models.Participant) *models.GameSession {
	return &models.GameSession{
		ID:                 row.ID,
		QuizID:             row.QuizID,
		HostID:             row.HostID,
		GamePin:            row.GamePin,
		Status:             models.SessionStatus(row.Status),
		Participants:       participants,
		CountdownStartedAt: sqlutil.FromSqlTime(row.CountdownStartedAt),
		CountdownSeconds:   int(row.CountdownSeconds),
		CreatedAt:          row.CreatedAt,
		UpdatedAt:          row.UpdatedAt,
	}
}

// participantsInJoinOrder converts rows whose order the query does not guarantee,
// such as UPDATE ... RETURNING.
func participantsInJoinOrder(rows []db.SessionParticipant) []models.Participant {
	if len(rows) == 0 {
		return nil
	}
	participants := make([]models.Participant, len(rows))
	for i, row := range rows {
		participants[i] = dbParticipantToModel(row)
	}
	models.SortByJoinOrder(participants)
	return participants
}

func dbParticipantToModel(row db.SessionParticipant) models.Participant {
	return models.Participant{
		ID:       row.ID,
		UserID:   sqlutil.FromNullUUID(row.UserID),
		Nickname: row.Nickname,
		Score:    int(row.Score),
		Started:  sqlutil.FromSqlTime(row.Started),
		Ended:    sqlutil.FromSqlTime(row.Ended),
		JoinedAt: row.JoinedAt,
	}
}
