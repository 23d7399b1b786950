package room

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/models"
	"github.com/mcdev12/quizlive/go/internal/session"
)

// Update is one observation delivered by a feed. Exactly one of Status, Change,
// Snapshot and Deleted is set.
type Update struct {
	// Status is a session-level status observation.
	Status models.SessionStatus
	// CountdownStartedAt may accompany Status when the session row carried it.
	CountdownStartedAt *time.Time
	// Change is a participant-level row change.
	Change *models.ChangeEvent
	// Snapshot is an authoritative read of the session and its full roster.
	Snapshot *models.GameSession
	// Deleted means the session row is gone.
	Deleted bool
}

// Feed streams updates for one session. Updates is closed when the feed ends.
type Feed interface {
	Updates() <-chan Update
	Close() error
}

// MirrorSubscription is the shape of a mirror.Subscription
type MirrorSubscription interface {
	Sessions() <-chan models.ChangeEvent
	Participants() <-chan models.ChangeEvent
	Err() error
	Close() error
}

// MirrorFeed adapts the mirror's session and participant channels into one feed.
type MirrorFeed struct {
	sub     MirrorSubscription
	updates chan Update
	done    chan struct{}
	once    sync.Once
}

func NewMirrorFeed(sub MirrorSubscription) *MirrorFeed {
	f := &MirrorFeed{
		sub:     sub,
		updates: make(chan Update, 64),
		done:    make(chan struct{}),
	}
	go f.run()
	return f
}

func (f *MirrorFeed) run() {
	defer close(f.updates)

	sessions := f.sub.Sessions()
	participants := f.sub.Participants()
	for sessions != nil || participants != nil {
		var update Update
		select {
		case <-f.done:
			return
		case change, ok := <-sessions:
			if !ok {
				sessions = nil
				continue
			}
			if change.EventType == models.ChangeDelete {
				update = Update{Deleted: true}
				break
			}
			s, err := change.DecodeSession()
			if err != nil || !s.Status.IsValid() {
				log.Warn().Err(err).Str("session_id", change.SessionID.String()).Msg("dropping undecodable session change")
				continue
			}
			update = Update{Status: s.Status, CountdownStartedAt: s.CountdownStartedAt}
		case change, ok := <-participants:
			if !ok {
				participants = nil
				continue
			}
			update = Update{Change: &change}
		}

		select {
		case f.updates <- update:
		case <-f.done:
			return
		}
	}

	if err := f.sub.Err(); err != nil {
		log.Warn().Err(err).Msg("mirror feed ended")
	}
}

func (f *MirrorFeed) Updates() <-chan Update {
	return f.updates
}

func (f *MirrorFeed) Close() error {
	var err error
	f.once.Do(func() {
		close(f.done)
		err = f.sub.Close()
	})
	return err
}

// SessionReader reads the authoritative session and roster
type SessionReader interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
}

// ChangeSubscriber signals when a session changes in the primary store.
// *session.ChangeListener implements it.
type ChangeSubscriber interface {
	Subscribe(sessionID uuid.UUID) (<-chan struct{}, func())
}

// PrimaryFeed re-reads the primary store whenever it is notified of a change, and on
// a fixed poll interval in case a notification was lost.
type PrimaryFeed struct {
	updates chan Update
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPrimaryFeed starts re-reading sessionID. A nil subscriber leaves polling as the
// only source.
func NewPrimaryFeed(ctx context.Context, reader SessionReader, subscriber ChangeSubscriber, sessionID uuid.UUID, clock clockwork.Clock, pollInterval time.Duration) *PrimaryFeed {
	ctx, cancel := context.WithCancel(ctx)
	f := &PrimaryFeed{
		updates: make(chan Update, 8),
		cancel:  cancel,
	}

	var (
		signals     <-chan struct{}
		unsubscribe = func() {}
	)
	if subscriber != nil {
		signals, unsubscribe = subscriber.Subscribe(sessionID)
	}

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer close(f.updates)
		defer unsubscribe()
		f.run(ctx, reader, signals, sessionID, clock, pollInterval)
	}()
	return f
}

func (f *PrimaryFeed) run(ctx context.Context, reader SessionReader, signals <-chan struct{}, sessionID uuid.UUID, clock clockwork.Clock, pollInterval time.Duration) {
	ticker := clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-signals:
		case <-ticker.Chan():
		}

		current, err := reader.GetSession(ctx, sessionID)
		var update Update
		switch {
		case errors.Is(err, session.ErrNotFound):
			update = Update{Deleted: true}
		case err != nil:
			if ctx.Err() == nil {
				log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("primary re-read failed")
			}
			continue
		default:
			update = Update{Snapshot: current}
		}

		select {
		case f.updates <- update:
		case <-ctx.Done():
			return
		}
	}
}

func (f *PrimaryFeed) Updates() <-chan Update {
	return f.updates
}

func (f *PrimaryFeed) Close() error {
	f.cancel()
	f.wg.Wait()
	return nil
}
