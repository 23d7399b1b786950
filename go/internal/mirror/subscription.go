package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/models"
)

// ErrSubscriptionDropped is reported when a feed closes without being asked to.
var ErrSubscriptionDropped = errors.New("mirror subscription dropped")

// Subscription delivers change events for one session on two feeds.
type Subscription struct {
	pubsub       *redis.PubSub
	sessions     chan models.ChangeEvent
	participants chan models.ChangeEvent
	done         chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	err       error
}

// Subscribe opens the session and participant feeds for sessionID. The returned
// subscription is live once Subscribe returns.
func (s *Store) Subscribe(ctx context.Context, sessionID uuid.UUID) (*Subscription, error) {
	sessionCh := SessionChannel(sessionID)
	participantCh := ParticipantsChannel(sessionID)

	pubsub := s.rdb.Subscribe(ctx, sessionCh, participantCh)
	// wait for both subscribe confirmations so no change slips between load and listen
	for i := 0; i < 2; i++ {
		if _, err := pubsub.Receive(ctx); err != nil {
			pubsub.Close()
			return nil, fmt.Errorf("subscribe to session feeds: %w", err)
		}
	}

	sub := &Subscription{
		pubsub:       pubsub,
		sessions:     make(chan models.ChangeEvent, 16),
		participants: make(chan models.ChangeEvent, 64),
		done:         make(chan struct{}),
	}
	go sub.run(sessionCh, participantCh)

	log.Debug().Str("session_id", sessionID.String()).Msg("mirror subscription opened")
	return sub, nil
}

func (sub *Subscription) run(sessionCh, participantCh string) {
	defer close(sub.sessions)
	defer close(sub.participants)

	for msg := range sub.pubsub.Channel() {
		var change models.ChangeEvent
		if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
			log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping undecodable change")
			continue
		}

		var out chan models.ChangeEvent
		switch msg.Channel {
		case sessionCh:
			out = sub.sessions
		case participantCh:
			out = sub.participants
		default:
			continue
		}

		select {
		case out <- change:
		case <-sub.done:
			return
		}
	}

	select {
	case <-sub.done:
	default:
		sub.setErr(ErrSubscriptionDropped)
	}
}

// Sessions yields game_sessions changes. Closed when the subscription ends.
func (sub *Subscription) Sessions() <-chan models.ChangeEvent {
	return sub.sessions
}

// Participants yields session_participants changes. Closed when the subscription ends.
func (sub *Subscription) Participants() <-chan models.ChangeEvent {
	return sub.participants
}

// Err returns ErrSubscriptionDropped if the feed ended without Close.
func (sub *Subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

func (sub *Subscription) setErr(err error) {
	sub.mu.Lock()
	sub.err = err
	sub.mu.Unlock()
}

// Close unsubscribes. Safe to call more than once.
func (sub *Subscription) Close() error {
	var err error
	sub.closeOnce.Do(func() {
		close(sub.done)
		err = sub.pubsub.Close()
	})
	return err
}
