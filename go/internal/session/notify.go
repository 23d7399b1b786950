package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// ChangeChannel is the Postgres NOTIFY channel carrying the id of every session whose
// row or roster changed.
const ChangeChannel = "quiz_session_changes"

// ChangeListener fans primary-store change notifications out to per-session subscribers.
// Subscribers receive a signal only; they re-read the session to learn what changed.
type ChangeListener struct {
	listener     *pq.Listener
	pingInterval time.Duration

	mu   sync.Mutex
	subs map[uuid.UUID]map[chan struct{}]struct{}
}

// NewChangeListener listens on ChangeChannel using its own connection to databaseURL.
func NewChangeListener(databaseURL string) (*ChangeListener, error) {
	l := pq.NewListener(
		databaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("change listener event")
			}
		},
	)
	if err := l.Listen(ChangeChannel); err != nil {
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	c := newChangeListener()
	c.listener = l
	return c, nil
}

func newChangeListener() *ChangeListener {
	return &ChangeListener{
		pingInterval: 90 * time.Second,
		subs:         make(map[uuid.UUID]map[chan struct{}]struct{}),
	}
}

// Start dispatches notifications until ctx is done
func (c *ChangeListener) Start(ctx context.Context) error {
	log.Info().Str("channel", ChangeChannel).Msg("change listener started")

	pingTicker := time.NewTicker(c.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return c.listener.Close()
		case note := <-c.listener.Notify:
			if note == nil {
				// reconnected; anything could have changed meanwhile
				c.notifyAll()
				continue
			}
			c.dispatch(note.Extra)
		case <-pingTicker.C:
			if err := c.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping change listener")
			}
		}
	}
}

// Subscribe returns a channel signalled whenever sessionID changes. Signals coalesce,
// so a slow reader sees at least one signal after the latest change.
func (c *ChangeListener) Subscribe(sessionID uuid.UUID) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	c.mu.Lock()
	if c.subs[sessionID] == nil {
		c.subs[sessionID] = make(map[chan struct{}]struct{})
	}
	c.subs[sessionID][ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs[sessionID], ch)
			if len(c.subs[sessionID]) == 0 {
				delete(c.subs, sessionID)
			}
			c.mu.Unlock()
		})
	}
}

func (c *ChangeListener) dispatch(extra string) {
	sessionID, err := uuid.Parse(extra)
	if err != nil {
		log.Warn().Str("payload", extra).Msg("ignoring malformed change notification")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.subs[sessionID] {
		signal(ch)
	}
}

func (c *ChangeListener) notifyAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, set := range c.subs {
		for ch := range set {
			signal(ch)
		}
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
