package countdown

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSBroadcaster uses core NATS subjects (not JetStream) so events are never stored.
type NATSBroadcaster struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSBroadcaster(nc *nats.Conn) *NATSBroadcaster {
	return &NATSBroadcaster{nc: nc, prefix: "quiz.countdown"}
}

func (b *NATSBroadcaster) subject(sessionID uuid.UUID) string {
	return fmt.Sprintf("%s.%s", b.prefix, sessionID.String())
}

func (b *NATSBroadcaster) Broadcast(ctx context.Context, sessionID uuid.UUID, evt Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal countdown: %w", err)
	}
	if err := b.nc.Publish(b.subject(sessionID), payload); err != nil {
		return fmt.Errorf("publish countdown: %w", err)
	}
	log.Info().
		Str("session_id", sessionID.String()).
		Int64("started_at", evt.StartedAt).
		Msg("countdown broadcast")
	return nil
}

func (b *NATSBroadcaster) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan Event, func(), error) {
	out := make(chan Event, 4)
	sub, err := b.nc.Subscribe(b.subject(sessionID), func(msg *nats.Msg) {
		evt, err := decode(msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("dropping countdown payload")
			return
		}
		select {
		case out <- evt:
		default:
			log.Warn().Str("session_id", sessionID.String()).Msg("countdown listener busy, dropping event")
		}
	})
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe countdown: %w", err)
	}

	cancel := func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Debug().Err(err).Msg("countdown unsubscribe")
		}
	}
	return out, cancel, nil
}
