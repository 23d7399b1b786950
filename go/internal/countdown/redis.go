package countdown

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

func redisChannel(sessionID uuid.UUID) string {
	return "quiz:countdown:" + sessionID.String()
}

// RedisBroadcaster uses Redis pub/sub. Nothing is persisted.
type RedisBroadcaster struct {
	rdb *redis.Client
}

func NewRedisBroadcaster(rdb *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{rdb: rdb}
}

func (b *RedisBroadcaster) Broadcast(ctx context.Context, sessionID uuid.UUID, evt Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal countdown: %w", err)
	}
	receivers, err := b.rdb.Publish(ctx, redisChannel(sessionID), payload).Result()
	if err != nil {
		return fmt.Errorf("publish countdown: %w", err)
	}
	log.Info().
		Str("session_id", sessionID.String()).
		Int64("started_at", evt.StartedAt).
		Int64("receivers", receivers).
		Msg("countdown broadcast")
	return nil
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan Event, func(), error) {
	pubsub := b.rdb.Subscribe(ctx, redisChannel(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe countdown: %w", err)
	}

	out := make(chan Event, 4)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			evt, err := decode([]byte(msg.Payload))
			if err != nil {
				log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("dropping countdown payload")
				continue
			}
			select {
			case out <- evt:
			default:
				log.Warn().Str("session_id", sessionID.String()).Msg("countdown listener busy, dropping event")
			}
		}
	}()

	return out, func() { pubsub.Close() }, nil
}

func decode(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	if err := evt.Validate(); err != nil {
		return Event{}, err
	}
	return evt, nil
}
