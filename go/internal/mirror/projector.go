package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/models"
	"github.com/mcdev12/quizlive/go/internal/outbox"
)

// ProjectorConfig holds configuration for the changefeed consumer
type ProjectorConfig struct {
	StreamName    string
	ConsumerName  string
	SubjectFilter string
	MaxDeliver    int           // Max delivery attempts
	AckWait       time.Duration // How long to wait for ack
	MaxAckPending int           // Max messages pending ack
}

func DefaultProjectorConfig() ProjectorConfig {
	return ProjectorConfig{
		StreamName:    "QUIZ_CHANGES",
		ConsumerName:  "quiz-mirror-projector",
		SubjectFilter: "quiz.changes.>",
		MaxDeliver:    10,
		AckWait:       30 * time.Second,
		MaxAckPending: 256,
	}
}

// Applier applies one change to the mirror.
type Applier interface {
	Apply(ctx context.Context, change models.ChangeEvent) error
}

// Projector replays the durable changefeed into the mirror so every committed
// change eventually reaches it, even when the direct write was lost.
type Projector struct {
	applier  Applier
	consumer jetstream.Consumer
	config   ProjectorConfig
}

func NewProjector(ctx context.Context, nc *nats.Conn, applier Applier, config ProjectorConfig) (*Projector, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	stream, err := js.Stream(ctx, config.StreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          config.ConsumerName,
		Durable:       config.ConsumerName,
		Description:   "Projects quiz session changes into the realtime mirror",
		FilterSubject: config.SubjectFilter,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    config.MaxDeliver,
		AckWait:       config.AckWait,
		MaxAckPending: config.MaxAckPending,
		ReplayPolicy:  jetstream.ReplayInstantPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create consumer: %w", err)
	}

	log.Info().
		Str("consumer", config.ConsumerName).
		Str("stream", config.StreamName).
		Msg("mirror projector consumer ready")

	return &Projector{applier: applier, consumer: consumer, config: config}, nil
}

// Start consumes until ctx is cancelled.
func (p *Projector) Start(ctx context.Context) error {
	messageCh := make(chan jetstream.Msg, 100)

	consumeCtx, err := p.consumer.Consume(func(msg jetstream.Msg) {
		select {
		case messageCh <- msg:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	defer consumeCtx.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("mirror projector shutting down")
			return nil
		case msg := <-messageCh:
			if err := p.handle(ctx, msg.Data()); err != nil {
				log.Error().
					Err(err).
					Str("subject", msg.Subject()).
					Msg("failed to project change")
				if nakErr := msg.Nak(); nakErr != nil {
					log.Error().Err(nakErr).Msg("failed to NAK message")
				}
				continue
			}
			if ackErr := msg.Ack(); ackErr != nil {
				log.Error().Err(ackErr).Msg("failed to ACK message")
			}
		}
	}
}

func (p *Projector) handle(ctx context.Context, data []byte) error {
	var envelope outbox.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("unmarshal envelope: %w", err)
	}

	log.Debug().
		Str("event_id", envelope.EventID).
		Str("session_id", envelope.SessionID.String()).
		Str("table", envelope.Table).
		Str("event_type", string(envelope.EventType)).
		Msg("projecting change")

	return p.applier.Apply(ctx, envelope.ChangeEvent)
}
