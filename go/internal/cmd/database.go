package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/config"
	"github.com/mcdev12/quizlive/go/internal/countdown"
	"github.com/mcdev12/quizlive/go/internal/dbconfig"
	"github.com/mcdev12/quizlive/go/internal/mirror"
	"github.com/mcdev12/quizlive/go/internal/outbox"
)

// Backends holds every connection the API server opens
type Backends struct {
	DB     *sql.DB
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	NATS   *nats.Conn
	Mirror *mirror.Store

	Countdowns countdown.Broadcaster
}

func setupBackends(ctx context.Context, cfg config.Config) (*Backends, error) {
	database, err := dbconfig.OpenSQL(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	b := &Backends{DB: database}

	b.Pool, err = dbconfig.OpenPool(ctx, cfg.Database)
	if err != nil {
		b.Close()
		return nil, err
	}

	if cfg.MirrorEnabled() {
		b.Redis, err = mirror.NewClient(ctx, mirror.Options{
			Addr:     cfg.Mirror.RedisAddr,
			Password: cfg.Mirror.RedisPassword,
			DB:       cfg.Mirror.RedisDB,
		})
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Mirror = mirror.NewStore(b.Redis, cfg.Mirror.TTL)
		b.Countdowns = countdown.NewRedisBroadcaster(b.Redis)
		return b, nil
	}

	// without Redis, countdowns ride on NATS core subjects
	log.Warn().Msg("REDIS_ADDR not set, running without the realtime mirror")
	jsCfg := outbox.DefaultJetStreamConfig()
	b.NATS, err = outbox.ConnectNATS(cfg.NATSURL, jsCfg.MaxReconnects, jsCfg.ReconnectWait)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("countdown transport: %w", err)
	}
	b.Countdowns = countdown.NewNATSBroadcaster(b.NATS)
	return b, nil
}

func (b *Backends) Close() {
	if b.NATS != nil {
		b.NATS.Close()
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close redis client")
		}
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
	if b.DB != nil {
		if err := b.DB.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}
}
