package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/config"
	"github.com/mcdev12/quizlive/go/internal/dbconfig"
	"github.com/mcdev12/quizlive/go/internal/housekeeping"
	"github.com/mcdev12/quizlive/go/internal/mirror"
	"github.com/mcdev12/quizlive/go/internal/outbox"
	outboxdb "github.com/mcdev12/quizlive/go/internal/outbox/db"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	config.SetupLogging(cfg.LogLevel)

	// signal-aware context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := dbconfig.OpenSQL(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	pool, err := dbconfig.OpenPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("open housekeeping pool")
	}
	defer pool.Close()

	outboxApp := outbox.NewApp(outbox.NewRepository(outboxdb.New(db)))

	// JetStream publisher
	jsCfg := outbox.DefaultJetStreamConfig()
	jsCfg.URL = cfg.NATSURL
	publisher, err := outbox.NewJetStreamPublisher(jsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create JetStream publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("close publisher")
		}
	}()

	// Listener config
	ltCfg := outbox.DefaultListenerConfig()
	ltCfg.DatabaseURL = cfg.Database.DSN()
	ltCfg.FallbackInterval = cfg.Outbox.FallbackInterval

	listener, err := outbox.NewListener(outboxApp, publisher, ltCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("create outbox listener")
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Msg("starting outbox relay")
		errCh <- listener.Start(ctx)
	}()

	// Mirror projector replays the changefeed into Redis
	if cfg.MirrorEnabled() {
		rdb, err := mirror.NewClient(ctx, mirror.Options{
			Addr:     cfg.Mirror.RedisAddr,
			Password: cfg.Mirror.RedisPassword,
			DB:       cfg.Mirror.RedisDB,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("connect mirror")
		}
		defer rdb.Close()

		projector, err := mirror.NewProjector(ctx, publisher.Conn(), mirror.NewStore(rdb, cfg.Mirror.TTL), mirror.DefaultProjectorConfig())
		if err != nil {
			log.Fatal().Err(err).Msg("create mirror projector")
		}
		go func() {
			log.Info().Msg("starting mirror projector")
			errCh <- projector.Start(ctx)
		}()
	}

	// Housekeeping
	hkCfg := housekeeping.DefaultConfig()
	hkCfg.Schedule = cfg.Housekeeping.Schedule
	hkCfg.FinishedRetention = cfg.Housekeeping.FinishedRetention
	hkCfg.OutboxRetention = cfg.Housekeeping.OutboxRetention
	scheduler := housekeeping.NewScheduler(pool, outboxApp, clockwork.NewRealClock(), hkCfg)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start housekeeping")
	}
	defer scheduler.Stop()

	// Health
	health := outbox.NewRealtimeHealthChecker(listener, db, publisher.Conn(), outboxApp, 5*time.Minute)
	mux := http.NewServeMux()
	mux.Handle("/health", health)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.RelayPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("health server failed")
		}
	}()

	// wait for shutdown or error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("relay component exited unexpectedly")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("health server shutdown failed")
	}
	log.Info().Msg("graceful shutdown complete")
}
