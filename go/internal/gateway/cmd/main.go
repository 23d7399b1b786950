package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/auth"
	"github.com/mcdev12/quizlive/go/internal/config"
	"github.com/mcdev12/quizlive/go/internal/countdown"
	"github.com/mcdev12/quizlive/go/internal/dbconfig"
	"github.com/mcdev12/quizlive/go/internal/gateway"
	"github.com/mcdev12/quizlive/go/internal/mirror"
	"github.com/mcdev12/quizlive/go/internal/outbox"
	"github.com/mcdev12/quizlive/go/internal/profile"
	"github.com/mcdev12/quizlive/go/internal/session"
	sessiondb "github.com/mcdev12/quizlive/go/internal/session/db"
)

const primaryPollInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	config.SetupLogging(cfg.LogLevel)

	if cfg.JWTSecret == "" {
		log.Fatal().Msg("JWT_SECRET environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := dbconfig.OpenSQL(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	pool, err := dbconfig.OpenPool(ctx, cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create profile pool")
	}
	defer pool.Close()

	clock := clockwork.NewRealClock()

	var (
		feeds      gateway.FeedFactory
		countdowns countdown.Broadcaster
		store      *mirror.Store
		sessionApp *session.App
	)
	if cfg.MirrorEnabled() {
		rdb, err := mirror.NewClient(ctx, mirror.Options{
			Addr:     cfg.Mirror.RedisAddr,
			Password: cfg.Mirror.RedisPassword,
			DB:       cfg.Mirror.RedisDB,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mirror")
		}
		defer rdb.Close()

		store = mirror.NewStore(rdb, cfg.Mirror.TTL)
		sessionApp = setupSessionApp(db, store, clock)
		feeds = gateway.MirrorFeeds(store)
		countdowns = countdown.NewRedisBroadcaster(rdb)
	} else {
		sessionApp = setupSessionApp(db, nil, clock)
		changes, err := session.NewChangeListener(cfg.Database.DSN())
		if err != nil {
			log.Fatal().Err(err).Msg("failed to listen for session changes")
		}
		go func() {
			if err := changes.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("change listener stopped")
			}
		}()
		feeds = gateway.PrimaryFeeds(sessionApp, changes, clock, primaryPollInterval)

		jsCfg := outbox.DefaultJetStreamConfig()
		nc, err := outbox.ConnectNATS(cfg.NATSURL, jsCfg.MaxReconnects, jsCfg.ReconnectWait)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		defer nc.Close()
		countdowns = countdown.NewNATSBroadcaster(nc)
	}

	gatewayConfig := gateway.DefaultConfig()
	gatewayConfig.ConnectionConfig.CountdownSeconds = cfg.Game.CountdownSeconds

	gatewayService := gateway.NewService(gatewayConfig, gateway.RoomDeps{
		Auth:     auth.NewAuthenticator(cfg.JWTSecret, 24*time.Hour),
		Reader:   sessionApp,
		Leaver:   sessionApp,
		Profiles: profile.NewRepository(pool),
		Feeds:    feeds,
	}, countdowns)

	mux := http.NewServeMux()
	gatewayService.RegisterRoutes(mux)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"service":     "quizlive-gateway",
			"mirror":      store != nil,
			"connections": gatewayService.GetStats().TotalConnections,
		})
	})

	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.GatewayPort),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		if err := gatewayService.Start(ctx); err != nil {
			log.Error().Err(err).Msg("gateway service failed")
		}
	}()

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Bool("mirror", store != nil).
			Msg("room gateway starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("room gateway shutdown complete")
}

// setupSessionApp builds the app the gateway reads rosters through and removes
// leaving players with. store may be nil.
func setupSessionApp(db *sql.DB, store *mirror.Store, clock clockwork.Clock) *session.App {
	var m session.Mirror
	if store != nil {
		m = store
	}
	repo := session.NewRepository(sessiondb.New(db), db)
	return session.NewApp(repo, m, nil, nil, clock, session.DefaultAppConfig())
}
