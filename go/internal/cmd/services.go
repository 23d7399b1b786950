package main

import (
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/quizlive/go/internal/auth"
	"github.com/mcdev12/quizlive/go/internal/clocksync"
	"github.com/mcdev12/quizlive/go/internal/config"
	"github.com/mcdev12/quizlive/go/internal/profile"
	"github.com/mcdev12/quizlive/go/internal/session"
	sessiondb "github.com/mcdev12/quizlive/go/internal/session/db"
)

type Services struct {
	Auth    *auth.Authenticator
	Session *session.Service
	Join    *session.HTTPHandler
	Clock   *clocksync.Handler
}

func setupServices(cfg config.Config, b *Backends) *Services {
	// Wire up dependency injection chain
	// Database layer → Repository layer → App layer → Service layer
	clock := clockwork.NewRealClock()

	queries := sessiondb.New(b.DB)
	sessionRepo := session.NewRepository(queries, b.DB)

	var m session.Mirror
	if b.Mirror != nil {
		m = b.Mirror
	}

	appConfig := session.DefaultAppConfig()
	appConfig.CountdownSeconds = cfg.Game.CountdownSeconds
	sessionApp := session.NewApp(sessionRepo, m, profile.NewRepository(b.Pool), b.Countdowns, clock, appConfig)

	return &Services{
		Auth:    auth.NewAuthenticator(cfg.JWTSecret, 24*time.Hour),
		Session: session.NewService(sessionApp),
		Join:    session.NewHTTPHandler(sessionApp, cfg.PublicBaseURL),
		Clock:   clocksync.NewHandler(clock),
	}
}
