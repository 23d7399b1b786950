package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/quizlive/go/internal/clocksync"
)

func setupServer(port string, services *Services, b *Backends) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	// Register services
	registerServices(mux, services)

	// Add health check endpoint
	setupHealthCheck(mux, b)

	// Attach the caller to every request, then wrap with CORS
	handler := c.Handler(services.Auth.Middleware(mux))

	// Setup HTTP/2 server
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	// Register session service
	sessionServicePath, sessionServiceHandler := services.Session.Handler()
	mux.Handle(sessionServicePath, sessionServiceHandler)

	// Join links and QR payloads
	services.Join.Register(mux)

	// Server clock for client offset estimation
	mux.Handle(clocksync.TimePath, services.Clock)
}

func setupHealthCheck(mux *http.ServeMux, b *Backends) {
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := b.DB.PingContext(r.Context()); err != nil {
			log.Error().Err(err).Msg("health check: database unreachable")
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})
}
