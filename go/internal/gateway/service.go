package gateway

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/countdown"
)

// Service is the room gateway: websocket connections plus countdown fan-out
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
}

// Config holds configuration for the room gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the room gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new room gateway service. countdowns may be nil, in which
// case clients move on from the room only when the status changes.
func NewService(config Config, deps RoomDeps, countdowns countdown.Broadcaster) *Service {
	connectionManager := NewConnectionManager(config.ConnectionConfig, countdowns)
	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, deps),
	}
}

// Start runs the gateway until ctx is done
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting room gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("room gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	log.Info().Msg("room gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() Stats {
	return s.connectionManager.GetConnectionStats()
}
