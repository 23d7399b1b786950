package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/auth"
	"github.com/mcdev12/quizlive/go/internal/countdown"
	"github.com/mcdev12/quizlive/go/internal/mirror"
	"github.com/mcdev12/quizlive/go/internal/models"
	"github.com/mcdev12/quizlive/go/internal/profile"
	"github.com/mcdev12/quizlive/go/internal/room"
)

// FeedFactory opens the change feed a room connection reconciles against
type FeedFactory func(ctx context.Context, sessionID uuid.UUID) (room.Feed, error)

// MirrorFeeds builds feeds from the mirror's pub/sub channels
func MirrorFeeds(store *mirror.Store) FeedFactory {
	return func(ctx context.Context, sessionID uuid.UUID) (room.Feed, error) {
		sub, err := store.Subscribe(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		return room.NewMirrorFeed(sub), nil
	}
}

// PrimaryFeeds builds feeds that re-read the primary store on change notifications
func PrimaryFeeds(reader room.SessionReader, changes room.ChangeSubscriber, clock clockwork.Clock, pollInterval time.Duration) FeedFactory {
	return func(ctx context.Context, sessionID uuid.UUID) (room.Feed, error) {
		return room.NewPrimaryFeed(ctx, reader, changes, sessionID, clock, pollInterval), nil
	}
}

// RoomDeps are what each room connection needs to build its reconciler
type RoomDeps struct {
	Auth     *auth.Authenticator
	Reader   room.SessionReader
	Leaver   room.Leaver
	Profiles profile.Lookup
	Feeds    FeedFactory
}

// WebSocketHandler handles WebSocket upgrade requests for waiting rooms
type WebSocketHandler struct {
	connectionManager *ConnectionManager
	deps              RoomDeps
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(cm *ConnectionManager, deps RoomDeps) *WebSocketHandler {
	return &WebSocketHandler{
		connectionManager: cm,
		deps:              deps,
	}
}

// HandleRoomConnection upgrades a player into the waiting room of one session
func (h *WebSocketHandler) HandleRoomConnection(w http.ResponseWriter, r *http.Request) {
	userID, err := h.deps.Auth.FromRequest(r)
	if err != nil {
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	sessionID, err := uuid.Parse(r.URL.Query().Get("session_id"))
	if err != nil {
		http.Error(w, "invalid session_id format", http.StatusBadRequest)
		return
	}
	var participantID uuid.UUID
	if raw := r.URL.Query().Get("participant_id"); raw != "" {
		if participantID, err = uuid.Parse(raw); err != nil {
			http.Error(w, "invalid participant_id format", http.StatusBadRequest)
			return
		}
	}

	// the connection outlives the request context once hijacked
	ctx, cancel := context.WithCancel(context.Background())

	// subscribe before the reconciler's initial read so no change is missed in between
	feed, err := h.deps.Feeds(ctx, sessionID)
	if err != nil {
		cancel()
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to open room feed")
		http.Error(w, "room feed unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.connectionManager.UpgradeConnection(w, r, userID, sessionID)
	if err != nil {
		feed.Close()
		cancel()
		log.Error().
			Err(err).
			Str("session_id", sessionID.String()).
			Str("user_id", userID.String()).
			Msg("failed to upgrade WebSocket connection")
		return
	}

	view := &viewWriter{conn: conn}
	rec := room.NewReconciler(room.Config{
		SessionID:     sessionID,
		UserID:        userID,
		ParticipantID: participantID,
	}, room.Deps{
		Reader:   h.deps.Reader,
		Profiles: h.deps.Profiles,
		Leaver:   h.deps.Leaver,
		Feed:     feed,
		Navigate: view.navigate,
		OnView:   view.render,
	})

	conn.Serve(Handlers{
		OnMessage: func(msg *Message) {
			if msg.Type == MessageTypeLeave {
				rec.Leave(ctx)
			}
		},
		OnCountdown: func(evt countdown.Event) {
			if err := rec.HandleCountdown(evt); err != nil {
				log.Warn().Err(err).Str("connection_id", conn.ID).Msg("dropping bad countdown")
			}
		},
		OnClose: cancel,
	})

	go func() {
		defer cancel()
		defer conn.Close()

		if err := rec.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Str("connection_id", conn.ID).Msg("room reconciler stopped")
			view.send(MessageTypeError, ErrorPayload{Message: err.Error()})
		}
	}()
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetConnectionStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode connection stats")
	}
}

// RegisterRoutes registers WebSocket routes with an HTTP mux
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/room", h.HandleRoomConnection)
	mux.HandleFunc("/ws/stats", h.HandleConnectionStats)
}

// viewWriter turns reconciler callbacks into frames. Its callbacks run on the
// reconciler's goroutine, except navigate which may also come from Leave.
type viewWriter struct {
	conn       *Connection
	lastStatus models.SessionStatus
}

func (v *viewWriter) render(view room.View) {
	if view.Status != v.lastStatus {
		v.lastStatus = view.Status
		v.send(MessageTypeStatus, StatusPayload{Status: view.Status})
	}
	v.send(MessageTypeRoster, view)
}

func (v *viewWriter) navigate(nav room.Navigation) {
	v.send(MessageTypeNavigate, NavigatePayload{Navigation: nav, URL: nav.URL()})
}

func (v *viewWriter) send(t MessageType, payload interface{}) {
	msg, err := NewMessage(t, payload)
	if err == nil {
		err = v.conn.Send(msg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Debug().Err(err).Str("connection_id", v.conn.ID).Str("type", string(t)).Msg("dropping frame")
	}
}
