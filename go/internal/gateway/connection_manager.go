package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/quizlive/go/internal/countdown"
)

// ConnectionManager manages WebSocket connections for waiting rooms
type ConnectionManager struct {
	// Connection pools organized by session ID
	sessionConnections map[uuid.UUID]map[*Connection]bool
	watchers           map[uuid.UUID]context.CancelFunc
	mu                 sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage

	// countdowns is optional; when set every session with an open connection
	// has one subscription to it.
	countdowns countdown.Broadcaster
	ctx        context.Context
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID        string
	UserID    uuid.UUID
	SessionID uuid.UUID
	Conn      *websocket.Conn
	Manager   *ConnectionManager

	ConnectedAt time.Time
	lastPing    atomic.Int64

	send     chan []byte
	sendMu   sync.Mutex
	closed   bool
	done     chan struct{}
	handlers Handlers
}

// Handlers are the callbacks a connection invokes. Any may be nil.
type Handlers struct {
	OnMessage   func(msg *Message)
	OnCountdown func(evt countdown.Event)
	OnClose     func()
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	// CountdownSeconds is reported to clients alongside each countdown start
	CountdownSeconds int
	CheckOrigin      func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to a session's connections
type BroadcastMessage struct {
	SessionID uuid.UUID
	Message   *Message
	// Countdown, when set, is also handed to each connection's countdown handler.
	Countdown *countdown.Event
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:     10 * time.Second,
		ReadTimeout:      60 * time.Second,
		PingInterval:     30 * time.Second,
		MaxMessageSize:   1024,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		SendBufferSize:   256,
		CountdownSeconds: 5,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, countdowns countdown.Broadcaster) *ConnectionManager {
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	return &ConnectionManager{
		sessionConnections: make(map[uuid.UUID]map[*Connection]bool),
		watchers:           make(map[uuid.UUID]context.CancelFunc),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
		countdowns:  countdowns,
		ctx:         context.Background(),
	}
}

// Start processes broadcast messages until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	cm.mu.Lock()
	cm.ctx = ctx
	cm.mu.Unlock()

	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. The connection joins its
// session's pool when Serve is called.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID, sessionID uuid.UUID) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		SessionID:   sessionID,
		Conn:        conn,
		Manager:     cm,
		ConnectedAt: time.Now(),
		send:        make(chan []byte, cm.config.SendBufferSize),
		done:        make(chan struct{}),
	}
	connection.lastPing.Store(time.Now().UnixNano())

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID.String()).
		Str("session_id", sessionID.String()).
		Msg("WebSocket connection established")

	return connection, nil
}

// registerConnection adds a connection to the manager. The first connection of a
// session also opens its countdown subscription, outside cm.mu.
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	var watchCtx context.Context
	if cm.sessionConnections[conn.SessionID] == nil {
		cm.sessionConnections[conn.SessionID] = make(map[*Connection]bool)
		if cm.countdowns != nil {
			var cancel context.CancelFunc
			watchCtx, cancel = context.WithCancel(cm.ctx)
			cm.watchers[conn.SessionID] = cancel
		}
	}
	cm.sessionConnections[conn.SessionID][conn] = true
	total := len(cm.sessionConnections[conn.SessionID])
	cm.mu.Unlock()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID.String()).
		Int("total_connections", total).
		Msg("connection registered")

	if watchCtx != nil {
		cm.startWatcher(watchCtx, conn.SessionID)
	}
}

// unregisterConnection removes a connection from the manager. Messages already queued
// are still written before the close frame.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	connections, exists := cm.sessionConnections[conn.SessionID]
	if !exists {
		return
	}
	if _, exists := connections[conn]; !exists {
		return
	}

	delete(connections, conn)
	conn.closeSend()

	if len(connections) == 0 {
		delete(cm.sessionConnections, conn.SessionID)
		if cancel, ok := cm.watchers[conn.SessionID]; ok {
			cancel()
			delete(cm.watchers, conn.SessionID)
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID.String()).
		Str("session_id", conn.SessionID.String()).
		Msg("connection unregistered")
}

// startWatcher subscribes to countdowns for a session until ctx is cancelled, which
// happens when the session's last connection goes away.
func (cm *ConnectionManager) startWatcher(ctx context.Context, sessionID uuid.UUID) {
	events, unsubscribe, err := cm.countdowns.Subscribe(ctx, sessionID)
	if err != nil {
		if ctx.Err() == nil {
			log.Error().Err(err).Str("session_id", sessionID.String()).Msg("failed to subscribe to countdowns")
		}
		return
	}

	go func() {
		defer unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-events:
				if !ok {
					return
				}
				cm.BroadcastCountdown(sessionID, evt)
			}
		}
	}()
}

// BroadcastToSession sends a message to all connections for a session
func (cm *ConnectionManager) BroadcastToSession(sessionID uuid.UUID, msg *Message) {
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionID: sessionID, Message: msg}:
	default:
		log.Warn().Str("session_id", sessionID.String()).Msg("broadcast channel full, dropping message")
	}
}

// BroadcastCountdown fans a countdown start out to every connection for a session
func (cm *ConnectionManager) BroadcastCountdown(sessionID uuid.UUID, evt countdown.Event) {
	msg, err := NewMessage(MessageTypeCountdown, CountdownPayload{Event: evt, Seconds: cm.config.CountdownSeconds})
	if err != nil {
		log.Error().Err(err).Msg("failed to build countdown message")
		return
	}
	select {
	case cm.broadcastCh <- BroadcastMessage{SessionID: sessionID, Message: msg, Countdown: &evt}:
	default:
		log.Warn().Str("session_id", sessionID.String()).Msg("broadcast channel full, dropping countdown")
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.sessionConnections[message.SessionID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	targetConnections := make([]*Connection, 0, len(connections))
	for conn := range connections {
		targetConnections = append(targetConnections, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.Message)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal message for broadcast")
		return
	}

	for _, conn := range targetConnections {
		if !conn.enqueue(data) {
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID.String()).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
			continue
		}
		if message.Countdown != nil && conn.handlers.OnCountdown != nil {
			conn.handlers.OnCountdown(*message.Countdown)
		}
	}

	log.Debug().
		Str("message_type", string(message.Message.Type)).
		Str("session_id", message.SessionID.String()).
		Int("connections", len(targetConnections)).
		Msg("message broadcasted")
}

// Stats describes the connections currently held
type Stats struct {
	TotalConnections   int            `json:"total_connections"`
	ActiveSessions     int            `json:"active_sessions"`
	SessionConnections map[string]int `json:"session_connections"`
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() Stats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := Stats{
		ActiveSessions:     len(cm.sessionConnections),
		SessionConnections: make(map[string]int, len(cm.sessionConnections)),
	}
	for sessionID, connections := range cm.sessionConnections {
		stats.TotalConnections += len(connections)
		stats.SessionConnections[sessionID.String()] = len(connections)
	}
	return stats
}

// Serve registers the connection with its session pool and starts the pumps
func (c *Connection) Serve(handlers Handlers) {
	c.handlers = handlers
	c.Manager.registerConnection(c)
	go c.writePump()
	go c.readPump()
}

// Send queues msg for this connection only
func (c *Connection) Send(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if !c.enqueue(data) {
		return fmt.Errorf("connection %s is closed or saturated", c.ID)
	}
	return nil
}

// Close flushes queued messages, then closes the socket
func (c *Connection) Close() {
	c.Manager.unregisterConnection(c)
}

// Done is closed once the read pump exits
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// LastPing is when the peer last answered a ping
func (c *Connection) LastPing() time.Time {
	return time.Unix(0, c.lastPing.Load())
}

func (c *Connection) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
		close(c.done)
		if c.handlers.OnClose != nil {
			c.handlers.OnClose()
		}
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.lastPing.Store(time.Now().UnixNano())
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(raw)
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes messages received from the client
func (c *Connection) handleClientMessage(raw []byte) {
	msg, err := ParseClientMessage(raw)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("ignoring client message")
		return
	}
	log.Debug().
		Str("connection_id", c.ID).
		Str("user_id", c.UserID.String()).
		Str("type", string(msg.Type)).
		Msg("received client message")

	if c.handlers.OnMessage != nil {
		c.handlers.OnMessage(msg)
	}
}
