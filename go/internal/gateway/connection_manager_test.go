package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/quizlive/go/internal/countdown"
)

// slowCountdowns blocks Subscribe until release is closed
type slowCountdowns struct {
	entered chan struct{}
	release chan struct{}
}

func (s *slowCountdowns) Broadcast(ctx context.Context, sessionID uuid.UUID, evt countdown.Event) error {
	return nil
}

func (s *slowCountdowns) Subscribe(ctx context.Context, sessionID uuid.UUID) (<-chan countdown.Event, func(), error) {
	close(s.entered)
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	return make(chan countdown.Event), func() {}, nil
}

func bareConnection(cm *ConnectionManager, sessionID uuid.UUID) *Connection {
	return &Connection{
		ID:        uuid.NewString(),
		UserID:    uuid.New(),
		SessionID: sessionID,
		Manager:   cm,
		send:      make(chan []byte, 1),
		done:      make(chan struct{}),
	}
}

func TestRegisterConnectionSubscribesOutsideLock(t *testing.T) {
	cds := &slowCountdowns{entered: make(chan struct{}), release: make(chan struct{})}
	cm := NewConnectionManager(DefaultConnectionConfig(), cds)
	sessionID := uuid.New()
	conn := bareConnection(cm, sessionID)

	registered := make(chan struct{})
	go func() {
		cm.registerConnection(conn)
		close(registered)
	}()

	select {
	case <-cds.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe was never called")
	}

	statsCh := make(chan Stats, 1)
	go func() { statsCh <- cm.GetConnectionStats() }()
	select {
	case stats := <-statsCh:
		if stats.TotalConnections != 1 || stats.ActiveSessions != 1 {
			t.Fatalf("stats = %+v", stats)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("stats blocked while a countdown subscription was in flight")
	}

	close(cds.release)
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("registerConnection did not return")
	}

	cm.unregisterConnection(conn)
	if stats := cm.GetConnectionStats(); stats.ActiveSessions != 0 {
		t.Fatalf("stats after unregister = %+v", stats)
	}
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if len(cm.watchers) != 0 {
		t.Fatalf("watchers left behind: %d", len(cm.watchers))
	}
}

func TestUnregisterDuringSubscribeCancelsWatcher(t *testing.T) {
	cds := &slowCountdowns{entered: make(chan struct{}), release: make(chan struct{})}
	cm := NewConnectionManager(DefaultConnectionConfig(), cds)
	conn := bareConnection(cm, uuid.New())

	registered := make(chan struct{})
	go func() {
		cm.registerConnection(conn)
		close(registered)
	}()
	<-cds.entered

	cm.unregisterConnection(conn)
	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight subscription was not cancelled")
	}
}
