package outbox

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type flakyPublisher struct {
	mu        sync.Mutex
	failures  int
	calls     int
	published []OutboxEvent
}

func (p *flakyPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failures > 0 {
		p.failures--
		return errors.New("nats: no responders")
	}
	p.published = append(p.published, event)
	return nil
}

func testListener(store EventStore, pub Publisher) *Listener {
	cfg := DefaultListenerConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetries = 3
	return &Listener{store: store, publisher: pub, cfg: cfg}
}

func TestPublishWithRetryRecovers(t *testing.T) {
	pub := &flakyPublisher{failures: 2}
	l := testListener(NewApp(newFakeRepo()), pub)

	if err := l.publishWithRetry(context.Background(), participantEvent(t, uuid.New())); err != nil {
		t.Fatalf("expected publish to succeed after retries, got %v", err)
	}
	if pub.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", pub.calls)
	}
	if processed, last := l.Stats(); processed != 1 || last.IsZero() {
		t.Fatalf("expected stats to record 1 event, got %d at %v", processed, last)
	}
}

func TestPublishWithRetryGivesUp(t *testing.T) {
	pub := &flakyPublisher{failures: 100}
	l := testListener(NewApp(newFakeRepo()), pub)

	if err := l.publishWithRetry(context.Background(), participantEvent(t, uuid.New())); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if pub.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d", pub.calls)
	}
}

func TestHandleNotificationPublishesAndMarksSent(t *testing.T) {
	event := participantEvent(t, uuid.New())
	repo := newFakeRepo(event)
	pub := &flakyPublisher{}
	l := testListener(NewApp(repo), pub)

	if err := l.handleNotification(context.Background(), event.ID.String()); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(pub.published) != 1 || pub.published[0].ID != event.ID {
		t.Fatalf("expected event to be published, got %+v", pub.published)
	}
	if !repo.isSent(event.ID) {
		t.Fatal("expected event marked sent")
	}

	// a second notification for the same row finds nothing to send
	if err := l.handleNotification(context.Background(), event.ID.String()); err == nil {
		t.Fatal("expected error for already sent event")
	}
}

func TestHandleNotificationRejectsGarbage(t *testing.T) {
	l := testListener(NewApp(newFakeRepo()), &flakyPublisher{})
	if err := l.handleNotification(context.Background(), "not-a-uuid"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestProcessUnsentRelaysBacklog(t *testing.T) {
	sessionID := uuid.New()
	a, b := participantEvent(t, sessionID), participantEvent(t, sessionID)
	repo := newFakeRepo(a, b)
	pub := &flakyPublisher{}
	l := testListener(NewApp(repo), pub)

	if err := l.processUnsent(context.Background()); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(pub.published) != 2 {
		t.Fatalf("expected 2 published, got %d", len(pub.published))
	}
	if !repo.isSent(a.ID) || !repo.isSent(b.ID) {
		t.Fatal("expected both events marked sent")
	}
}

type stubRelay struct {
	running bool
}

func (s stubRelay) Stats() (uint64, time.Time) { return 7, time.Now() }
func (s stubRelay) Running() bool              { return s.running }

type stubPinger struct{ err error }

func (s stubPinger) PingContext(ctx context.Context) error { return s.err }

type stubNATS bool

func (s stubNATS) IsConnected() bool { return bool(s) }

func TestHealthCheckerServeHTTP(t *testing.T) {
	repo := newFakeRepo()
	repo.pending = 2
	checker := NewRealtimeHealthChecker(stubRelay{running: true}, stubPinger{}, stubNATS(true), NewApp(repo), time.Minute)

	rec := httptest.NewRecorder()
	checker.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	down := NewRealtimeHealthChecker(stubRelay{running: false}, stubPinger{err: errors.New("refused")}, stubNATS(false), NewApp(repo), time.Minute)
	status := down.Check(context.Background())
	if status.Healthy {
		t.Fatal("expected unhealthy status")
	}
	if len(status.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %v", status.Errors)
	}
}
