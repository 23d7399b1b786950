package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/quizlive/go/internal/countdown"
	"github.com/mcdev12/quizlive/go/internal/models"
	"github.com/mcdev12/quizlive/go/internal/session"
)

type stubReader struct {
	mu      sync.Mutex
	session *models.GameSession
	err     error
	reads   int
}

func (s *stubReader) GetSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	c := *s.session
	c.Participants = append([]models.Participant{}, s.session.Participants...)
	return &c, nil
}

func (s *stubReader) set(fn func(*models.GameSession)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.session)
}

type chanFeed struct {
	ch     chan Update
	closed bool
}

func newChanFeed() *chanFeed { return &chanFeed{ch: make(chan Update, 16)} }

func (f *chanFeed) Updates() <-chan Update { return f.ch }
func (f *chanFeed) Close() error           { f.closed = true; return nil }

type failingLeaver struct{ calls int }

func (l *failingLeaver) Leave(ctx context.Context, userID, sessionID, participantID uuid.UUID) error {
	l.calls++
	return errors.New("network down")
}

type profileStub map[uuid.UUID]models.Profile

func (p profileStub) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	out := make(map[uuid.UUID]models.Profile)
	for _, id := range ids {
		if prof, ok := p[id]; ok {
			out[id] = prof
		}
	}
	return out, nil
}

type harness struct {
	reader  *stubReader
	feed    *chanFeed
	navs    chan Navigation
	views   chan View
	rec     *Reconciler
	self    models.Participant
	other   models.Participant
	userID  uuid.UUID
	session *models.GameSession
}

func participant(userID uuid.UUID, nickname string, joined time.Time) models.Participant {
	return models.Participant{ID: uuid.New(), UserID: &userID, Nickname: nickname, JoinedAt: joined}
}

func newHarness(t *testing.T, leaver Leaver) *harness {
	t.Helper()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	h := &harness{
		feed:   newChanFeed(),
		navs:   make(chan Navigation, 4),
		views:  make(chan View, 32),
		userID: uuid.New(),
	}
	h.self = participant(h.userID, "Ada", now)
	h.other = participant(uuid.New(), "Bo", now.Add(time.Second))
	h.session = &models.GameSession{
		ID:           uuid.New(),
		GamePin:      "780674",
		Status:       models.SessionStatusWaiting,
		Participants: []models.Participant{h.other, h.self},
	}
	h.reader = &stubReader{session: h.session}
	h.rec = NewReconciler(Config{SessionID: h.session.ID, UserID: h.userID}, Deps{
		Reader:   h.reader,
		Profiles: profileStub{h.userID: {UserID: h.userID, Username: "ada", AvatarURL: "https://img/ada.png"}},
		Leaver:   leaver,
		Feed:     h.feed,
		Navigate: func(n Navigation) { h.navs <- n },
		OnView:   func(v View) { h.views <- v },
	})
	return h
}

func (h *harness) run(t *testing.T) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- h.rec.Run(context.Background()) }()
	select {
	case <-h.views:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial view")
	}
	return done
}

func (h *harness) expectNav(t *testing.T, route, reason string) Navigation {
	t.Helper()
	select {
	case n := <-h.navs:
		if n.Route != route || n.Reason != reason {
			t.Fatalf("expected %s (%s), got %s (%s)", route, reason, n.Route, n.Reason)
		}
		return n
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for navigation to %s", route)
	}
	return Navigation{}
}

func participantChange(kind models.ChangeType, sessionID uuid.UUID, p models.Participant) *models.ChangeEvent {
	raw, _ := json.Marshal(p)
	change := &models.ChangeEvent{EventType: kind, Table: models.TableSessionParticipants, SessionID: sessionID}
	if kind == models.ChangeDelete {
		change.Old = raw
	} else {
		change.New = raw
	}
	return change
}

func TestReconcilerResolvesAndRendersDecoratedRoster(t *testing.T) {
	h := newHarness(t, nil)
	done := make(chan error, 1)
	go func() { done <- h.rec.Run(context.Background()) }()

	var view View
	select {
	case view = <-h.views:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for view")
	}
	if h.rec.ParticipantID() != h.self.ID {
		t.Fatalf("expected participant %s, got %s", h.self.ID, h.rec.ParticipantID())
	}
	if h.rec.State() != StateLive && h.rec.State() != StateLoading {
		t.Fatalf("unexpected state %s", h.rec.State())
	}
	if len(view.Participants) != 2 || view.Participants[0].ID != h.self.ID {
		t.Fatalf("expected roster in join order, got %+v", view.Participants)
	}
	if view.Participants[0].Username != "ada" || view.Participants[1].Username != "" {
		t.Fatalf("expected only ada decorated, got %+v", view.Participants)
	}

	h.feed.ch <- Update{Status: models.SessionStatusFinished}
	h.expectNav(t, ResultsRoute(h.session.ID), ReasonFinished)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if !h.feed.closed {
		t.Fatal("expected feed closed on return")
	}
}

func TestReconcilerNavigatesToPlayOnActive(t *testing.T) {
	h := newHarness(t, nil)
	done := h.run(t)

	h.feed.ch <- Update{Status: models.SessionStatusActive}
	nav := h.expectNav(t, PlayRoute(h.session.ID), ReasonStarted)
	if len(nav.Query) != 0 {
		t.Fatalf("expected no countdown on status fallback, got %v", nav.Query)
	}
	<-done
	if h.rec.State() != StateRedirected {
		t.Fatalf("expected redirected, got %s", h.rec.State())
	}
}

func TestReconcilerDetectsKickFromDeleteEvent(t *testing.T) {
	h := newHarness(t, nil)
	done := h.run(t)

	h.feed.ch <- Update{Change: participantChange(models.ChangeDelete, h.session.ID, h.other)}
	select {
	case v := <-h.views:
		if len(v.Participants) != 1 {
			t.Fatalf("expected 1 participant after removal, got %d", len(v.Participants))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for roster update")
	}

	h.feed.ch <- Update{Change: participantChange(models.ChangeDelete, h.session.ID, h.self)}
	h.expectNav(t, RouteDashboard, ReasonKicked)
	<-done
}

func TestReconcilerDetectsKickFromSnapshot(t *testing.T) {
	h := newHarness(t, nil)
	done := h.run(t)

	h.feed.ch <- Update{Snapshot: &models.GameSession{
		ID:           h.session.ID,
		Status:       models.SessionStatusWaiting,
		Participants: []models.Participant{h.other},
	}}
	h.expectNav(t, RouteDashboard, ReasonKicked)
	<-done
}

func TestReconcilerIgnoresReplayOfRemovedParticipant(t *testing.T) {
	h := newHarness(t, nil)
	done := h.run(t)

	h.feed.ch <- Update{Change: participantChange(models.ChangeDelete, h.session.ID, h.other)}
	<-h.views
	h.feed.ch <- Update{Change: participantChange(models.ChangeUpdate, h.session.ID, h.other)}
	newcomer := participant(uuid.New(), "Cy", time.Now())
	h.feed.ch <- Update{Change: participantChange(models.ChangeInsert, h.session.ID, newcomer)}

	select {
	case v := <-h.views:
		if len(v.Participants) != 2 {
			t.Fatalf("expected self and newcomer only, got %+v", v.Participants)
		}
		for _, p := range v.Participants {
			if p.ID == h.other.ID {
				t.Fatal("removed participant reappeared")
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for roster update")
	}

	h.feed.ch <- Update{Deleted: true}
	h.expectNav(t, RouteDashboard, ReasonNotFound)
	<-done
}

func TestReconcilerStatusDedupeAndBackwardMoves(t *testing.T) {
	h := newHarness(t, nil)

	if !h.rec.observeStatus(models.SessionStatusWaiting) {
		t.Fatal("expected first observation to count as a change")
	}
	if h.rec.observeStatus(models.SessionStatusWaiting) {
		t.Fatal("expected repeated status to be deduplicated")
	}

	h.rec.mu.Lock()
	h.rec.lastStatus = models.SessionStatusFinished
	h.rec.mu.Unlock()
	if h.rec.observeStatus(models.SessionStatusActive) {
		t.Fatal("expected finished -> active to be ignored")
	}
	select {
	case n := <-h.navs:
		t.Fatalf("expected no navigation, got %+v", n)
	default:
	}
}

func TestReconcilerLeaveSwallowsErrors(t *testing.T) {
	leaver := &failingLeaver{}
	h := newHarness(t, leaver)
	done := h.run(t)

	h.rec.Leave(context.Background())
	h.expectNav(t, RouteDashboard, ReasonLeft)
	if leaver.calls != 1 {
		t.Fatalf("expected 1 leave call, got %d", leaver.calls)
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	h.rec.Leave(context.Background())
	select {
	case n := <-h.navs:
		t.Fatalf("expected a single navigation, got extra %+v", n)
	default:
	}
}

func TestReconcilerCountdownCarriesStartTime(t *testing.T) {
	h := newHarness(t, nil)
	done := h.run(t)

	started := time.Date(2026, 5, 1, 12, 0, 3, 0, time.UTC)
	if err := h.rec.HandleCountdown(countdown.NewEvent(started)); err != nil {
		t.Fatalf("countdown: %v", err)
	}
	nav := h.expectNav(t, PlayRoute(h.session.ID), ReasonCountdown)
	evt, ok, err := countdown.ParsePlayQuery(nav.Query)
	if err != nil || !ok {
		t.Fatalf("expected countdown query, got ok=%v err=%v", ok, err)
	}
	if !evt.Time().Equal(started) {
		t.Fatalf("expected %s, got %s", started, evt.Time())
	}
	<-done

	// the status change that follows must not navigate a second time
	h.rec.observeStatus(models.SessionStatusActive, nil)
	select {
	case n := <-h.navs:
		t.Fatalf("unexpected second navigation %+v", n)
	default:
	}
}

func TestReconcilerStatusAheadOfCountdownKeepsStartTime(t *testing.T) {
	h := newHarness(t, nil)
	done := h.run(t)

	started := time.Date(2026, 5, 1, 12, 0, 3, 0, time.UTC)
	active := *h.session
	active.Status = models.SessionStatusActive
	active.CountdownStartedAt = &started
	h.feed.ch <- Update{Snapshot: &active}

	nav := h.expectNav(t, PlayRoute(h.session.ID), ReasonStarted)
	evt, ok, err := countdown.ParsePlayQuery(nav.Query)
	if err != nil || !ok {
		t.Fatalf("expected countdown query on %s, got ok=%v err=%v", nav.URL(), ok, err)
	}
	if !evt.Time().Equal(started) {
		t.Fatalf("expected %s, got %s", started, evt.Time())
	}
	<-done

	// the broadcast arriving after the status must not navigate again
	if err := h.rec.HandleCountdown(countdown.NewEvent(started)); err != nil {
		t.Fatalf("countdown: %v", err)
	}
	select {
	case n := <-h.navs:
		t.Fatalf("unexpected second navigation %+v", n)
	default:
	}
}

func TestReconcilerStatusUpdateCarriesStartTime(t *testing.T) {
	h := newHarness(t, nil)
	done := h.run(t)

	started := time.Date(2026, 5, 1, 12, 0, 3, 0, time.UTC)
	h.feed.ch <- Update{Status: models.SessionStatusActive, CountdownStartedAt: &started}

	nav := h.expectNav(t, PlayRoute(h.session.ID), ReasonStarted)
	if got := nav.Query.Get(countdown.QueryParam); got != "1777636803000" {
		t.Fatalf("expected countdown=1777636803000, got %q", got)
	}
	<-done
}

func TestReconcilerRedirectsWhenNotInSession(t *testing.T) {
	h := newHarness(t, nil)
	h.reader.set(func(s *models.GameSession) { s.Participants = []models.Participant{h.other} })

	if err := h.rec.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	h.expectNav(t, RouteDashboard, ReasonKicked)
}

func TestReconcilerRedirectsImmediatelyWhenAlreadyActive(t *testing.T) {
	h := newHarness(t, nil)
	h.reader.set(func(s *models.GameSession) { s.Status = models.SessionStatusActive })

	if err := h.rec.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	h.expectNav(t, PlayRoute(h.session.ID), ReasonStarted)
}

func TestReconcilerMissingSession(t *testing.T) {
	h := newHarness(t, nil)
	h.reader.err = session.ErrNotFound

	if err := h.rec.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	h.expectNav(t, RouteDashboard, ReasonNotFound)
}

type signalSubscriber struct {
	ch chan struct{}
}

func (s *signalSubscriber) Subscribe(sessionID uuid.UUID) (<-chan struct{}, func()) {
	return s.ch, func() {}
}

func TestPrimaryFeedRereadsOnSignalAndPoll(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sessionID := uuid.New()
	reader := &stubReader{session: &models.GameSession{ID: sessionID, Status: models.SessionStatusWaiting}}
	sub := &signalSubscriber{ch: make(chan struct{}, 1)}
	clock := clockwork.NewFakeClock()

	feed := NewPrimaryFeed(ctx, reader, sub, sessionID, clock, 3*time.Second)
	defer feed.Close()

	sub.ch <- struct{}{}
	select {
	case u := <-feed.Updates():
		if u.Snapshot == nil || u.Snapshot.ID != sessionID {
			t.Fatalf("expected snapshot, got %+v", u)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for signalled re-read")
	}

	reader.set(func(s *models.GameSession) { s.Status = models.SessionStatusActive })
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for ticker: %v", err)
	}
	clock.Advance(3 * time.Second)
	select {
	case u := <-feed.Updates():
		if u.Snapshot == nil || u.Snapshot.Status != models.SessionStatusActive {
			t.Fatalf("expected active snapshot from poll, got %+v", u)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for polled re-read")
	}

	reader.mu.Lock()
	reader.err = session.ErrNotFound
	reader.mu.Unlock()
	sub.ch <- struct{}{}
	select {
	case u := <-feed.Updates():
		if !u.Deleted {
			t.Fatalf("expected deleted update, got %+v", u)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for deletion")
	}
}

type fakeSubscription struct {
	sessions     chan models.ChangeEvent
	participants chan models.ChangeEvent
	closed       bool
}

func (f *fakeSubscription) Sessions() <-chan models.ChangeEvent     { return f.sessions }
func (f *fakeSubscription) Participants() <-chan models.ChangeEvent { return f.participants }
func (f *fakeSubscription) Err() error                              { return nil }
func (f *fakeSubscription) Close() error                            { f.closed = true; return nil }

func TestMirrorFeedTranslatesChanges(t *testing.T) {
	sub := &fakeSubscription{
		sessions:     make(chan models.ChangeEvent, 2),
		participants: make(chan models.ChangeEvent, 2),
	}
	feed := NewMirrorFeed(sub)
	defer feed.Close()

	sessionID := uuid.New()
	started := time.Date(2026, 5, 1, 12, 0, 3, 0, time.UTC)
	raw, _ := json.Marshal(models.GameSession{ID: sessionID, Status: models.SessionStatusActive, CountdownStartedAt: &started})
	sub.sessions <- models.ChangeEvent{EventType: models.ChangeUpdate, Table: models.TableGameSessions, SessionID: sessionID, New: raw}

	select {
	case u := <-feed.Updates():
		if u.Status != models.SessionStatusActive {
			t.Fatalf("expected active status, got %+v", u)
		}
		if u.CountdownStartedAt == nil || !u.CountdownStartedAt.Equal(started) {
			t.Fatalf("expected countdown stamp %s, got %v", started, u.CountdownStartedAt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for status update")
	}

	p := participant(uuid.New(), "Di", time.Now())
	sub.participants <- *participantChange(models.ChangeInsert, sessionID, p)
	select {
	case u := <-feed.Updates():
		if u.Change == nil || u.Change.EventType != models.ChangeInsert {
			t.Fatalf("expected participant insert, got %+v", u)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for participant update")
	}

	close(sub.sessions)
	close(sub.participants)
	select {
	case _, ok := <-feed.Updates():
		if ok {
			t.Fatal("expected feed to close with the subscription")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for feed to close")
	}
}

func TestMirrorFeedSessionDeleteRedirectsRoom(t *testing.T) {
	h := newHarness(t, nil)
	sub := &fakeSubscription{
		sessions:     make(chan models.ChangeEvent, 1),
		participants: make(chan models.ChangeEvent, 1),
	}
	h.rec.feed = NewMirrorFeed(sub)
	done := h.run(t)

	sub.sessions <- models.ChangeEvent{EventType: models.ChangeDelete, Table: models.TableGameSessions, SessionID: h.session.ID}

	h.expectNav(t, RouteDashboard, ReasonNotFound)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if !sub.closed {
		t.Fatal("expected subscription closed with the room")
	}
}
