package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mcdev12/quizlive/go/internal/models"
	"github.com/mcdev12/quizlive/go/internal/outbox"
)

func TestStatusAdvances(t *testing.T) {
	tests := []struct {
		current, incoming models.SessionStatus
		want              bool
	}{
		{"", models.SessionStatusWaiting, true},
		{models.SessionStatusWaiting, models.SessionStatusWaiting, true},
		{models.SessionStatusWaiting, models.SessionStatusActive, true},
		{models.SessionStatusActive, models.SessionStatusWaiting, false},
		{models.SessionStatusFinished, models.SessionStatusActive, false},
	}
	for _, tt := range tests {
		if got := statusAdvances(tt.current, tt.incoming); got != tt.want {
			t.Fatalf("%q -> %q: expected %v, got %v", tt.current, tt.incoming, tt.want, got)
		}
	}
}

func TestChannelNames(t *testing.T) {
	id := uuid.MustParse("6f1c7f3e-6b8a-4c1e-9d55-0f8a1e2b3c4d")
	if got := SessionChannel(id); got != "quiz:feed:session:6f1c7f3e-6b8a-4c1e-9d55-0f8a1e2b3c4d" {
		t.Fatalf("unexpected session channel %s", got)
	}
	if got := ParticipantsChannel(id); got != "quiz:feed:participants:6f1c7f3e-6b8a-4c1e-9d55-0f8a1e2b3c4d" {
		t.Fatalf("unexpected participants channel %s", got)
	}
}

type recordingApplier struct {
	changes []models.ChangeEvent
	err     error
}

func (r *recordingApplier) Apply(ctx context.Context, change models.ChangeEvent) error {
	r.changes = append(r.changes, change)
	return r.err
}

func TestProjectorHandleDecodesEnvelope(t *testing.T) {
	applier := &recordingApplier{}
	p := &Projector{applier: applier}

	sessionID := uuid.New()
	data, err := json.Marshal(outbox.Envelope{
		EventID: uuid.NewString(),
		ChangeEvent: models.ChangeEvent{
			EventType: models.ChangeDelete,
			Table:     models.TableSessionParticipants,
			SessionID: sessionID,
			Old:       json.RawMessage(`{"id":"` + uuid.NewString() + `"}`),
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := p.handle(context.Background(), data); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(applier.changes) != 1 {
		t.Fatalf("expected 1 change, got %d", len(applier.changes))
	}
	got := applier.changes[0]
	if got.SessionID != sessionID || got.EventType != models.ChangeDelete {
		t.Fatalf("unexpected change %+v", got)
	}
}

func TestProjectorHandlePropagatesErrors(t *testing.T) {
	p := &Projector{applier: &recordingApplier{err: errors.New("redis down")}}
	if err := p.handle(context.Background(), []byte(`{"eventId":"x","table":"game_sessions"}`)); err == nil {
		t.Fatal("expected apply error")
	}
	if err := p.handle(context.Background(), []byte(`not json`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), Protocol: 2})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb, time.Hour), mr
}

func receive(t *testing.T, ch <-chan models.ChangeEvent, what string) models.ChangeEvent {
	t.Helper()
	select {
	case change, ok := <-ch:
		if !ok {
			t.Fatalf("feed closed while waiting for %s", what)
		}
		return change
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	return models.ChangeEvent{}
}

func testParticipant(nickname string, joined time.Time) models.Participant {
	userID := uuid.New()
	return models.Participant{ID: uuid.New(), UserID: &userID, Nickname: nickname, JoinedAt: joined}
}

func TestStoreSessionStatusOnlyMovesForward(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	session := &models.GameSession{ID: uuid.New(), GamePin: "780674", Status: models.SessionStatusWaiting}
	if err := store.UpsertSession(ctx, session); err != nil {
		t.Fatalf("upsert waiting: %v", err)
	}

	active := *session
	active.Status = models.SessionStatusActive
	active.CountdownStartedAt = &started
	if err := store.UpsertSession(ctx, &active); err != nil {
		t.Fatalf("upsert active: %v", err)
	}
	finished := active
	finished.Status = models.SessionStatusFinished
	if err := store.UpsertSession(ctx, &finished); err != nil {
		t.Fatalf("upsert finished: %v", err)
	}

	// a late projector replay of the start
	if err := store.UpsertSession(ctx, &active); err != nil {
		t.Fatalf("replay active: %v", err)
	}

	got, err := store.Session(ctx, session.ID)
	if err != nil {
		t.Fatalf("read session: %v", err)
	}
	if got.Status != models.SessionStatusFinished {
		t.Fatalf("expected finished to stick, got %s", got.Status)
	}
	if got.CountdownStartedAt == nil || !got.CountdownStartedAt.Equal(started) {
		t.Fatalf("expected countdown stamp %s, got %v", started, got.CountdownStartedAt)
	}
	if field := mr.HGet(sessionKey(session.ID), "status"); field != string(models.SessionStatusFinished) {
		t.Fatalf("expected status field finished, got %q", field)
	}
	if ttl := mr.TTL(sessionKey(session.ID)); ttl <= 0 {
		t.Fatalf("expected session key to expire, ttl %v", ttl)
	}
}

func TestStoreRemovedParticipantStaysRemoved(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sessionID := uuid.New()

	base := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	ada := testParticipant("Ada", base)
	bo := testParticipant("Bo", base.Add(time.Second))
	for _, p := range []models.Participant{bo, ada} {
		if err := store.UpsertParticipant(ctx, sessionID, p); err != nil {
			t.Fatalf("upsert %s: %v", p.Nickname, err)
		}
	}
	if err := store.DeleteParticipant(ctx, sessionID, bo.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	raw, _ := json.Marshal(bo)
	replay := models.ChangeEvent{
		EventType: models.ChangeInsert,
		Table:     models.TableSessionParticipants,
		SessionID: sessionID,
		New:       raw,
	}
	if err := store.Apply(ctx, replay); err != nil {
		t.Fatalf("apply replay: %v", err)
	}

	roster, err := store.Roster(ctx, sessionID)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != 1 || roster[0].ID != ada.ID {
		t.Fatalf("expected only Ada, got %+v", roster)
	}
}

func TestStoreRosterInJoinOrder(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	sessionID := uuid.New()

	base := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	want := []models.Participant{
		testParticipant("Ada", base),
		testParticipant("Bo", base.Add(time.Second)),
		testParticipant("Cy", base.Add(2*time.Second)),
	}
	for _, i := range []int{2, 0, 1} {
		if err := store.UpsertParticipant(ctx, sessionID, want[i]); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	roster, err := store.Roster(ctx, sessionID)
	if err != nil {
		t.Fatalf("roster: %v", err)
	}
	if len(roster) != len(want) {
		t.Fatalf("expected %d participants, got %d", len(want), len(roster))
	}
	for i := range want {
		if roster[i].ID != want[i].ID {
			t.Fatalf("position %d: expected %s, got %s", i, want[i].Nickname, roster[i].Nickname)
		}
	}
}

func TestStoreSubscribeDeliversClassifiedChanges(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()
	session := &models.GameSession{ID: uuid.New(), GamePin: "780674", Status: models.SessionStatusWaiting}

	sub, err := store.Subscribe(ctx, session.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	p := testParticipant("Ada", time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC))
	if err := store.UpsertParticipant(ctx, session.ID, p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	inserted := receive(t, sub.Participants(), "insert")
	if inserted.EventType != models.ChangeInsert || len(inserted.Old) != 0 {
		t.Fatalf("expected INSERT without old row, got %s old=%s", inserted.EventType, inserted.Old)
	}

	p.Score = 10
	if err := store.UpsertParticipant(ctx, session.ID, p); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated := receive(t, sub.Participants(), "update")
	if updated.EventType != models.ChangeUpdate {
		t.Fatalf("expected UPDATE, got %s", updated.EventType)
	}
	var before models.Participant
	if err := json.Unmarshal(updated.Old, &before); err != nil || before.Score != 0 {
		t.Fatalf("expected old row with score 0, got %s (%v)", updated.Old, err)
	}

	if err := store.DeleteParticipant(ctx, session.ID, p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	deleted := receive(t, sub.Participants(), "participant delete")
	gone, err := deleted.DecodeParticipant()
	if deleted.EventType != models.ChangeDelete || err != nil || gone.ID != p.ID || gone.Score != 10 {
		t.Fatalf("expected DELETE of the scored row, got %s %+v (%v)", deleted.EventType, gone, err)
	}

	if err := store.UpsertSession(ctx, session); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	sessionChange := receive(t, sub.Sessions(), "session update")
	decoded, err := sessionChange.DecodeSession()
	if err != nil || decoded.Status != models.SessionStatusWaiting {
		t.Fatalf("expected waiting session, got %+v (%v)", decoded, err)
	}
}

func TestStoreDeleteSessionPublishesBeforeDropping(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()
	session := &models.GameSession{ID: uuid.New(), GamePin: "780674", Status: models.SessionStatusWaiting}

	if err := store.UpsertSession(ctx, session); err != nil {
		t.Fatalf("upsert session: %v", err)
	}
	if err := store.UpsertParticipant(ctx, session.ID, testParticipant("Ada", time.Now())); err != nil {
		t.Fatalf("upsert participant: %v", err)
	}

	sub, err := store.Subscribe(ctx, session.ID)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	// the projector path reaches the same delete
	if err := store.Apply(ctx, models.ChangeEvent{
		EventType: models.ChangeDelete,
		Table:     models.TableGameSessions,
		SessionID: session.ID,
	}); err != nil {
		t.Fatalf("apply delete: %v", err)
	}

	change := receive(t, sub.Sessions(), "session delete")
	if change.EventType != models.ChangeDelete || change.SessionID != session.ID {
		t.Fatalf("expected DELETE for %s, got %+v", session.ID, change)
	}
	var old models.GameSession
	if err := json.Unmarshal(change.Old, &old); err != nil || old.GamePin != "780674" {
		t.Fatalf("expected old snapshot with pin, got %s (%v)", change.Old, err)
	}

	if _, err := store.Session(ctx, session.ID); !errors.Is(err, ErrMirrorMiss) {
		t.Fatalf("expected ErrMirrorMiss, got %v", err)
	}
	if mr.Exists(participantsKey(session.ID)) {
		t.Fatal("expected roster key dropped")
	}
}

func TestStoreApplyRejectsUnknownTable(t *testing.T) {
	store, _ := newTestStore(t)
	err := store.Apply(context.Background(), models.ChangeEvent{Table: "quizzes", SessionID: uuid.New()})
	if err == nil {
		t.Fatal("expected unknown table error")
	}
}
