package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/quizlive/go/internal/models"
)

type fakeRepo struct {
	mu       sync.Mutex
	inserted []models.ChangeEvent
	unsent   []OutboxEvent
	sent     map[uuid.UUID]bool
	pending  int64
	purged   time.Time
}

func newFakeRepo(events ...OutboxEvent) *fakeRepo {
	return &fakeRepo{unsent: events, sent: make(map[uuid.UUID]bool)}
}

func (f *fakeRepo) InsertChange(ctx context.Context, change models.ChangeEvent) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, change)
	return uuid.New(), nil
}

func (f *fakeRepo) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []OutboxEvent
	for _, e := range f.unsent {
		if !f.sent[e.ID] && int32(len(out)) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepo) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[id] = true
	return nil
}

func (f *fakeRepo) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.unsent {
		if e.ID == id && !f.sent[id] {
			ev := e
			return &ev, nil
		}
	}
	return nil, ErrEventNotFound
}

func (f *fakeRepo) CountPending(ctx context.Context) (int64, error) {
	return f.pending, nil
}

func (f *fakeRepo) PurgeSent(ctx context.Context, before time.Time) (int64, error) {
	f.purged = before
	return 3, nil
}

func (f *fakeRepo) isSent(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[id]
}

func participantEvent(t *testing.T, sessionID uuid.UUID) OutboxEvent {
	t.Helper()
	raw, err := json.Marshal(models.Participant{ID: uuid.New(), Nickname: "Ada"})
	if err != nil {
		t.Fatalf("marshal participant: %v", err)
	}
	return OutboxEvent{
		ID:        uuid.New(),
		SessionID: sessionID,
		Table:     models.TableSessionParticipants,
		EventType: models.ChangeInsert,
		New:       raw,
		CreatedAt: time.Now(),
	}
}

func TestRecordChangeValidates(t *testing.T) {
	repo := newFakeRepo()
	app := NewApp(repo)
	ctx := context.Background()
	sessionID := uuid.New()

	tests := []struct {
		name    string
		change  models.ChangeEvent
		wantErr bool
	}{
		{
			name:   "insert with new row",
			change: models.ChangeEvent{EventType: models.ChangeInsert, Table: models.TableSessionParticipants, SessionID: sessionID, New: json.RawMessage(`{}`)},
		},
		{
			name:    "delete without old row",
			change:  models.ChangeEvent{EventType: models.ChangeDelete, Table: models.TableSessionParticipants, SessionID: sessionID},
			wantErr: true,
		},
		{
			name:    "unknown table",
			change:  models.ChangeEvent{EventType: models.ChangeUpdate, Table: "quizzes", SessionID: sessionID, New: json.RawMessage(`{}`)},
			wantErr: true,
		},
		{
			name:    "missing session",
			change:  models.ChangeEvent{EventType: models.ChangeUpdate, Table: models.TableGameSessions, New: json.RawMessage(`{}`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := app.RecordChange(ctx, tt.change)
			if tt.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}

	if len(repo.inserted) != 1 {
		t.Fatalf("expected 1 inserted change, got %d", len(repo.inserted))
	}
}

func TestProcessUnsentEventsMarksOnlySuccesses(t *testing.T) {
	sessionID := uuid.New()
	ok := participantEvent(t, sessionID)
	bad := participantEvent(t, sessionID)
	repo := newFakeRepo(ok, bad)
	app := NewApp(repo)

	err := app.ProcessUnsentEvents(context.Background(), 10, func(event OutboxEvent) error {
		if event.ID == bad.ID {
			return errors.New("broker down")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if !repo.isSent(ok.ID) {
		t.Fatal("expected successful event to be marked sent")
	}
	if repo.isSent(bad.ID) {
		t.Fatal("expected failed event to stay unsent")
	}
}

func TestFetchUnsentEventsRejectsZeroLimit(t *testing.T) {
	app := NewApp(newFakeRepo())
	if _, err := app.FetchUnsentEvents(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero limit")
	}
}

func TestPurgeSentBefore(t *testing.T) {
	repo := newFakeRepo()
	app := NewApp(repo)
	cutoff := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	n, err := app.PurgeSentBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 3 || !repo.purged.Equal(cutoff) {
		t.Fatalf("expected 3 rows purged at %v, got %d at %v", cutoff, n, repo.purged)
	}
}
