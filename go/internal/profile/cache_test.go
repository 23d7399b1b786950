package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mcdev12/quizlive/go/internal/models"
)

type countingLookup struct {
	profiles map[uuid.UUID]models.Profile
	calls    [][]uuid.UUID
	err      error
}

func (l *countingLookup) GetProfiles(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Profile, error) {
	l.calls = append(l.calls, ids)
	if l.err != nil {
		return nil, l.err
	}
	out := make(map[uuid.UUID]models.Profile)
	for _, id := range ids {
		if p, ok := l.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func TestCacheFetchesOnlyUnseenIDs(t *testing.T) {
	ada, bo, ghost := uuid.New(), uuid.New(), uuid.New()
	lookup := &countingLookup{profiles: map[uuid.UUID]models.Profile{
		ada: {UserID: ada, Username: "ada", AvatarURL: "https://cdn/ada.png"},
		bo:  {UserID: bo, Username: "bo"},
	}}
	cache := NewCache(lookup)
	ctx := context.Background()

	got := cache.Resolve(ctx, []uuid.UUID{ada, ada})
	if got[ada].Username != "ada" {
		t.Fatalf("expected ada, got %+v", got[ada])
	}

	got = cache.Resolve(ctx, []uuid.UUID{ada, bo, ghost})
	if len(got) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(got))
	}

	cache.Resolve(ctx, []uuid.UUID{ada, bo, ghost})

	if len(lookup.calls) != 2 {
		t.Fatalf("expected 2 lookups, got %d", len(lookup.calls))
	}
	if len(lookup.calls[0]) != 1 {
		t.Fatalf("expected first lookup to dedupe ids, got %v", lookup.calls[0])
	}
	if len(lookup.calls[1]) != 2 {
		t.Fatalf("expected second lookup to fetch only bo and ghost, got %v", lookup.calls[1])
	}
}

func TestCacheRetriesAfterLookupFailure(t *testing.T) {
	id := uuid.New()
	lookup := &countingLookup{err: errors.New("pool closed")}
	cache := NewCache(lookup)

	if got := cache.Resolve(context.Background(), []uuid.UUID{id}); len(got) != 0 {
		t.Fatalf("expected no profiles, got %v", got)
	}

	lookup.err = nil
	lookup.profiles = map[uuid.UUID]models.Profile{id: {UserID: id, Username: "late"}}
	got := cache.Resolve(context.Background(), []uuid.UUID{id})
	if got[id].Username != "late" {
		t.Fatalf("expected profile after retry, got %+v", got)
	}
	if p, ok := cache.Get(id); !ok || p.Username != "late" {
		t.Fatalf("expected cached profile, got %+v", p)
	}
}
