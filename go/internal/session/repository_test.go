package session

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/quizlive/go/internal/session/db"
)

func TestParticipantsInJoinOrder(t *testing.T) {
	sessionID := uuid.New()
	base := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)
	row := func(nickname string, joined time.Time) db.SessionParticipant {
		return db.SessionParticipant{
			ID:        uuid.New(),
			SessionID: sessionID,
			UserID:    uuid.NullUUID{UUID: uuid.New(), Valid: true},
			Nickname:  nickname,
			Started:   sql.NullTime{Time: base.Add(time.Minute), Valid: true},
			JoinedAt:  joined,
		}
	}

	// RETURNING rows come back in whatever order the update touched them
	rows := []db.SessionParticipant{
		row("Cy", base.Add(2*time.Second)),
		row("Ada", base),
		row("Bo", base.Add(time.Second)),
	}

	got := participantsInJoinOrder(rows)
	if len(got) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(got))
	}
	for i, want := range []string{"Ada", "Bo", "Cy"} {
		if got[i].Nickname != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got[i].Nickname)
		}
	}
	if got[0].Started == nil || !got[0].Started.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected started stamp carried over, got %v", got[0].Started)
	}

	if participantsInJoinOrder(nil) != nil {
		t.Fatal("expected nil for no rows so the caller re-reads the roster")
	}
}
