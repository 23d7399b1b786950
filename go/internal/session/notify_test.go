package session

import (
	"testing"

	"github.com/google/uuid"
)

func TestChangeListenerDispatchesPerSession(t *testing.T) {
	c := newChangeListener()
	watched, other := uuid.New(), uuid.New()

	ch, cancel := c.Subscribe(watched)
	defer cancel()

	c.dispatch(other.String())
	select {
	case <-ch:
		t.Fatal("expected no signal for another session")
	default:
	}

	c.dispatch(watched.String())
	c.dispatch(watched.String())
	select {
	case <-ch:
	default:
		t.Fatal("expected a signal for the watched session")
	}
	select {
	case <-ch:
		t.Fatal("expected repeated notifications to coalesce")
	default:
	}

	c.dispatch("not-a-uuid")
}

func TestChangeListenerReconnectSignalsEveryone(t *testing.T) {
	c := newChangeListener()
	a, cancelA := c.Subscribe(uuid.New())
	b, cancelB := c.Subscribe(uuid.New())
	defer cancelA()

	cancelB()
	c.notifyAll()

	select {
	case <-a:
	default:
		t.Fatal("expected live subscriber to be signalled")
	}
	select {
	case <-b:
		t.Fatal("expected cancelled subscriber to be skipped")
	default:
	}
	if len(c.subs) != 1 {
		t.Fatalf("expected 1 session tracked, got %d", len(c.subs))
	}
}
