package clocksync

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

// scriptedSource simulates a network round trip on a fake clock. Each call advances
// the clock by up before the server reads its time and by down afterwards.
type scriptedSource struct {
	clock      *clockwork.FakeClock
	trueOffset time.Duration
	legs       [][2]time.Duration
	errs       []error
	calls      int
}

func (s *scriptedSource) ServerTime(ctx context.Context) (time.Time, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return time.Time{}, s.errs[i]
	}
	leg := s.legs[i%len(s.legs)]
	s.clock.Advance(leg[0])
	server := s.clock.Now().Add(s.trueOffset)
	s.clock.Advance(leg[1])
	return server, nil
}

func TestSampleComputesMidpointOffset(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	src := &scriptedSource{
		clock:      clock,
		trueOffset: 1500 * time.Millisecond,
		legs:       [][2]time.Duration{{40 * time.Millisecond, 40 * time.Millisecond}},
	}
	s := NewSynchronizer(src, clock, DefaultConfig())

	sample, err := s.Sample(context.Background())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if sample.RTT != 80*time.Millisecond {
		t.Fatalf("expected 80ms rtt, got %s", sample.RTT)
	}
	if sample.Offset != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s offset, got %s", sample.Offset)
	}
}

func TestSyncKeepsLowestRTTSample(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC))
	src := &scriptedSource{
		clock:      clock,
		trueOffset: -2 * time.Second,
		legs: [][2]time.Duration{
			{300 * time.Millisecond, 20 * time.Millisecond}, // slow and lopsided
			{10 * time.Millisecond, 10 * time.Millisecond},  // tight and symmetric
			{90 * time.Millisecond, 200 * time.Millisecond},
		},
	}
	s := NewSynchronizer(src, clock, Config{Samples: 3})

	offset, err := s.Sync(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if offset != -2*time.Second {
		t.Fatalf("expected -2s offset from tight sample, got %s", offset)
	}
	if !s.Synced() {
		t.Fatal("expected synced")
	}

	want := clock.Now().Add(-2 * time.Second)
	if got := s.Now(); !got.Equal(want) {
		t.Fatalf("expected Now %v, got %v", want, got)
	}
}

func TestSyncToleratesPartialFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &scriptedSource{
		clock:      clock,
		trueOffset: time.Second,
		legs:       [][2]time.Duration{{5 * time.Millisecond, 5 * time.Millisecond}},
		errs:       []error{errors.New("timeout"), nil},
	}
	s := NewSynchronizer(src, clock, Config{Samples: 2})

	if _, err := s.Sync(context.Background()); err != nil {
		t.Fatalf("expected sync to succeed with one good sample, got %v", err)
	}
	if s.Offset() != time.Second {
		t.Fatalf("expected 1s offset, got %s", s.Offset())
	}
}

func TestSyncFailsWhenEverySampleFails(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := &scriptedSource{clock: clock, errs: []error{errors.New("down")}, legs: [][2]time.Duration{{0, 0}}}
	s := NewSynchronizer(src, clock, DefaultConfig())

	if _, err := s.Sync(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if s.Synced() || s.Offset() != 0 {
		t.Fatal("expected no offset after failed sync")
	}
}

func TestHTTPTimeSourceAgainstHandler(t *testing.T) {
	serverNow := time.Date(2026, 10, 16, 12, 30, 0, 250_000_000, time.UTC)
	ts := httptest.NewServer(NewHandler(clockwork.NewFakeClockAt(serverNow)))
	t.Cleanup(ts.Close)

	got, err := NewHTTPTimeSource(ts.Client(), ts.URL).ServerTime(context.Background())
	if err != nil {
		t.Fatalf("server time: %v", err)
	}
	if !got.Equal(serverNow) {
		t.Fatalf("expected %v, got %v", serverNow, got)
	}
}
