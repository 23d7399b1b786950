package clocksync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// TimePath is where the server exposes its clock.
const TimePath = "/api/time"

// TimeSource returns the server's current time.
type TimeSource interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Sample is one round trip against the TimeSource.
type Sample struct {
	Offset time.Duration
	RTT    time.Duration
}

// Config controls how offsets are estimated.
type Config struct {
	Samples int // round trips per sync; the lowest-RTT sample wins
}

func DefaultConfig() Config {
	return Config{Samples: 1}
}

// Synchronizer estimates the difference between the local clock and the server clock.
// The offset is added to local time to approximate server time.
type Synchronizer struct {
	source TimeSource
	clock  clockwork.Clock
	cfg    Config

	mu     sync.RWMutex
	offset time.Duration
	rtt    time.Duration
	synced bool
}

func NewSynchronizer(source TimeSource, clock clockwork.Clock, cfg Config) *Synchronizer {
	if cfg.Samples <= 0 {
		cfg.Samples = 1
	}
	return &Synchronizer{source: source, clock: clock, cfg: cfg}
}

// Sample performs a single round trip. offset = server - (t0 + rtt/2).
func (s *Synchronizer) Sample(ctx context.Context) (Sample, error) {
	t0 := s.clock.Now()
	server, err := s.source.ServerTime(ctx)
	if err != nil {
		return Sample{}, err
	}
	t1 := s.clock.Now()

	rtt := t1.Sub(t0)
	midpoint := t0.Add(rtt / 2)
	return Sample{Offset: server.Sub(midpoint), RTT: rtt}, nil
}

// Sync takes the configured number of samples and keeps the one with the smallest
// round trip. Failed samples are skipped; Sync fails only if every sample fails.
func (s *Synchronizer) Sync(ctx context.Context) (time.Duration, error) {
	var (
		best    Sample
		found   bool
		lastErr error
	)
	for i := 0; i < s.cfg.Samples; i++ {
		sample, err := s.Sample(ctx)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if !found || sample.RTT < best.RTT {
			best = sample
			found = true
		}
	}
	if !found {
		if lastErr == nil {
			lastErr = errors.New("no samples taken")
		}
		return 0, fmt.Errorf("clock sync failed: %w", lastErr)
	}

	s.mu.Lock()
	s.offset = best.Offset
	s.rtt = best.RTT
	s.synced = true
	s.mu.Unlock()

	log.Debug().
		Dur("offset", best.Offset).
		Dur("rtt", best.RTT).
		Int("samples", s.cfg.Samples).
		Msg("clock synchronized")
	return best.Offset, nil
}

// Run re-synchronizes every interval until ctx ends. Errors keep the previous offset.
func (s *Synchronizer) Run(ctx context.Context, interval time.Duration) {
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.Sync(ctx); err != nil {
				log.Warn().Err(err).Msg("periodic clock sync failed")
			}
		}
	}
}

// Offset returns the current estimate; zero before the first successful Sync.
func (s *Synchronizer) Offset() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offset
}

// Synced reports whether at least one Sync succeeded.
func (s *Synchronizer) Synced() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.synced
}

// Now approximates the server's current time.
func (s *Synchronizer) Now() time.Time {
	return s.clock.Now().Add(s.Offset())
}

// Response is the body served at TimePath.
type Response struct {
	ServerTimeMs int64 `json:"server_time_ms"`
}

// Handler serves the server clock.
type Handler struct {
	clock clockwork.Clock
}

func NewHandler(clock clockwork.Clock) *Handler {
	return &Handler{clock: clock}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	if err := json.NewEncoder(w).Encode(Response{ServerTimeMs: h.clock.Now().UnixMilli()}); err != nil {
		log.Error().Err(err).Msg("failed to write server time")
	}
}

// HTTPTimeSource fetches the server clock over HTTP.
type HTTPTimeSource struct {
	client  *http.Client
	baseURL string
}

func NewHTTPTimeSource(client *http.Client, baseURL string) *HTTPTimeSource {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPTimeSource{client: client, baseURL: baseURL}
}

func (h *HTTPTimeSource) ServerTime(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+TimePath, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("build time request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("fetch server time: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("fetch server time: unexpected status %d", resp.StatusCode)
	}
	var body Response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return time.Time{}, fmt.Errorf("decode server time: %w", err)
	}
	return time.UnixMilli(body.ServerTimeMs), nil
}
