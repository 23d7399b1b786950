package housekeeping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Execer is satisfied by *pgxpool.Pool
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// OutboxPurger is satisfied by *outbox.App
type OutboxPurger interface {
	PurgeSentBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config controls what is purged and how often
type Config struct {
	Schedule          string
	FinishedRetention time.Duration
	OutboxRetention   time.Duration
}

// DefaultConfig runs hourly, keeping finished sessions for a day and relayed
// outbox rows for a week.
func DefaultConfig() Config {
	return Config{
		Schedule:          "0 * * * *",
		FinishedRetention: 24 * time.Hour,
		OutboxRetention:   7 * 24 * time.Hour,
	}
}

// Report is the outcome of one sweep
type Report struct {
	Sessions int64
	Outbox   int64
}

const purgeFinishedSessions = `
DELETE FROM game_sessions
WHERE status = 'finished' AND updated_at < $1`

// Scheduler periodically deletes finished sessions and relayed outbox rows.
// Participants go with their session through ON DELETE CASCADE; mirror keys expire
// on their own TTL.
type Scheduler struct {
	db     Execer
	outbox OutboxPurger
	clock  clockwork.Clock
	config Config
	cron   *cron.Cron
}

// NewScheduler creates a scheduler. outbox may be nil.
func NewScheduler(db Execer, outbox OutboxPurger, clock clockwork.Clock, config Config) *Scheduler {
	return &Scheduler{
		db:     db,
		outbox: outbox,
		clock:  clock,
		config: config,
		cron:   cron.New(),
	}
}

// Start registers the sweep and starts the cron runner. Sweeps use ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.config.Schedule, func() {
		report, err := s.RunNow(ctx)
		if err != nil {
			log.Error().Err(err).Msg("housekeeping sweep failed")
			return
		}
		log.Info().
			Int64("sessions", report.Sessions).
			Int64("outbox_events", report.Outbox).
			Msg("housekeeping sweep completed")
	})
	if err != nil {
		return fmt.Errorf("invalid housekeeping schedule %q: %w", s.config.Schedule, err)
	}

	s.cron.Start()
	log.Info().Str("schedule", s.config.Schedule).Msg("housekeeping scheduler started")
	return nil
}

// Stop waits for a running sweep to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("housekeeping scheduler stopped")
}

// RunNow performs one sweep. Both purges are attempted even when one fails.
func (s *Scheduler) RunNow(ctx context.Context) (Report, error) {
	var report Report
	now := s.clock.Now().UTC()

	tag, sessionErr := s.db.Exec(ctx, purgeFinishedSessions, now.Add(-s.config.FinishedRetention))
	if sessionErr != nil {
		sessionErr = fmt.Errorf("failed to purge finished sessions: %w", sessionErr)
	} else {
		report.Sessions = tag.RowsAffected()
	}

	var outboxErr error
	if s.outbox != nil {
		report.Outbox, outboxErr = s.outbox.PurgeSentBefore(ctx, now.Add(-s.config.OutboxRetention))
		if outboxErr != nil {
			outboxErr = fmt.Errorf("failed to purge outbox: %w", outboxErr)
		}
	}

	return report, errors.Join(sessionErr, outboxErr)
}
