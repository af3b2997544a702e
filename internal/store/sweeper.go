package store

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// StaleCallSweeper completes appointments whose call was abandoned in
// progress, for example when both participants crashed. It implements
// cron.Job.
type StaleCallSweeper struct {
	appts      *Appointments
	staleAfter time.Duration
	timeout    time.Duration
	log        zerolog.Logger
}

var _ cron.Job = (*StaleCallSweeper)(nil)

// NewStaleCallSweeper creates a sweeper completing calls idle for longer
// than staleAfter.
func NewStaleCallSweeper(appts *Appointments, staleAfter time.Duration, logger zerolog.Logger) *StaleCallSweeper {
	return &StaleCallSweeper{
		appts:      appts,
		staleAfter: staleAfter,
		timeout:    30 * time.Second,
		log:        logger.With().Str("component", "stale-call-sweeper").Logger(),
	}
}

// Run performs one sweep.
func (s *StaleCallSweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	cutoff := s.appts.now().Add(-s.staleAfter)
	n, err := s.appts.CompleteStale(ctx, cutoff)
	if err != nil {
		s.log.Error().Err(err).Msg("sweep failed")
		return
	}
	if n > 0 {
		s.log.Info().Int64("completed", n).Time("cutoff", cutoff).Msg("completed abandoned calls")
	}
}

// Schedule registers the sweeper on c with the given cron spec.
func (s *StaleCallSweeper) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddJob(spec, s)
}
