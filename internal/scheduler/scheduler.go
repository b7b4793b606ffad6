package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Recomputer re-evaluates every stored date
type Recomputer interface {
	RecomputeAll(ctx context.Context) (int, error)
}

// Scheduler runs the periodic reconciliation pass that re-derives every
// market aggregate from the ledger
type Scheduler struct {
	cron    *cron.Cron
	rec     Recomputer
	log     zerolog.Logger
	timeout time.Duration
}

// New creates a scheduler; overlapping runs are skipped
func New(rec Recomputer, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		rec:     rec,
		log:     log.With().Str("component", "scheduler").Logger(),
		timeout: 10 * time.Minute,
	}
}

// Schedule registers the reconciliation job. spec is a standard five field
// cron expression or a descriptor such as "@every 1h".
func (s *Scheduler) Schedule(spec string) error {
	if _, err := s.cron.AddFunc(spec, s.RunOnce); err != nil {
		return fmt.Errorf("failed to schedule recompute %q: %w", spec, err)
	}
	s.log.Info().Str("schedule", spec).Msg("recompute job scheduled")
	return nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler and waits for a running job to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

// RunOnce runs one reconciliation pass
func (s *Scheduler) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	n, err := s.rec.RecomputeAll(ctx)
	if err != nil {
		s.log.Error().Err(err).Int("dates", n).Dur("duration", time.Since(start)).Msg("recompute job finished with failures")
		return
	}
	s.log.Info().Int("dates", n).Dur("duration", time.Since(start)).Msg("recompute job finished")
}
