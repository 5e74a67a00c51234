package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper runs the stale reclaim followed by the dead sweep on a cron schedule. Polling clients
// trigger the same checks, the sweeper only covers deployments nobody is watching.
type Sweeper struct {
	reclaimer *Reclaimer
	cron      *cron.Cron
	spec      string

	mu        sync.Mutex
	sweeping  bool
	isRunning bool
	cancel    context.CancelFunc
}

// NewSweeper creates a sweeper for a cron expression. Seconds are optional in the expression.
func NewSweeper(reclaimer *Reclaimer, spec string) *Sweeper {
	c := cron.New(
		cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)),
		cron.WithLocation(time.UTC),
	)

	return &Sweeper{
		reclaimer: reclaimer,
		cron:      c,
		spec:      spec,
	}
}

// Start schedules the sweep. It returns an error when the cron expression is invalid.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	if _, err := s.cron.AddFunc(s.spec, func() { s.runOnce(ctx) }); err != nil {
		cancel()
		return err
	}

	s.cancel = cancel
	s.isRunning = true
	s.cron.Start()
	log.Info().Str("schedule", s.spec).Msg("Liveness sweeper started")
	return nil
}

// Stop halts the schedule and waits for a sweep in progress to finish
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// runOnce skips the tick when the previous sweep is still going
func (s *Sweeper) runOnce(ctx context.Context) {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return
	}
	s.sweeping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	if _, _, err := s.Sweep(ctx); err != nil {
		log.Error().Err(err).Msg("Liveness sweep failed")
	}
}

// Sweep fails stale runs first, then pauses dead ones. A run failed in the first step is no
// longer running and is ignored by the second.
func (s *Sweeper) Sweep(ctx context.Context) (failed, paused int, err error) {
	staleRuns, err := s.reclaimer.ReclaimStale(ctx)
	if err != nil {
		return len(staleRuns), 0, err
	}

	deadRuns, err := s.reclaimer.Monitor().SweepDead(ctx)
	return len(staleRuns), len(deadRuns), err
}
