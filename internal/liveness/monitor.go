// Package liveness reclaims runs whose worker has gone away. A run whose heartbeat went silent is
// paused so it can be resumed, a run that has been running implausibly long is failed. Both
// checks are driven by callers polling the control plane and are safe to run concurrently.
package liveness

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"runwarden/internal/models"
	"runwarden/internal/store"
)

const (
	DefaultDeadAfter  = 60 * time.Second
	DefaultStaleAfter = 30 * time.Minute

	// ItemInterruptedReason is written to the in-flight item of a run paused for missing heartbeats
	ItemInterruptedReason = "Processing interrupted (process died)"
	// ItemStaleReason is written to processing items of a run failed for running too long
	ItemStaleReason = "Processing run exceeded the maximum duration"
)

// Thresholds are the two deadlines of the liveness protocol. DeadAfter should be well below
// StaleAfter so the resumable path fires first.
type Thresholds struct {
	DeadAfter  time.Duration
	StaleAfter time.Duration
}

func (t Thresholds) withDefaults() Thresholds {
	if t.DeadAfter <= 0 {
		t.DeadAfter = DefaultDeadAfter
	}
	if t.StaleAfter <= 0 {
		t.StaleAfter = DefaultStaleAfter
	}
	return t
}

// Monitor pauses running runs whose heartbeat is older than the dead deadline
type Monitor struct {
	store      *store.Store
	thresholds Thresholds
	Now        func() time.Time
}

func NewMonitor(st *store.Store, thresholds Thresholds) *Monitor {
	return &Monitor{
		store:      st,
		thresholds: thresholds.withDefaults(),
		Now:        utcNow,
	}
}

// SweepDead pauses every dead run and fails its in-flight item. It returns the runs this call
// paused, as they were before the sweep. Runs another sweep got to first are not returned.
func (m *Monitor) SweepDead(ctx context.Context) ([]models.ProcessingRun, error) {
	now := m.Now()
	candidates, err := m.store.FindDeadRuns(ctx, now.Add(-m.thresholds.DeadAfter))
	if err != nil {
		return nil, err
	}

	paused := make([]models.ProcessingRun, 0, len(candidates))
	for _, run := range candidates {
		ok, err := pauseDead(ctx, m.store, &run, now)
		if err != nil {
			return paused, err
		}
		if ok {
			paused = append(paused, run)
		}
	}

	if len(paused) > 0 {
		log.Info().Int("count", len(paused)).Msg("Paused runs with missing heartbeats")
	}
	return paused, nil
}

// isDead reports whether the run's last contact is at or past the dead deadline
func (m *Monitor) isDead(run *models.ProcessingRun, now time.Time) bool {
	lastContact := run.LastHeartbeat
	if !lastContact.Valid {
		lastContact = run.StartedAt
	}
	if !lastContact.Valid {
		return false
	}
	return now.Sub(lastContact.Time) >= m.thresholds.DeadAfter
}

// pauseDead moves one run to paused and fails its current item in a single transaction
func pauseDead(ctx context.Context, st *store.Store, run *models.ProcessingRun, now time.Time) (bool, error) {
	var paused bool
	err := st.InTx(ctx, func(tx *store.Store) error {
		var err error
		if paused, err = tx.PauseRun(ctx, run.ID, now); err != nil || !paused {
			return err
		}

		if run.CurrentVideoID.Valid {
			failed, err := tx.FailItemIfProcessing(ctx, run.CurrentVideoID.String, ItemInterruptedReason, now)
			if err != nil {
				return err
			}
			if failed {
				log.Warn().
					Str("run_id", run.ID).
					Str("work_item_id", run.CurrentVideoID.String).
					Msg("Failed in-flight item of dead run")
			}
		}
		return tx.AppendEvent(ctx, run.ID, models.EventPaused, "heartbeat lost", now)
	})
	if err != nil {
		return false, err
	}

	if paused {
		log.Warn().
			Str("run_id", run.ID).
			Time("last_heartbeat", run.LastHeartbeat.Time).
			Msg("Paused run with missing heartbeat")
	}
	return paused, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
