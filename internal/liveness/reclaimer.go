package liveness

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"runwarden/internal/models"
	"runwarden/internal/store"
)

// Reclaimer answers "is anything running for this user", failing the user's latest running run
// when it is older than the stale deadline
type Reclaimer struct {
	store   *store.Store
	monitor *Monitor
}

// ActiveReport is the outcome of an active run check
type ActiveReport struct {
	ActiveRun  *models.ProcessingRun // nil when nothing is running
	StuckItems []models.WorkItem     // processing items that no active run accounts for
	Failed     *models.ProcessingRun // run failed by this check for being stale
}

func NewReclaimer(st *store.Store, thresholds Thresholds) *Reclaimer {
	return &Reclaimer{
		store:   st,
		monitor: NewMonitor(st, thresholds),
	}
}

// SetClock replaces the time source of the reclaimer and its monitor
func (r *Reclaimer) SetClock(now func() time.Time) {
	r.monitor.Now = now
}

// Monitor returns the dead-run monitor sharing this reclaimer's thresholds
func (r *Reclaimer) Monitor() *Monitor {
	return r.monitor
}

// CheckActive finds the user's latest running run. A run past the stale deadline is failed,
// any other running run is returned as active even when its heartbeat is late: pausing silent
// runs is left to the dead sweep. Stuck items are reported and never corrected here.
func (r *Reclaimer) CheckActive(ctx context.Context, userID string) (*ActiveReport, error) {
	now := r.monitor.Now()
	report := &ActiveReport{}

	run, err := r.store.LatestRunningRun(ctx, userID)
	if err != nil && !isNotFound(err) {
		return nil, err
	}

	if run != nil {
		if r.isStale(run, now) {
			ok, err := failStale(ctx, r.store, run, now)
			if err != nil {
				return nil, err
			}
			if ok {
				report.Failed = run
			}
		} else {
			report.ActiveRun = run
		}
	}

	processing, err := r.store.ProcessingItems(ctx, userID)
	if err != nil {
		return nil, err
	}
	report.StuckItems = make([]models.WorkItem, 0, len(processing))
	for _, item := range processing {
		if report.ActiveRun != nil && report.ActiveRun.Contains(item.ID) {
			continue
		}
		report.StuckItems = append(report.StuckItems, item)
	}

	if len(report.StuckItems) > 0 {
		log.Warn().
			Str("user_id", userID).
			Int("count", len(report.StuckItems)).
			Msg("Found work items stuck in processing")
	}
	return report, nil
}

// ReclaimStale fails every running run past the stale deadline regardless of owner
func (r *Reclaimer) ReclaimStale(ctx context.Context) ([]models.ProcessingRun, error) {
	now := r.monitor.Now()
	candidates, err := r.store.FindStaleRuns(ctx, now.Add(-r.monitor.thresholds.StaleAfter))
	if err != nil {
		return nil, err
	}

	failed := make([]models.ProcessingRun, 0, len(candidates))
	for _, run := range candidates {
		ok, err := failStale(ctx, r.store, &run, now)
		if err != nil {
			return failed, err
		}
		if ok {
			failed = append(failed, run)
		}
	}
	return failed, nil
}

func (r *Reclaimer) isStale(run *models.ProcessingRun, now time.Time) bool {
	return run.StartedAt.Valid && now.Sub(run.StartedAt.Time) >= r.monitor.thresholds.StaleAfter
}

// failStale fails the run and every one of its items still processing in a single transaction.
// Completed items are left alone.
func failStale(ctx context.Context, st *store.Store, run *models.ProcessingRun, now time.Time) (bool, error) {
	var failed bool
	var itemsFailed int64
	err := st.InTx(ctx, func(tx *store.Store) error {
		var err error
		if failed, err = tx.FailRun(ctx, run.ID, now); err != nil || !failed {
			return err
		}
		if itemsFailed, err = tx.FailProcessingItems(ctx, run.VideoIDs, ItemStaleReason, now); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, run.ID, models.EventFailed, "stale run reclaimed", now)
	})
	if err != nil {
		return false, err
	}

	if failed {
		log.Warn().
			Str("run_id", run.ID).
			Time("started_at", run.StartedAt.Time).
			Int64("items_failed", itemsFailed).
			Msg("Failed stale run")
	}
	return failed, nil
}
