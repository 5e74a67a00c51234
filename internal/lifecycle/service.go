// Package lifecycle implements the processing run state machine on top of the run store: worker
// signals (start, heartbeat, progress, item completion, log save) and operator actions (create,
// reset, resume, delete).
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guregu/null/v6"
	"github.com/rs/zerolog/log"
	"runwarden/internal/liveness"
	"runwarden/internal/logparse"
	"runwarden/internal/logstore"
	"runwarden/internal/models"
	"runwarden/internal/queue"
	"runwarden/internal/store"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	ErrInvalid  = errors.New("invalid request")
)

// Service coordinates run transitions. The queue is optional, without one launch and resume
// messages are not published.
type Service struct {
	store     *store.Store
	logs      logstore.Store
	queue     queue.Client
	reclaimer *liveness.Reclaimer
	parser    logparse.Parser
	now       func() time.Time
}

type Option func(s *Service)

// WithQueue publishes launch and resume messages to q
func WithQueue(q queue.Client) Option {
	return func(s *Service) { s.queue = q }
}

// WithClassifier replaces the log line classifier used by SaveLogs
func WithClassifier(c logparse.Classifier) Option {
	return func(s *Service) { s.parser.Classify = c }
}

// WithClock replaces the time source of the service and its liveness checks
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(st *store.Store, logs logstore.Store, thresholds liveness.Thresholds, opts ...Option) *Service {
	s := &Service{
		store:     st,
		logs:      logs,
		reclaimer: liveness.NewReclaimer(st, thresholds),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reclaimer.SetClock(s.now)
	return s
}

// Reclaimer exposes the liveness checks sharing this service's store and clock
func (s *Service) Reclaimer() *liveness.Reclaimer {
	return s.reclaimer
}

// Heartbeat stamps the run with the current time. It fails only when the run does not exist
func (s *Service) Heartbeat(ctx context.Context, runID string) error {
	ok, err := s.store.TouchHeartbeat(ctx, runID, s.now())
	if err != nil {
		return err
	}
	if !ok {
		return notFound("run", runID)
	}
	return nil
}

// CheckDead pauses runs whose heartbeat went silent
func (s *Service) CheckDead(ctx context.Context) ([]models.ProcessingRun, error) {
	return s.reclaimer.Monitor().SweepDead(ctx)
}

// CheckActive reports the caller's running run after failing or pausing it when it is stale or dead
func (s *Service) CheckActive(ctx context.Context, userID string) (*liveness.ActiveReport, error) {
	return s.reclaimer.CheckActive(ctx, userID)
}

// Start moves a pending or paused run to running on behalf of the worker that picked it up
func (s *Service) Start(ctx context.Context, runID string) (*models.ProcessingRun, error) {
	now := s.now()
	var run *models.ProcessingRun
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		started, err := tx.StartRun(ctx, runID, now)
		if err != nil {
			return err
		}

		run, err = tx.GetRun(ctx, runID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("run", runID)
		} else if err != nil {
			return err
		}

		if !started {
			return fmt.Errorf("%w: run %s is %s and cannot be started", ErrConflict, runID, run.Status)
		}
		return tx.AppendEvent(ctx, runID, models.EventStarted, "", now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().Str("run_id", runID).Msg("Run started")
	return run, nil
}

// ProgressUpdate is a progress ping from the worker
type ProgressUpdate struct {
	RunID         string
	WorkItemID    string
	Progress      float64
	StatusMessage string
	Filename      null.String
}

// Progress records the worker's position. Values are taken as given, they are not required to
// increase. While the run is running the item is claimed as processing.
func (s *Service) Progress(ctx context.Context, p ProgressUpdate) error {
	now := s.now()
	return s.store.InTx(ctx, func(tx *store.Store) error {
		run, err := tx.GetRun(ctx, p.RunID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("run", p.RunID)
		} else if err != nil {
			return err
		}
		if !run.Contains(p.WorkItemID) {
			return fmt.Errorf("%w: work item %s is not part of run %s", ErrInvalid, p.WorkItemID, p.RunID)
		}

		update := store.ProgressUpdate{
			RunID:         p.RunID,
			WorkItemID:    p.WorkItemID,
			Progress:      p.Progress,
			StatusMessage: p.StatusMessage,
			Filename:      p.Filename.Ptr(),
		}
		if _, err := tx.UpdateProgress(ctx, update, now); err != nil {
			return err
		}

		if run.Status == models.RunStatusRunning {
			if _, err := tx.MarkItemProcessing(ctx, p.WorkItemID, now); err != nil {
				return err
			}
		}
		return nil
	})
}

// ItemOutcome is the worker's report that it is done with one item
type ItemOutcome struct {
	RunID      string
	WorkItemID string
	Success    bool
	Error      null.String
	ResultPath null.String
}

// Complete records an item outcome and completes the run once every item has one. Repeated
// reports for the same outcome do not move the counters again.
func (s *Service) Complete(ctx context.Context, o ItemOutcome) (*models.ProcessingRun, error) {
	now := s.now()
	var run *models.ProcessingRun
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		run, err = tx.GetRun(ctx, o.RunID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("run", o.RunID)
		} else if err != nil {
			return err
		}
		if !run.Contains(o.WorkItemID) {
			return fmt.Errorf("%w: work item %s is not part of run %s", ErrInvalid, o.WorkItemID, o.RunID)
		}

		status, lastError := models.ItemStatusCompleted, null.String{}
		if !o.Success {
			status = models.ItemStatusFailed
			lastError = o.Error
			if !lastError.Valid || lastError.String == "" {
				lastError = null.StringFrom("Processing failed")
			}
		}

		item, err := tx.GetWorkItem(ctx, o.WorkItemID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("work item", o.WorkItemID)
		} else if err != nil {
			return err
		}

		changed, err := tx.SetItemOutcome(ctx, o.WorkItemID, status, lastError, o.ResultPath, now)
		if err != nil {
			return err
		}
		if changed {
			if _, err := tx.RecordItemOutcome(ctx, o.RunID, o.WorkItemID, item.ProcessingStatus, o.Success, now); err != nil {
				return err
			}
		}

		done, err := tx.CompleteRunIfDone(ctx, o.RunID, now)
		if err != nil {
			return err
		}
		if done {
			if err := tx.AppendEvent(ctx, o.RunID, models.EventCompleted, "", now); err != nil {
				return err
			}
		}

		run, err = tx.GetRun(ctx, o.RunID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if run.Status == models.RunStatusCompleted {
		log.Info().
			Str("run_id", run.ID).
			Int("processed", run.VideosProcessed).
			Int("failed", run.VideosFailed).
			Msg("Run completed")
	}
	return run, nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

func (s *Service) publish(ctx context.Context, run *models.ProcessingRun, reason queue.Reason) bool {
	if s.queue == nil {
		return false
	}

	err := s.queue.Publish(ctx, queue.RunMessage{
		RunID:       run.ID,
		UserID:      run.UserID,
		RunType:     string(run.RunType),
		Reason:      reason,
		PublishedAt: s.now(),
	})
	if err != nil {
		log.Error().Err(err).Str("run_id", run.ID).Str("reason", string(reason)).Msg("Could not publish run message")
		return false
	}
	return true
}
