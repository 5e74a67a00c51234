package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"runwarden/internal/models"
	"runwarden/internal/queue"
	"runwarden/internal/store"
)

// analysisHistoryKey is the run summary cached inside a work item's analysis payload
const analysisHistoryKey = "processing_history"

// ItemAbandonedReason is written to items left processing by a run a reset abandoned
const ItemAbandonedReason = "Run abandoned by reset"

// DefaultListLimit caps ListRuns when the caller does not ask for a limit
const DefaultListLimit = 50

// CreateRun registers a pending run over the caller's work items and asks for a worker
func (s *Service) CreateRun(ctx context.Context, userID string, runType models.RunType, itemIDs []string) (*models.ProcessingRun, error) {
	if !runType.Valid() {
		return nil, fmt.Errorf("%w: unknown run type %q", ErrInvalid, runType)
	}
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("%w: a run needs at least one work item", ErrInvalid)
	}
	seen := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: work item %s listed twice", ErrInvalid, id)
		}
		seen[id] = struct{}{}
	}

	now := s.now()
	run := &models.ProcessingRun{
		ID:          uuid.NewString(),
		UserID:      userID,
		RunType:     runType,
		Status:      models.RunStatusPending,
		VideoIDs:    models.IDList(itemIDs),
		TotalVideos: len(itemIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.store.InTx(ctx, func(tx *store.Store) error {
		owned, err := tx.CountOwnedItems(ctx, userID, itemIDs)
		if err != nil {
			return err
		}
		if owned != len(itemIDs) {
			return fmt.Errorf("%w: one or more work items", ErrNotFound)
		}

		if err := tx.CreateRun(ctx, run); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, run.ID, models.EventCreated, fmt.Sprintf("%d work items", len(itemIDs)), now)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, run, queue.ReasonLaunch)
	log.Info().Str("run_id", run.ID).Str("user_id", userID).Int("items", len(itemIDs)).Msg("Run created")
	return run, nil
}

func (s *Service) GetRun(ctx context.Context, userID, runID string) (*models.ProcessingRun, error) {
	run, err := s.store.GetOwnedRun(ctx, runID, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, notFound("run", runID)
	}
	return run, err
}

// ListRuns returns the caller's runs, newest first
func (s *Service) ListRuns(ctx context.Context, userID string, limit int) ([]models.ProcessingRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.store.ListRuns(ctx, userID, limit)
}

// ListEvents returns the audit trail of one of the caller's runs
func (s *Service) ListEvents(ctx context.Context, userID, runID string) ([]models.RunEvent, error) {
	if _, err := s.GetRun(ctx, userID, runID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, runID)
}

// ResetResult reports what a reset touched
type ResetResult struct {
	ResetCount int64
	FailedRuns []string
}

// Reset puts work items back to pending. With all set, every one of the caller's processing and
// failed items is reset, otherwise only the listed ones. Any of the caller's runs still running
// is abandoned and failed. Items of an abandoned run that are still processing and were not
// listed are failed with ItemAbandonedReason, an item never stays processing without a run.
func (s *Service) Reset(ctx context.Context, userID string, itemIDs []string, all bool) (*ResetResult, error) {
	if !all && len(itemIDs) == 0 {
		return nil, fmt.Errorf("%w: work_item_ids or resetAll is required", ErrInvalid)
	}

	now := s.now()
	result := &ResetResult{}
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		if all {
			result.ResetCount, err = tx.ResetStuckItems(ctx, userID, now)
		} else {
			result.ResetCount, err = tx.ResetItems(ctx, userID, itemIDs, now)
		}
		if err != nil {
			return err
		}

		if result.FailedRuns, err = tx.FailRunningRuns(ctx, userID, now); err != nil {
			return err
		}
		for _, runID := range result.FailedRuns {
			run, err := tx.GetRun(ctx, runID)
			if err != nil {
				return err
			}
			// items of the abandoned run that were not reset must not stay processing
			if _, err := tx.FailProcessingItems(ctx, run.VideoIDs, ItemAbandonedReason, now); err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, runID, models.EventReset, "run abandoned by item reset", now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Int64("reset", result.ResetCount).
		Strs("failed_runs", result.FailedRuns).
		Msg("Reset work items")
	return result, nil
}

// Delete removes one of the caller's runs, or every run that includes one of the caller's work
// items. Deleting by item also drops the run history cached in the item's analysis.
func (s *Service) Delete(ctx context.Context, userID, runID, itemID string) (int64, error) {
	if (runID == "") == (itemID == "") {
		return 0, fmt.Errorf("%w: exactly one of runId or videoId is required", ErrInvalid)
	}

	now := s.now()
	var deleted int64
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		if runID != "" {
			n, err := tx.DeleteRun(ctx, runID, userID)
			if err != nil {
				return err
			}
			if n == 0 {
				return notFound("run", runID)
			}
			deleted = n
			return nil
		}

		item, err := tx.GetOwnedWorkItem(ctx, itemID, userID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("work item", itemID)
		} else if err != nil {
			return err
		}

		runs, err := tx.RunsContainingItem(ctx, userID, itemID)
		if err != nil {
			return err
		}
		for _, run := range runs {
			n, err := tx.DeleteRun(ctx, run.ID, userID)
			if err != nil {
				return err
			}
			deleted += n
		}

		scrubbed, changed, err := scrubHistory(item.Analysis)
		if err != nil {
			log.Warn().Err(err).Str("work_item_id", itemID).Msg("Analysis payload is not an object, leaving it as is")
			return nil
		}
		if changed {
			return tx.UpdateItemAnalysis(ctx, itemID, scrubbed, now)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	log.Info().Str("user_id", userID).Int64("deleted", deleted).Msg("Deleted runs")
	return deleted, nil
}

// scrubHistory drops the cached run history from an analysis payload
func scrubHistory(analysis models.JSONPayload) (models.JSONPayload, bool, error) {
	if len(analysis) == 0 {
		return analysis, false, nil
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(analysis, &doc); err != nil {
		return analysis, false, err
	}
	if _, ok := doc[analysisHistoryKey]; !ok {
		return analysis, false, nil
	}

	delete(doc, analysisHistoryKey)
	out, err := json.Marshal(doc)
	if err != nil {
		return analysis, false, err
	}
	return out, true, nil
}

// ResumeResult describes what a resume did. Run is the run a worker should pick up, a new one
// when the resumed run had failed.
type ResumeResult struct {
	Run      *models.ProcessingRun
	NewRun   bool
	Requeued int64
	Queued   bool
}

// Resume gives a paused or failed run another worker. A paused run keeps its record and has its
// unfinished items requeued. A failed run is terminal, its unfinished items go into a new run.
func (s *Service) Resume(ctx context.Context, userID, runID string) (*ResumeResult, error) {
	now := s.now()
	result := &ResumeResult{}

	err := s.store.InTx(ctx, func(tx *store.Store) error {
		run, err := tx.GetOwnedRun(ctx, runID, userID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("run", runID)
		} else if err != nil {
			return err
		}

		switch run.Status {
		case models.RunStatusPaused:
			if result.Requeued, err = tx.RequeueItems(ctx, run.VideoIDs, now); err != nil {
				return err
			}
			// requeued items lose their old outcome, the counters must follow
			if err := tx.RecountRun(ctx, run.ID, run.VideoIDs, now); err != nil {
				return err
			}
			if result.Run, err = tx.GetRun(ctx, run.ID); err != nil {
				return err
			}
			return tx.AppendEvent(ctx, run.ID, models.EventResumed, fmt.Sprintf("%d items requeued", result.Requeued), now)

		case models.RunStatusFailed:
			items, err := tx.ListWorkItems(ctx, run.VideoIDs)
			if err != nil {
				return err
			}
			remaining := unfinished(run.VideoIDs, items)
			if len(remaining) == 0 {
				return fmt.Errorf("%w: run %s has no unfinished work items", ErrConflict, runID)
			}

			next := &models.ProcessingRun{
				ID:          uuid.NewString(),
				UserID:      userID,
				RunType:     run.RunType,
				Status:      models.RunStatusPending,
				VideoIDs:    remaining,
				TotalVideos: len(remaining),
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.CreateRun(ctx, next); err != nil {
				return err
			}
			if result.Requeued, err = tx.RequeueItems(ctx, remaining, now); err != nil {
				return err
			}
			if err := tx.AppendEvent(ctx, next.ID, models.EventCreated, "resumed from run "+run.ID, now); err != nil {
				return err
			}
			result.Run, result.NewRun = next, true
			return tx.AppendEvent(ctx, run.ID, models.EventResumed, "continued as run "+next.ID, now)

		default:
			return fmt.Errorf("%w: run %s is %s and cannot be resumed", ErrConflict, runID, run.Status)
		}
	})
	if err != nil {
		return nil, err
	}

	reason := queue.ReasonResume
	if result.NewRun {
		reason = queue.ReasonLaunch
	}
	result.Queued = s.publish(ctx, result.Run, reason)

	log.Info().
		Str("run_id", runID).
		Str("resumed_as", result.Run.ID).
		Int64("requeued", result.Requeued).
		Msg("Run resumed")
	return result, nil
}

// unfinished keeps the run's item order and drops completed or missing items
func unfinished(order []string, items []models.WorkItem) models.IDList {
	status := make(map[string]models.ItemStatus, len(items))
	for _, item := range items {
		status[item.ID] = item.ProcessingStatus
	}

	remaining := models.IDList{}
	for _, id := range order {
		if st, ok := status[id]; ok && st != models.ItemStatusCompleted {
			remaining = append(remaining, id)
		}
	}
	return remaining
}
