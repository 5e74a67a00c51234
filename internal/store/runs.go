package store

import (
	"context"
	"time"

	"runwarden/internal/models"
)

// CreateRun inserts a new run record
func (s *Store) CreateRun(ctx context.Context, run *models.ProcessingRun) error {
	_, err := s.exec(ctx, `
INSERT INTO processing_runs (id, user_id, run_type, status, video_ids, total_videos, started_at,
                             last_heartbeat, created_at, updated_at, logs, errors, benchmarks)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.UserID, run.RunType, run.Status, run.VideoIDs, run.TotalVideos, run.StartedAt,
		run.LastHeartbeat, run.CreatedAt, run.UpdatedAt, run.Logs, run.Errors, run.Benchmarks,
	)
	return err
}

func (s *Store) GetRun(ctx context.Context, id string) (*models.ProcessingRun, error) {
	var run models.ProcessingRun
	if err := s.get(ctx, &run, `SELECT * FROM processing_runs WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetOwnedRun returns ErrNotFound both for unknown runs and for runs owned by someone else
func (s *Store) GetOwnedRun(ctx context.Context, id, userID string) (*models.ProcessingRun, error) {
	var run models.ProcessingRun
	if err := s.get(ctx, &run, `SELECT * FROM processing_runs WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the caller's runs, newest first
func (s *Store) ListRuns(ctx context.Context, userID string, limit int) ([]models.ProcessingRun, error) {
	runs := []models.ProcessingRun{}
	err := s.selectAll(ctx, &runs, `
SELECT * FROM processing_runs
WHERE user_id = ?
ORDER BY created_at DESC
LIMIT ?`, userID, limit)
	return runs, err
}

// TouchHeartbeat stamps the run with the time of last contact
func (s *Store) TouchHeartbeat(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `UPDATE processing_runs SET last_heartbeat = ? WHERE id = ?`, now, id)
	return n > 0, err
}

// StartRun moves a pending or paused run to running
func (s *Store) StartRun(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
UPDATE processing_runs
SET status = 'running',
    started_at = ?,
    last_heartbeat = ?,
    completed_at = NULL,
    updated_at = ?
WHERE id = ?
  AND status IN ('pending', 'paused')`, now, now, now, id)
	return n > 0, err
}

// FindDeadRuns lists running runs whose last contact is at or before cutoff. A run that never
// sent a heartbeat is measured from its start.
func (s *Store) FindDeadRuns(ctx context.Context, cutoff time.Time) ([]models.ProcessingRun, error) {
	runs := []models.ProcessingRun{}
	err := s.selectAll(ctx, &runs, `
SELECT * FROM processing_runs
WHERE status = 'running'
  AND COALESCE(last_heartbeat, started_at) <= ?
ORDER BY started_at`, cutoff)
	return runs, err
}

// FindStaleRuns lists running runs started at or before cutoff
func (s *Store) FindStaleRuns(ctx context.Context, cutoff time.Time) ([]models.ProcessingRun, error) {
	runs := []models.ProcessingRun{}
	err := s.selectAll(ctx, &runs, `
SELECT * FROM processing_runs
WHERE status = 'running'
  AND started_at <= ?
ORDER BY started_at`, cutoff)
	return runs, err
}

// LatestRunningRun returns the most recently started running run of the user
func (s *Store) LatestRunningRun(ctx context.Context, userID string) (*models.ProcessingRun, error) {
	var run models.ProcessingRun
	err := s.get(ctx, &run, `
SELECT * FROM processing_runs
WHERE user_id = ?
  AND status = 'running'
ORDER BY started_at DESC
LIMIT 1`, userID)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// PauseRun demotes a running run to paused and drops its current item
func (s *Store) PauseRun(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
UPDATE processing_runs
SET status = 'paused',
    current_video_id = NULL,
    updated_at = ?
WHERE id = ?
  AND status = 'running'`, now, id)
	return n > 0, err
}

// FailRun marks a running run as failed
func (s *Store) FailRun(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
UPDATE processing_runs
SET status = 'failed',
    completed_at = ?,
    current_video_id = NULL,
    updated_at = ?
WHERE id = ?
  AND status = 'running'`, now, now, id)
	return n > 0, err
}

// FailRunningRuns fails every running run of the user and returns their ids
func (s *Store) FailRunningRuns(ctx context.Context, userID string, now time.Time) ([]string, error) {
	ids := []string{}
	if err := s.selectAll(ctx, &ids, `SELECT id FROM processing_runs WHERE user_id = ? AND status = 'running'`, userID); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return ids, nil
	}

	_, err := s.execIn(ctx, `
UPDATE processing_runs
SET status = 'failed',
    completed_at = ?,
    current_video_id = NULL,
    updated_at = ?
WHERE status = 'running'
  AND id IN (?)`, now, now, ids)
	return ids, err
}

// ProgressUpdate is a single progress ping from a worker
type ProgressUpdate struct {
	RunID         string
	WorkItemID    string
	Progress      float64
	StatusMessage string
	Filename      *string
}

// UpdateProgress records the worker's progress. The current item is only taken over while the run
// is running so a reclaimed run does not regain an in-flight item.
func (s *Store) UpdateProgress(ctx context.Context, p ProgressUpdate, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
UPDATE processing_runs
SET current_video_filename = COALESCE(?, current_video_filename),
    current_progress = ?,
    current_status_message = ?,
    current_video_id = CASE WHEN status = 'running' THEN ? ELSE current_video_id END,
    updated_at = ?
WHERE id = ?`, p.Filename, p.Progress, p.StatusMessage, p.WorkItemID, now, p.RunID)
	return n > 0, err
}

// RecordItemOutcome bumps the run counters for one finished item. previous is the item status
// before the outcome was written: an item the run already counted as failed that now succeeds
// moves between the counters instead of being counted twice. Counters never exceed the number
// of items in the run.
func (s *Store) RecordItemOutcome(ctx context.Context, runID, itemID string, previous models.ItemStatus, success bool, now time.Time) (bool, error) {
	var moved int64
	var err error
	switch {
	case success && previous == models.ItemStatusFailed:
		moved, err = s.shiftOutcome(ctx, runID, itemID, 1, -1, "videos_failed > 0", now)
	case !success && previous == models.ItemStatusCompleted:
		moved, err = s.shiftOutcome(ctx, runID, itemID, -1, 1, "videos_processed > 0", now)
	}
	if err != nil || moved > 0 {
		return moved > 0, err
	}

	// the previous outcome predates this run and was never counted
	processed, failed := 0, 1
	if success {
		processed, failed = 1, 0
	}
	n, err := s.shiftOutcome(ctx, runID, itemID, processed, failed, "videos_processed + videos_failed < total_videos", now)
	return n > 0, err
}

func (s *Store) shiftOutcome(ctx context.Context, runID, itemID string, processed, failed int, guard string, now time.Time) (int64, error) {
	return s.exec(ctx, `
UPDATE processing_runs
SET videos_processed = videos_processed + ?,
    videos_failed = videos_failed + ?,
    current_video_id = CASE WHEN current_video_id = ? THEN NULL ELSE current_video_id END,
    updated_at = ?
WHERE id = ?
  AND status = 'running'
  AND `+guard, processed, failed, itemID, now, runID)
}

// RecountRun derives the run counters from the current status of its items. Used after items
// went back to pending so a retried item is not counted on top of its old outcome.
func (s *Store) RecountRun(ctx context.Context, runID string, ids []string, now time.Time) error {
	if len(ids) == 0 {
		_, err := s.exec(ctx, `
UPDATE processing_runs
SET videos_processed = 0,
    videos_failed = 0,
    updated_at = ?
WHERE id = ?`, now, runID)
		return err
	}

	_, err := s.execIn(ctx, `
UPDATE processing_runs
SET videos_processed = (SELECT COUNT(*) FROM work_items WHERE processing_status = 'completed' AND id IN (?)),
    videos_failed = (SELECT COUNT(*) FROM work_items WHERE processing_status = 'failed' AND id IN (?)),
    updated_at = ?
WHERE id = ?`, ids, ids, now, runID)
	return err
}

// CompleteRunIfDone marks the run completed once every item has an outcome
func (s *Store) CompleteRunIfDone(ctx context.Context, runID string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
UPDATE processing_runs
SET status = 'completed',
    completed_at = ?,
    current_video_id = NULL,
    updated_at = ?
WHERE id = ?
  AND status = 'running'
  AND videos_processed + videos_failed >= total_videos`, now, now, runID)
	return n > 0, err
}

// SaveLogs replaces the run's captured logs and the errors filtered from them
func (s *Store) SaveLogs(ctx context.Context, runID string, logs models.LogEntries, errs models.ErrorEntries, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
UPDATE processing_runs
SET logs = ?,
    errors = ?,
    updated_at = ?
WHERE id = ?`, logs, errs, now, runID)
	return n > 0, err
}

// DeleteRun removes a run owned by userID together with its events
func (s *Store) DeleteRun(ctx context.Context, id, userID string) (int64, error) {
	n, err := s.exec(ctx, `DELETE FROM processing_runs WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil || n == 0 {
		return n, err
	}
	_, err = s.exec(ctx, `DELETE FROM run_events WHERE run_id = ?`, id)
	return n, err
}

// RunsContainingItem returns the user's runs that include itemID
func (s *Store) RunsContainingItem(ctx context.Context, userID, itemID string) ([]models.ProcessingRun, error) {
	var runs []models.ProcessingRun
	if err := s.selectAll(ctx, &runs, `SELECT * FROM processing_runs WHERE user_id = ?`, userID); err != nil {
		return nil, err
	}

	matched := []models.ProcessingRun{}
	for i := range runs {
		if runs[i].Contains(itemID) {
			matched = append(matched, runs[i])
		}
	}
	return matched, nil
}
