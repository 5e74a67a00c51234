package store

import (
	"context"
	"time"

	"github.com/guregu/null/v6"
	"runwarden/internal/models"
)

// CreateWorkItem inserts a work item. Items are normally created by the import flow
func (s *Store) CreateWorkItem(ctx context.Context, item *models.WorkItem) error {
	_, err := s.exec(ctx, `
INSERT INTO work_items (id, user_id, filename, processing_status, last_error, result_path, analysis, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.UserID, item.Filename, item.ProcessingStatus, item.LastError, item.ResultPath,
		item.Analysis, item.CreatedAt, item.UpdatedAt,
	)
	return err
}

func (s *Store) GetWorkItem(ctx context.Context, id string) (*models.WorkItem, error) {
	var item models.WorkItem
	if err := s.get(ctx, &item, `SELECT * FROM work_items WHERE id = ?`, id); err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetOwnedWorkItem(ctx context.Context, id, userID string) (*models.WorkItem, error) {
	var item models.WorkItem
	if err := s.get(ctx, &item, `SELECT * FROM work_items WHERE id = ? AND user_id = ?`, id, userID); err != nil {
		return nil, err
	}
	return &item, nil
}

// ListWorkItems returns the items with the given ids in no particular order
func (s *Store) ListWorkItems(ctx context.Context, ids []string) ([]models.WorkItem, error) {
	items := []models.WorkItem{}
	if len(ids) == 0 {
		return items, nil
	}
	err := s.selectIn(ctx, &items, `SELECT * FROM work_items WHERE id IN (?)`, ids)
	return items, err
}

// CountOwnedItems counts how many of ids belong to userID
func (s *Store) CountOwnedItems(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var ownedIDs []string
	if err := s.selectIn(ctx, &ownedIDs, `SELECT id FROM work_items WHERE user_id = ? AND id IN (?)`, userID, ids); err != nil {
		return 0, err
	}
	return len(ownedIDs), nil
}

// ProcessingItems lists the user's items currently marked as processing
func (s *Store) ProcessingItems(ctx context.Context, userID string) ([]models.WorkItem, error) {
	items := []models.WorkItem{}
	err := s.selectAll(ctx, &items, `
SELECT * FROM work_items
WHERE user_id = ?
  AND processing_status = 'processing'
ORDER BY updated_at`, userID)
	return items, err
}

// FailItemIfProcessing fails an item only while it is still processing. Losing the race against a
// worker that already finished the item is not an error.
func (s *Store) FailItemIfProcessing(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
UPDATE work_items
SET processing_status = 'failed',
    last_error = ?,
    updated_at = ?
WHERE id = ?
  AND processing_status = 'processing'`, reason, now, id)
	return n > 0, err
}

// FailProcessingItems fails every processing item among ids
func (s *Store) FailProcessingItems(ctx context.Context, ids []string, reason string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.execIn(ctx, `
UPDATE work_items
SET processing_status = 'failed',
    last_error = ?,
    updated_at = ?
WHERE processing_status = 'processing'
  AND id IN (?)`, reason, now, ids)
}

// MarkItemProcessing claims an item for the worker reporting progress on it
func (s *Store) MarkItemProcessing(ctx context.Context, id string, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
UPDATE work_items
SET processing_status = 'processing',
    updated_at = ?
WHERE id = ?
  AND processing_status IN ('pending', 'failed')`, now, id)
	return n > 0, err
}

// SetItemOutcome records a finished item. It reports false when the item already had that status,
// so repeated reports are not double counted.
func (s *Store) SetItemOutcome(ctx context.Context, id string, status models.ItemStatus, lastError, resultPath null.String, now time.Time) (bool, error) {
	n, err := s.exec(ctx, `
UPDATE work_items
SET processing_status = ?,
    last_error = ?,
    result_path = COALESCE(?, result_path),
    updated_at = ?
WHERE id = ?
  AND processing_status <> ?`, status, lastError, resultPath, now, id, status)
	return n > 0, err
}

// ResetItems puts the user's listed items back to pending whatever their status
func (s *Store) ResetItems(ctx context.Context, userID string, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.execIn(ctx, `
UPDATE work_items
SET processing_status = 'pending',
    last_error = NULL,
    updated_at = ?
WHERE user_id = ?
  AND id IN (?)`, now, userID, ids)
}

// ResetStuckItems puts all of the user's processing and failed items back to pending
func (s *Store) ResetStuckItems(ctx context.Context, userID string, now time.Time) (int64, error) {
	return s.exec(ctx, `
UPDATE work_items
SET processing_status = 'pending',
    last_error = NULL,
    updated_at = ?
WHERE user_id = ?
  AND processing_status IN ('processing', 'failed')`, now, userID)
}

// RequeueItems puts failed or processing items among ids back to pending
func (s *Store) RequeueItems(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	return s.execIn(ctx, `
UPDATE work_items
SET processing_status = 'pending',
    last_error = NULL,
    updated_at = ?
WHERE processing_status IN ('failed', 'processing')
  AND id IN (?)`, now, ids)
}

// UpdateItemAnalysis overwrites the stored analysis payload of an item
func (s *Store) UpdateItemAnalysis(ctx context.Context, id string, analysis models.JSONPayload, now time.Time) error {
	_, err := s.exec(ctx, `UPDATE work_items SET analysis = ?, updated_at = ? WHERE id = ?`, analysis, now, id)
	return err
}
