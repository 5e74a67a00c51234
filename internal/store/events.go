package store

import (
	"context"
	"time"

	"github.com/guregu/null/v6"
	"runwarden/internal/models"
)

// AppendEvent writes an audit record for a run transition
func (s *Store) AppendEvent(ctx context.Context, runID string, kind models.EventKind, detail string, now time.Time) error {
	_, err := s.exec(ctx, `
INSERT INTO run_events (run_id, kind, detail, created_at)
VALUES (?, ?, ?, ?)`, runID, kind, null.NewString(detail, detail != ""), now)
	return err
}

// ListEvents returns the run's events in the order they were written
func (s *Store) ListEvents(ctx context.Context, runID string) ([]models.RunEvent, error) {
	events := []models.RunEvent{}
	err := s.selectAll(ctx, &events, `SELECT * FROM run_events WHERE run_id = ? ORDER BY id`, runID)
	return events, err
}
