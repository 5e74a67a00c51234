// Package testutil builds throwaway run stores for tests
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/guregu/null/v6"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"runwarden/internal/database"
	"runwarden/internal/models"
	"runwarden/internal/store"
)

// Epoch is a fixed, second aligned reference time for tests
var Epoch = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

// NewDB opens a migrated in-memory sqlite database that is closed when the test ends
func NewDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

func NewStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(NewDB(t))
}

// SeedItem inserts a work item owned by userID
func SeedItem(t *testing.T, st *store.Store, userID, filename string, status models.ItemStatus) *models.WorkItem {
	t.Helper()

	item := &models.WorkItem{
		ID:               uuid.NewString(),
		UserID:           userID,
		Filename:         filename,
		ProcessingStatus: status,
		CreatedAt:        Epoch.Add(-time.Hour),
		UpdatedAt:        Epoch.Add(-time.Hour),
	}
	if status == models.ItemStatusFailed {
		item.LastError = null.StringFrom("previous failure")
	}
	require.NoError(t, st.CreateWorkItem(context.Background(), item))
	return item
}

// RunOption tweaks a seeded run before it is inserted
type RunOption func(run *models.ProcessingRun)

func WithStatus(status models.RunStatus) RunOption {
	return func(run *models.ProcessingRun) { run.Status = status }
}

func StartedAgo(d time.Duration) RunOption {
	return func(run *models.ProcessingRun) { run.StartedAt = null.TimeFrom(Epoch.Add(-d)) }
}

func HeartbeatAgo(d time.Duration) RunOption {
	return func(run *models.ProcessingRun) { run.LastHeartbeat = null.TimeFrom(Epoch.Add(-d)) }
}

func WithoutHeartbeat() RunOption {
	return func(run *models.ProcessingRun) { run.LastHeartbeat = null.Time{} }
}

// SeedRun inserts a run over items. Unless overridden it is running, started a minute before
// Epoch and heartbeated at Epoch.
func SeedRun(t *testing.T, st *store.Store, userID string, items []*models.WorkItem, opts ...RunOption) *models.ProcessingRun {
	t.Helper()

	ids := make(models.IDList, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}

	run := &models.ProcessingRun{
		ID:            uuid.NewString(),
		UserID:        userID,
		RunType:       models.RunTypeLocal,
		Status:        models.RunStatusRunning,
		VideoIDs:      ids,
		TotalVideos:   len(ids),
		StartedAt:     null.TimeFrom(Epoch.Add(-time.Minute)),
		LastHeartbeat: null.TimeFrom(Epoch),
		CreatedAt:     Epoch.Add(-time.Hour),
		UpdatedAt:     Epoch.Add(-time.Hour),
	}
	for _, opt := range opts {
		opt(run)
	}

	require.NoError(t, st.CreateRun(context.Background(), run))
	return run
}

// SetCurrentItem points the run at an in-flight item directly in the database
func SetCurrentItem(t *testing.T, db *sqlx.DB, runID, itemID string) {
	t.Helper()
	_, err := db.Exec(db.Rebind(`UPDATE processing_runs SET current_video_id = ? WHERE id = ?`), itemID, runID)
	require.NoError(t, err)
}
