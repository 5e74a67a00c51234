package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"runwarden/internal/models"
	"runwarden/internal/store"
	"runwarden/internal/testutil"
)

var now = testutil.Epoch

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	itemID := uuid.NewString()

	boom := errors.New("boom")
	err := st.InTx(ctx, func(tx *store.Store) error {
		require.NoError(t, tx.CreateWorkItem(ctx, &models.WorkItem{
			ID:               itemID,
			UserID:           "u1",
			Filename:         "a.mp4",
			ProcessingStatus: models.ItemStatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = st.GetWorkItem(ctx, itemID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInTx_Commits(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	item := testutil.SeedItem(t, st, "u1", "a.mp4", models.ItemStatusPending)
	run := testutil.SeedRun(t, st, "u1", []*models.WorkItem{item})

	err := st.InTx(ctx, func(tx *store.Store) error {
		// nested calls reuse the open transaction
		return tx.InTx(ctx, func(inner *store.Store) error {
			if _, err := inner.PauseRun(ctx, run.ID, now); err != nil {
				return err
			}
			return inner.AppendEvent(ctx, run.ID, models.EventPaused, "test", now)
		})
	})
	require.NoError(t, err)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPaused, got.Status)

	events, err := st.ListEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventPaused, events[0].Kind)
}

func TestRunTransitions_AreGuarded(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	run := testutil.SeedRun(t, st, "u1", nil)

	paused, err := st.PauseRun(ctx, run.ID, now)
	require.NoError(t, err)
	assert.True(t, paused)

	paused, err = st.PauseRun(ctx, run.ID, now)
	require.NoError(t, err)
	assert.False(t, paused, "second pause must not touch the row")

	failed, err := st.FailRun(ctx, run.ID, now)
	require.NoError(t, err)
	assert.False(t, failed, "only running runs can be failed")

	started, err := st.StartRun(ctx, run.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, started)

	failed, err = st.FailRun(ctx, run.ID, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, failed)

	started, err = st.StartRun(ctx, run.ID, now)
	require.NoError(t, err)
	assert.False(t, started, "failed runs are terminal")

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	assert.True(t, got.CompletedAt.Time.Equal(now.Add(2*time.Minute)))
}

func TestFindDeadRuns_Boundary(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)

	atDeadline := testutil.SeedRun(t, st, "u1", nil, testutil.HeartbeatAgo(60*time.Second))
	testutil.SeedRun(t, st, "u1", nil, testutil.HeartbeatAgo(59*time.Second))
	neverBeat := testutil.SeedRun(t, st, "u1", nil, testutil.WithoutHeartbeat(), testutil.StartedAgo(2*time.Minute))
	testutil.SeedRun(t, st, "u1", nil, testutil.WithStatus(models.RunStatusPaused), testutil.HeartbeatAgo(time.Hour))

	runs, err := st.FindDeadRuns(ctx, now.Add(-60*time.Second))
	require.NoError(t, err)

	var ids []string
	for _, r := range runs {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{atDeadline.ID, neverBeat.ID}, ids)
}

func TestRecordItemOutcome_CountersAreCapped(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	item := testutil.SeedItem(t, st, "u1", "a.mp4", models.ItemStatusProcessing)
	run := testutil.SeedRun(t, st, "u1", []*models.WorkItem{item})

	done, err := st.CompleteRunIfDone(ctx, run.ID, now)
	require.NoError(t, err)
	assert.False(t, done)

	recorded, err := st.RecordItemOutcome(ctx, run.ID, item.ID, models.ItemStatusProcessing, true, now)
	require.NoError(t, err)
	assert.True(t, recorded)

	recorded, err = st.RecordItemOutcome(ctx, run.ID, item.ID, models.ItemStatusProcessing, false, now)
	require.NoError(t, err)
	assert.False(t, recorded)

	done, err = st.CompleteRunIfDone(ctx, run.ID, now)
	require.NoError(t, err)
	assert.True(t, done)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.VideosProcessed)
	assert.Equal(t, 0, got.VideosFailed)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
}

func TestRecordItemOutcome_FailedItemSucceedsOnRetry(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	v1 := testutil.SeedItem(t, st, "u1", "a.mp4", models.ItemStatusProcessing)
	v2 := testutil.SeedItem(t, st, "u1", "b.mp4", models.ItemStatusPending)
	run := testutil.SeedRun(t, st, "u1", []*models.WorkItem{v1, v2})

	_, err := st.RecordItemOutcome(ctx, run.ID, v1.ID, models.ItemStatusProcessing, false, now)
	require.NoError(t, err)

	recorded, err := st.RecordItemOutcome(ctx, run.ID, v1.ID, models.ItemStatusFailed, true, now)
	require.NoError(t, err)
	assert.True(t, recorded)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.VideosProcessed)
	assert.Equal(t, 0, got.VideosFailed)

	done, err := st.CompleteRunIfDone(ctx, run.ID, now)
	require.NoError(t, err)
	assert.False(t, done, "the second item has no outcome yet")
}

func TestRecordItemOutcome_FailureFromBeforeTheRun(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	item := testutil.SeedItem(t, st, "u1", "a.mp4", models.ItemStatusFailed)
	run := testutil.SeedRun(t, st, "u1", []*models.WorkItem{item})

	recorded, err := st.RecordItemOutcome(ctx, run.ID, item.ID, models.ItemStatusFailed, true, now)
	require.NoError(t, err)
	assert.True(t, recorded)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.VideosProcessed)
	assert.Equal(t, 0, got.VideosFailed)
}

func TestRecountRun(t *testing.T) {
	ctx := context.Background()
	db := testutil.NewDB(t)
	st := store.New(db)
	done := testutil.SeedItem(t, st, "u1", "a.mp4", models.ItemStatusCompleted)
	failed := testutil.SeedItem(t, st, "u1", "b.mp4", models.ItemStatusFailed)
	pending := testutil.SeedItem(t, st, "u1", "c.mp4", models.ItemStatusPending)
	testutil.SeedItem(t, st, "u1", "d.mp4", models.ItemStatusCompleted)
	run := testutil.SeedRun(t, st, "u1", []*models.WorkItem{done, failed, pending})
	_, err := db.Exec(db.Rebind(`UPDATE processing_runs SET videos_processed = 2, videos_failed = 1 WHERE id = ?`), run.ID)
	require.NoError(t, err)

	require.NoError(t, st.RecountRun(ctx, run.ID, run.VideoIDs, now))

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.VideosProcessed, "items outside the run are not counted")
	assert.Equal(t, 1, got.VideosFailed)

	require.NoError(t, st.RecountRun(ctx, run.ID, nil, now))
	got, err = st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Zero(t, got.VideosProcessed)
	assert.Zero(t, got.VideosFailed)
}

func TestUpdateProgress(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	item := testutil.SeedItem(t, st, "u1", "a.mp4", models.ItemStatusPending)
	run := testutil.SeedRun(t, st, "u1", []*models.WorkItem{item})

	filename := "a.mp4"
	ok, err := st.UpdateProgress(ctx, store.ProgressUpdate{
		RunID: run.ID, WorkItemID: item.ID, Progress: 25, StatusMessage: "decoding", Filename: &filename,
	}, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// a ping without a filename keeps the last one
	_, err = st.UpdateProgress(ctx, store.ProgressUpdate{
		RunID: run.ID, WorkItemID: item.ID, Progress: 10, StatusMessage: "tracking",
	}, now.Add(time.Second))
	require.NoError(t, err)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "a.mp4", got.CurrentVideoFilename.String)
	assert.Equal(t, 10.0, got.CurrentProgress.Float64)
	assert.Equal(t, "tracking", got.CurrentStatusMessage.String)
	assert.Equal(t, item.ID, got.CurrentVideoID.String)

	ok, err = st.UpdateProgress(ctx, store.ProgressUpdate{RunID: "missing", WorkItemID: item.ID}, now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateProgress_PausedRunKeepsNoCurrentItem(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	item := testutil.SeedItem(t, st, "u1", "a.mp4", models.ItemStatusPending)
	run := testutil.SeedRun(t, st, "u1", []*models.WorkItem{item}, testutil.WithStatus(models.RunStatusPaused))

	_, err := st.UpdateProgress(ctx, store.ProgressUpdate{RunID: run.ID, WorkItemID: item.ID, Progress: 50}, now)
	require.NoError(t, err)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, got.CurrentVideoID.Valid)
}

func TestFailProcessingItems_OnlyTouchesProcessing(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	processing := testutil.SeedItem(t, st, "u1", "a.mp4", models.ItemStatusProcessing)
	completed := testutil.SeedItem(t, st, "u1", "b.mp4", models.ItemStatusCompleted)

	n, err := st.FailProcessingItems(ctx, []string{processing.ID, completed.ID}, "gone", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := st.GetWorkItem(ctx, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusCompleted, got.ProcessingStatus)

	got, err = st.GetWorkItem(ctx, processing.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusFailed, got.ProcessingStatus)
	assert.Equal(t, "gone", got.LastError.String)

	n, err = st.FailProcessingItems(ctx, nil, "gone", now)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSaveLogs_StoresEntries(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	run := testutil.SeedRun(t, st, "u1", nil)

	logs := models.LogEntries{{Timestamp: "12:00:00", Message: "starting"}, {Timestamp: "12:00:01", Message: "Traceback"}}
	errs := models.ErrorEntries{{Timestamp: "12:00:01", Message: "Traceback", Severity: "error"}}
	ok, err := st.SaveLogs(ctx, run.ID, logs, errs, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, logs, got.Logs)
	assert.Equal(t, errs, got.Errors)
}

func TestRunsContainingItem_AndDelete(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	a := testutil.SeedItem(t, st, "u1", "a.mp4", models.ItemStatusCompleted)
	b := testutil.SeedItem(t, st, "u1", "b.mp4", models.ItemStatusCompleted)
	both := testutil.SeedRun(t, st, "u1", []*models.WorkItem{a, b}, testutil.WithStatus(models.RunStatusCompleted))
	onlyB := testutil.SeedRun(t, st, "u1", []*models.WorkItem{b}, testutil.WithStatus(models.RunStatusCompleted))
	testutil.SeedRun(t, st, "u2", []*models.WorkItem{a}, testutil.WithStatus(models.RunStatusCompleted))

	runs, err := st.RunsContainingItem(ctx, "u1", a.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, both.ID, runs[0].ID)

	n, err := st.DeleteRun(ctx, onlyB.ID, "u2")
	require.NoError(t, err)
	assert.Zero(t, n, "other users cannot delete the run")

	n, err = st.DeleteRun(ctx, onlyB.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.GetRun(ctx, onlyB.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCountOwnedItems(t *testing.T) {
	ctx := context.Background()
	st := testutil.NewStore(t)
	mine := testutil.SeedItem(t, st, "u1", "a.mp4", models.ItemStatusPending)
	theirs := testutil.SeedItem(t, st, "u2", "b.mp4", models.ItemStatusPending)

	n, err := st.CountOwnedItems(ctx, "u1", []string{mine.ID, theirs.ID, "missing"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
