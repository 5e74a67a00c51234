package lifecycle_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"runwarden/internal/lifecycle"
	"runwarden/internal/models"
	"runwarden/internal/queue"
	"runwarden/internal/testutil"
)

func withReason(reason queue.Reason) any {
	return mock.MatchedBy(func(m queue.RunMessage) bool { return m.Reason == reason })
}

func TestReset_All(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusProcessing)
	v2 := testutil.SeedItem(t, f.st, alice, "b.mp4", models.ItemStatusFailed)
	v3 := testutil.SeedItem(t, f.st, alice, "c.mp4", models.ItemStatusFailed)
	done := testutil.SeedItem(t, f.st, alice, "d.mp4", models.ItemStatusCompleted)
	other := testutil.SeedItem(t, f.st, bob, "e.mp4", models.ItemStatusFailed)
	running := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v1, v2, v3})
	bobRun := testutil.SeedRun(t, f.st, bob, []*models.WorkItem{other})

	res, err := f.svc.Reset(ctx, alice, nil, true)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.ResetCount)
	assert.Equal(t, []string{running.ID}, res.FailedRuns)

	for _, id := range []string{v1.ID, v2.ID, v3.ID} {
		item := f.item(t, id)
		assert.Equal(t, models.ItemStatusPending, item.ProcessingStatus)
		assert.False(t, item.LastError.Valid)
	}
	assert.Equal(t, models.ItemStatusCompleted, f.item(t, done.ID).ProcessingStatus)
	assert.Equal(t, models.ItemStatusFailed, f.item(t, other.ID).ProcessingStatus)

	assert.Equal(t, models.RunStatusFailed, f.run(t, running.ID).Status)
	assert.Equal(t, models.RunStatusRunning, f.run(t, bobRun.ID).Status)
}

func TestReset_ListedItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusCompleted)
	v2 := testutil.SeedItem(t, f.st, alice, "b.mp4", models.ItemStatusFailed)
	v3 := testutil.SeedItem(t, f.st, alice, "c.mp4", models.ItemStatusProcessing)
	foreign := testutil.SeedItem(t, f.st, bob, "d.mp4", models.ItemStatusFailed)
	run := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v3})

	res, err := f.svc.Reset(ctx, alice, []string{v1.ID, v2.ID, foreign.ID}, false)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.ResetCount)

	assert.Equal(t, models.ItemStatusPending, f.item(t, v1.ID).ProcessingStatus)
	assert.Equal(t, models.ItemStatusPending, f.item(t, v2.ID).ProcessingStatus)
	assert.Equal(t, models.ItemStatusFailed, f.item(t, foreign.ID).ProcessingStatus)

	// the abandoned run does not leave its in-flight item processing
	assert.Equal(t, models.RunStatusFailed, f.run(t, run.ID).Status)
	item := f.item(t, v3.ID)
	assert.Equal(t, models.ItemStatusFailed, item.ProcessingStatus)
	assert.Equal(t, lifecycle.ItemAbandonedReason, item.LastError.String)

	events, err := f.st.ListEvents(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventReset, events[0].Kind)
}

func TestReset_RequiresTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Reset(context.Background(), alice, nil, false)
	assert.ErrorIs(t, err, lifecycle.ErrInvalid)
}

func TestDelete_ByRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusCompleted)
	run := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v1}, testutil.WithStatus(models.RunStatusCompleted))

	_, err := f.svc.Delete(ctx, bob, run.ID, "")
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
	f.run(t, run.ID)

	n, err := f.svc.Delete(ctx, alice, run.ID, "")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.svc.GetRun(ctx, alice, run.ID)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	_, err = f.svc.Delete(ctx, alice, run.ID, "")
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}

func TestDelete_ByItemScrubsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusCompleted)
	v2 := testutil.SeedItem(t, f.st, alice, "b.mp4", models.ItemStatusCompleted)
	r1 := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v1, v2}, testutil.WithStatus(models.RunStatusCompleted))
	r2 := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v1}, testutil.WithStatus(models.RunStatusFailed))
	r3 := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v2}, testutil.WithStatus(models.RunStatusCompleted))

	analysis := models.JSONPayload(`{"motion":0.4,"processing_history":[{"run":"x"}]}`)
	require.NoError(t, f.st.UpdateItemAnalysis(ctx, v1.ID, analysis, testutil.Epoch))

	_, err := f.svc.Delete(ctx, bob, "", v1.ID)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)

	n, err := f.svc.Delete(ctx, alice, "", v1.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	_, err = f.st.GetRun(ctx, r1.ID)
	assert.Error(t, err)
	_, err = f.st.GetRun(ctx, r2.ID)
	assert.Error(t, err)
	f.run(t, r3.ID)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(f.item(t, v1.ID).Analysis, &doc))
	assert.NotContains(t, doc, "processing_history")
	assert.InDelta(t, 0.4, doc["motion"], 0.0001)
}

func TestDelete_RequiresExactlyOneTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Delete(context.Background(), alice, "", "")
	assert.ErrorIs(t, err, lifecycle.ErrInvalid)
	_, err = f.svc.Delete(context.Background(), alice, "r", "v")
	assert.ErrorIs(t, err, lifecycle.ErrInvalid)
}

func TestResume_PausedRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusCompleted)
	v2 := testutil.SeedItem(t, f.st, alice, "b.mp4", models.ItemStatusFailed)
	v3 := testutil.SeedItem(t, f.st, alice, "c.mp4", models.ItemStatusPending)
	run := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v1, v2, v3}, testutil.WithStatus(models.RunStatusPaused))

	f.queue.On("Publish", mock.Anything, withReason(queue.ReasonResume)).Return(nil).Once()

	res, err := f.svc.Resume(ctx, alice, run.ID)
	require.NoError(t, err)
	assert.False(t, res.NewRun)
	assert.True(t, res.Queued)
	assert.Equal(t, run.ID, res.Run.ID)
	assert.EqualValues(t, 1, res.Requeued)

	assert.Equal(t, models.ItemStatusCompleted, f.item(t, v1.ID).ProcessingStatus)
	assert.Equal(t, models.ItemStatusPending, f.item(t, v2.ID).ProcessingStatus)
	assert.Equal(t, models.RunStatusPaused, f.run(t, run.ID).Status)

	// the worker that picks up the message restarts the run
	started, err := f.svc.Start(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, started.Status)

	events, err := f.svc.ListEvents(ctx, alice, run.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventResumed, events[0].Kind)
	assert.Equal(t, models.EventStarted, events[1].Kind)
}

func TestResume_PausedRunRetryIsCountedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusPending)
	v2 := testutil.SeedItem(t, f.st, alice, "b.mp4", models.ItemStatusPending)
	v3 := testutil.SeedItem(t, f.st, alice, "c.mp4", models.ItemStatusPending)
	run := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v1, v2, v3})

	_, err := f.svc.Complete(ctx, lifecycle.ItemOutcome{RunID: run.ID, WorkItemID: v1.ID, Success: true})
	require.NoError(t, err)
	got, err := f.svc.Complete(ctx, lifecycle.ItemOutcome{RunID: run.ID, WorkItemID: v2.ID, Error: null.StringFrom("decoder crashed")})
	require.NoError(t, err)
	assert.Equal(t, 1, got.VideosProcessed)
	assert.Equal(t, 1, got.VideosFailed)

	paused, err := f.st.PauseRun(ctx, run.ID, testutil.Epoch)
	require.NoError(t, err)
	require.True(t, paused)

	f.queue.On("Publish", mock.Anything, withReason(queue.ReasonResume)).Return(nil).Once()
	res, err := f.svc.Resume(ctx, alice, run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Run.VideosProcessed)
	assert.Equal(t, 0, res.Run.VideosFailed, "the requeued failure no longer counts")

	_, err = f.svc.Start(ctx, run.ID)
	require.NoError(t, err)

	got, err = f.svc.Complete(ctx, lifecycle.ItemOutcome{RunID: run.ID, WorkItemID: v2.ID, Success: true})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status, "v3 is still pending")
	assert.Equal(t, 2, got.VideosProcessed)
	assert.Equal(t, 0, got.VideosFailed)
	assert.Equal(t, models.ItemStatusPending, f.item(t, v3.ID).ProcessingStatus)

	got, err = f.svc.Complete(ctx, lifecycle.ItemOutcome{RunID: run.ID, WorkItemID: v3.ID, Success: true})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, got.Status)
	assert.Equal(t, 3, got.VideosProcessed)
}

func TestComplete_FailedItemSucceedsInSameRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusProcessing)
	v2 := testutil.SeedItem(t, f.st, alice, "b.mp4", models.ItemStatusPending)
	run := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v1, v2})

	_, err := f.svc.Complete(ctx, lifecycle.ItemOutcome{RunID: run.ID, WorkItemID: v1.ID})
	require.NoError(t, err)

	got, err := f.svc.Complete(ctx, lifecycle.ItemOutcome{RunID: run.ID, WorkItemID: v1.ID, Success: true})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Equal(t, 1, got.VideosProcessed)
	assert.Equal(t, 0, got.VideosFailed)
}

func TestResume_FailedRunContinuesAsNewRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusCompleted)
	v2 := testutil.SeedItem(t, f.st, alice, "b.mp4", models.ItemStatusFailed)
	v3 := testutil.SeedItem(t, f.st, alice, "c.mp4", models.ItemStatusPending)
	run := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v1, v2, v3}, testutil.WithStatus(models.RunStatusFailed))

	f.queue.On("Publish", mock.Anything, withReason(queue.ReasonLaunch)).Return(nil).Once()

	res, err := f.svc.Resume(ctx, alice, run.ID)
	require.NoError(t, err)
	assert.True(t, res.NewRun)
	assert.NotEqual(t, run.ID, res.Run.ID)
	assert.Equal(t, models.RunStatusPending, res.Run.Status)
	assert.Equal(t, models.IDList{v2.ID, v3.ID}, res.Run.VideoIDs)
	assert.Equal(t, 2, res.Run.TotalVideos)

	assert.Equal(t, models.RunStatusFailed, f.run(t, run.ID).Status)
	assert.Equal(t, models.ItemStatusPending, f.item(t, v2.ID).ProcessingStatus)
}

func TestResume_Rejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusCompleted)

	for _, status := range []models.RunStatus{models.RunStatusRunning, models.RunStatusCompleted, models.RunStatusPending} {
		run := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v1}, testutil.WithStatus(status))
		_, err := f.svc.Resume(ctx, alice, run.ID)
		assert.ErrorIs(t, err, lifecycle.ErrConflict, "status %s", status)
	}

	failed := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v1}, testutil.WithStatus(models.RunStatusFailed))
	_, err := f.svc.Resume(ctx, alice, failed.ID)
	assert.ErrorIs(t, err, lifecycle.ErrConflict)

	_, err = f.svc.Resume(ctx, bob, failed.ID)
	assert.ErrorIs(t, err, lifecycle.ErrNotFound)
}

func TestCreateRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusPending)
	v2 := testutil.SeedItem(t, f.st, alice, "b.mp4", models.ItemStatusPending)
	foreign := testutil.SeedItem(t, f.st, bob, "c.mp4", models.ItemStatusPending)

	f.queue.On("Publish", mock.Anything, withReason(queue.ReasonLaunch)).Return(nil).Once()

	run, err := f.svc.CreateRun(ctx, alice, models.RunTypeRemoteTierA, []string{v1.ID, v2.ID})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, run.Status)
	assert.Equal(t, 2, run.TotalVideos)

	runs, err := f.svc.ListRuns(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	tests := []struct {
		name    string
		runType models.RunType
		ids     []string
		want    error
	}{
		{"unknown run type", "gpu-farm", []string{v1.ID}, lifecycle.ErrInvalid},
		{"no items", models.RunTypeLocal, nil, lifecycle.ErrInvalid},
		{"duplicate items", models.RunTypeLocal, []string{v1.ID, v1.ID}, lifecycle.ErrInvalid},
		{"foreign item", models.RunTypeLocal, []string{v1.ID, foreign.ID}, lifecycle.ErrNotFound},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := f.svc.CreateRun(ctx, alice, test.runType, test.ids)
			assert.ErrorIs(t, err, test.want)
		})
	}
}

func TestCreateRun_QueueFailureKeepsRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusPending)

	f.queue.On("Publish", mock.Anything, mock.Anything).Return(errors.New("redis down")).Once()

	run, err := f.svc.CreateRun(ctx, alice, models.RunTypeLocal, []string{v1.ID})
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusPending, f.run(t, run.ID).Status)
}

func TestCheckDead_UsesServiceClock(t *testing.T) {
	f := newFixture(t)
	v1 := testutil.SeedItem(t, f.st, alice, "a.mp4", models.ItemStatusPending)
	run := testutil.SeedRun(t, f.st, alice, []*models.WorkItem{v1},
		testutil.StartedAgo(5*time.Minute),
		testutil.HeartbeatAgo(61*time.Second),
	)

	dead, err := f.svc.CheckDead(context.Background())
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, run.ID, dead[0].ID)
	assert.Equal(t, models.RunStatusPaused, f.run(t, run.ID).Status)
}
