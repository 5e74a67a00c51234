package models

import (
	"time"

	"github.com/guregu/null/v6"
)

// This file contains the models backing the `processing_runs`, `work_items` and `run_events` tables

type RunType string

const (
	RunTypeLocal       RunType = "local"
	RunTypeRemoteTierA RunType = "remote-tier-a"
	RunTypeRemoteTierB RunType = "remote-tier-b"
)

// Valid reports whether the run type is one of the known worker classes
func (t RunType) Valid() bool {
	switch t {
	case RunTypeLocal, RunTypeRemoteTierA, RunTypeRemoteTierB:
		return true
	}
	return false
}

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// IsTerminal is true for statuses a run record never leaves
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusCompleted  ItemStatus = "completed"
	ItemStatusFailed     ItemStatus = "failed"
)

// ProcessingRun is one batch execution of an external worker against a list of work items.
// It is a model representing the `processing_runs` table
type ProcessingRun struct {
	ID                   string       `db:"id" json:"id"`
	UserID               string       `db:"user_id" json:"user_id"`
	RunType              RunType      `db:"run_type" json:"run_type"`
	Status               RunStatus    `db:"status" json:"status"`
	VideoIDs             IDList       `db:"video_ids" json:"video_ids"`                       // Work items assigned to the run. Immutable once started
	CurrentVideoID       null.String  `db:"current_video_id" json:"current_video_id"`         // Item the active worker is on
	CurrentVideoFilename null.String  `db:"current_video_filename" json:"current_video_filename"`
	CurrentProgress      null.Float   `db:"current_progress" json:"current_progress"`
	CurrentStatusMessage null.String  `db:"current_status_message" json:"current_status_message"`
	TotalVideos          int          `db:"total_videos" json:"total_videos"`
	VideosProcessed      int          `db:"videos_processed" json:"videos_processed"`
	VideosFailed         int          `db:"videos_failed" json:"videos_failed"`
	StartedAt            null.Time    `db:"started_at" json:"started_at"`
	CompletedAt          null.Time    `db:"completed_at" json:"completed_at"`
	LastHeartbeat        null.Time    `db:"last_heartbeat" json:"last_heartbeat"`
	CreatedAt            time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time    `db:"updated_at" json:"updated_at"`
	Logs                 LogEntries   `db:"logs" json:"logs"`
	Errors               ErrorEntries `db:"errors" json:"errors"`
	Benchmarks           JSONPayload  `db:"benchmarks" json:"benchmarks"` // Per-item throughput samples, stored as-is
}

// Contains reports whether itemID is one of the run's work items
func (r *ProcessingRun) Contains(itemID string) bool {
	for _, id := range r.VideoIDs {
		if id == itemID {
			return true
		}
	}
	return false
}

// WorkItem is a single video tracked independently of the run processing it.
// It is a model representing the `work_items` table
type WorkItem struct {
	ID               string      `db:"id" json:"id"`
	UserID           string      `db:"user_id" json:"user_id"`
	Filename         string      `db:"filename" json:"filename"`
	ProcessingStatus ItemStatus  `db:"processing_status" json:"processing_status"`
	LastError        null.String `db:"last_error" json:"last_error"`
	ResultPath       null.String `db:"result_path" json:"result_path"`
	Analysis         JSONPayload `db:"analysis" json:"analysis"`
	CreatedAt        time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time   `db:"updated_at" json:"updated_at"`
}

type EventKind string

const (
	EventCreated   EventKind = "created"
	EventStarted   EventKind = "started"
	EventPaused    EventKind = "paused"
	EventFailed    EventKind = "failed"
	EventCompleted EventKind = "completed"
	EventReset     EventKind = "reset"
	EventResumed   EventKind = "resumed"
	EventLogsSaved EventKind = "logs_saved"
)

// RunEvent is an audit record of a lifecycle transition
type RunEvent struct {
	ID        int64       `db:"id" json:"id"`
	RunID     string      `db:"run_id" json:"run_id"`
	Kind      EventKind   `db:"kind" json:"kind"`
	Detail    null.String `db:"detail" json:"detail"`
	CreatedAt time.Time   `db:"created_at" json:"created_at"`
}
