package api

import (
	"errors"
	"strings"

	"github.com/guregu/null/v6"
	"runwarden/internal/lifecycle"
	"runwarden/internal/models"
)

type RunRequest struct {
	RunID string `json:"run_id"`
}

func (c *RunRequest) validate() error {
	c.RunID = strings.TrimSpace(c.RunID)
	if c.RunID == "" {
		return errors.New("run_id is required")
	}
	return nil
}

type ProgressRequest struct {
	RunID         string      `json:"run_id"`
	WorkItemID    string      `json:"work_item_id"`
	Progress      *float64    `json:"progress"`
	StatusMessage string      `json:"status_message"`
	Filename      null.String `json:"filename"`
}

func (c *ProgressRequest) validate() error {
	var errs []error

	c.RunID = strings.TrimSpace(c.RunID)
	if c.RunID == "" {
		errs = append(errs, errors.New("run_id is required"))
	}

	c.WorkItemID = strings.TrimSpace(c.WorkItemID)
	if c.WorkItemID == "" {
		errs = append(errs, errors.New("work_item_id is required"))
	}

	if c.Progress == nil {
		errs = append(errs, errors.New("progress must be a number"))
	}

	return errors.Join(errs...)
}

type CompleteRequest struct {
	RunID      string      `json:"run_id"`
	WorkItemID string      `json:"work_item_id"`
	Success    *bool       `json:"success"`
	Error      null.String `json:"error"`
	ResultPath null.String `json:"result_path"`
}

func (c *CompleteRequest) validate() error {
	var errs []error

	c.RunID = strings.TrimSpace(c.RunID)
	if c.RunID == "" {
		errs = append(errs, errors.New("run_id is required"))
	}

	c.WorkItemID = strings.TrimSpace(c.WorkItemID)
	if c.WorkItemID == "" {
		errs = append(errs, errors.New("work_item_id is required"))
	}

	if c.Success == nil {
		errs = append(errs, errors.New("success is required"))
	}

	return errors.Join(errs...)
}

type SaveLogsRequest struct {
	RunID string  `json:"run_id"`
	Logs  *string `json:"logs"`
}

func (c *SaveLogsRequest) validate() error {
	c.RunID = strings.TrimSpace(c.RunID)
	if c.RunID == "" {
		return errors.New("run_id is required")
	}
	return nil
}

type ResetRequest struct {
	WorkItemIDs []string `json:"work_item_ids"`
	ResetAll    bool     `json:"resetAll"`
}

func (c *ResetRequest) validate() error {
	if !c.ResetAll && len(c.WorkItemIDs) == 0 {
		return errors.New("work_item_ids or resetAll is required")
	}

	var errs []error
	for _, id := range c.WorkItemIDs {
		if strings.TrimSpace(id) == "" {
			errs = append(errs, errors.New("work_item_ids must not contain empty ids"))
			break
		}
	}
	return errors.Join(errs...)
}

type CreateRunRequest struct {
	RunType     models.RunType `json:"run_type"`
	WorkItemIDs []string       `json:"work_item_ids"`
}

func (c *CreateRunRequest) validate() error {
	var errs []error

	if c.RunType == "" {
		c.RunType = models.RunTypeLocal
	}
	if !c.RunType.Valid() {
		errs = append(errs, errors.New("run_type must be one of local, remote-tier-a, remote-tier-b"))
	}

	if len(c.WorkItemIDs) == 0 {
		errs = append(errs, errors.New("work_item_ids is empty"))
	}

	return errors.Join(errs...)
}

type successResponse struct {
	Success bool `json:"success"`
}

type DeadRun struct {
	ID            string    `json:"id"`
	LastHeartbeat null.Time `json:"last_heartbeat"`
	StartedAt     null.Time `json:"started_at"`
}

type CheckDeadResponse struct {
	Success          bool      `json:"success"`
	DeadRunsDetected int       `json:"deadRunsDetected"`
	DeadRuns         []DeadRun `json:"deadRuns"`
}

type StuckItem struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

type ActiveResponse struct {
	Success          bool                  `json:"success"`
	ActiveRun        *models.ProcessingRun `json:"activeRun"`
	HasActiveRun     bool                  `json:"hasActiveRun"`
	StuckVideosCount int                   `json:"stuckVideosCount"`
	StuckVideos      []StuckItem           `json:"stuckVideos"`
}

type SaveLogsResponse struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Stats   lifecycle.LogStats `json:"stats"`
}

type ResetResponse struct {
	Success    bool     `json:"success"`
	ResetCount int64    `json:"resetCount"`
	FailedRuns []string `json:"failedRuns"`
	Message    string   `json:"message"`
}

type DeleteResponse struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	DeletedCount int64  `json:"deletedCount"`
}

type RunResponse struct {
	Success bool                  `json:"success"`
	Run     *models.ProcessingRun `json:"run"`
}

type ResumeResponse struct {
	Success  bool                  `json:"success"`
	Run      *models.ProcessingRun `json:"run"`
	NewRun   bool                  `json:"newRun"`
	Requeued int64                 `json:"requeued"`
	Queued   bool                  `json:"queued"`
}

type RunsResponse struct {
	Success bool                   `json:"success"`
	Runs    []models.ProcessingRun `json:"runs"`
}

type EventsResponse struct {
	Success bool              `json:"success"`
	Events  []models.RunEvent `json:"events"`
}
