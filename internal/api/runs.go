package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// CheckDead pauses runs whose worker stopped sending heartbeats
func (s *Server) CheckDead(w http.ResponseWriter, r *http.Request) {
	runs, err := s.service.CheckDead(r.Context())
	if err != nil {
		serveServiceError(w, r, err)
		return
	}

	dead := make([]DeadRun, 0, len(runs))
	for _, run := range runs {
		dead = append(dead, DeadRun{ID: run.ID, LastHeartbeat: run.LastHeartbeat, StartedAt: run.StartedAt})
	}
	serveJson(w, http.StatusOK, CheckDeadResponse{
		Success:          true,
		DeadRunsDetected: len(dead),
		DeadRuns:         dead,
	})
}

// Active returns the caller's running run, reclaiming it first when it is stale
func (s *Server) Active(w http.ResponseWriter, r *http.Request) {
	report, err := s.service.CheckActive(r.Context(), userFrom(r))
	if err != nil {
		serveServiceError(w, r, err)
		return
	}

	stuck := make([]StuckItem, 0, len(report.StuckItems))
	for _, item := range report.StuckItems {
		stuck = append(stuck, StuckItem{ID: item.ID, Filename: item.Filename})
	}
	serveJson(w, http.StatusOK, ActiveResponse{
		Success:          true,
		ActiveRun:        report.ActiveRun,
		HasActiveRun:     report.ActiveRun != nil,
		StuckVideosCount: len(stuck),
		StuckVideos:      stuck,
	})
}

func (s *Server) SaveLogs(w http.ResponseWriter, r *http.Request) {
	var payload SaveLogsRequest
	if err := readJson(r, &payload); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.validate(); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.service.SaveLogs(r.Context(), userFrom(r), payload.RunID, payload.Logs)
	if err != nil {
		serveServiceError(w, r, err)
		return
	}

	message := fmt.Sprintf("Saved %d log lines with %d errors", res.Stats.TotalLines, res.Stats.ErrorLines)
	if res.FailedRun {
		message += ", run marked as failed"
	}
	serveJson(w, http.StatusOK, SaveLogsResponse{Success: true, Message: message, Stats: res.Stats})
}

func (s *Server) Reset(w http.ResponseWriter, r *http.Request) {
	var payload ResetRequest
	if err := readJson(r, &payload); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.validate(); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.service.Reset(r.Context(), userFrom(r), payload.WorkItemIDs, payload.ResetAll)
	if err != nil {
		serveServiceError(w, r, err)
		return
	}
	serveJson(w, http.StatusOK, ResetResponse{
		Success:    true,
		ResetCount: res.ResetCount,
		FailedRuns: res.FailedRuns,
		Message:    fmt.Sprintf("Reset %d work items to pending", res.ResetCount),
	})
}

// Delete removes a run by ?runId= or every run of a work item by ?videoId=
func (s *Server) Delete(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	itemID := r.URL.Query().Get("videoId")
	if (runID == "") == (itemID == "") {
		serveError(w, http.StatusBadRequest, "exactly one of runId or videoId is required")
		return
	}

	n, err := s.service.Delete(r.Context(), userFrom(r), runID, itemID)
	if err != nil {
		serveServiceError(w, r, err)
		return
	}
	serveJson(w, http.StatusOK, DeleteResponse{
		Success:      true,
		Message:      fmt.Sprintf("Deleted %d processing runs", n),
		DeletedCount: n,
	})
}

func (s *Server) Resume(w http.ResponseWriter, r *http.Request) {
	var payload RunRequest
	if err := readJson(r, &payload); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.validate(); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := s.service.Resume(r.Context(), userFrom(r), payload.RunID)
	if err != nil {
		serveServiceError(w, r, err)
		return
	}
	serveJson(w, http.StatusOK, ResumeResponse{
		Success:  true,
		Run:      res.Run,
		NewRun:   res.NewRun,
		Requeued: res.Requeued,
		Queued:   res.Queued,
	})
}

func (s *Server) CreateRun(w http.ResponseWriter, r *http.Request) {
	var payload CreateRunRequest
	if err := readJson(r, &payload); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.validate(); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.service.CreateRun(r.Context(), userFrom(r), payload.RunType, payload.WorkItemIDs)
	if err != nil {
		serveServiceError(w, r, err)
		return
	}
	serveJson(w, http.StatusCreated, RunResponse{Success: true, Run: run})
}

func (s *Server) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		var err error
		if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
			serveError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
	}

	runs, err := s.service.ListRuns(r.Context(), userFrom(r), limit)
	if err != nil {
		serveServiceError(w, r, err)
		return
	}
	serveJson(w, http.StatusOK, RunsResponse{Success: true, Runs: runs})
}

func (s *Server) GetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.GetRun(r.Context(), userFrom(r), chi.URLParam(r, "runID"))
	if err != nil {
		serveServiceError(w, r, err)
		return
	}
	serveJson(w, http.StatusOK, RunResponse{Success: true, Run: run})
}

func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.service.ListEvents(r.Context(), userFrom(r), chi.URLParam(r, "runID"))
	if err != nil {
		serveServiceError(w, r, err)
		return
	}
	serveJson(w, http.StatusOK, EventsResponse{Success: true, Events: events})
}
