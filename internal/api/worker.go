package api

import (
	"net/http"

	"runwarden/internal/lifecycle"
)

// Heartbeat stamps the run with the time of last contact
func (s *Server) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var payload RunRequest
	if err := readJson(r, &payload); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.validate(); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.service.Heartbeat(r.Context(), payload.RunID); err != nil {
		serveServiceError(w, r, err)
		return
	}
	serveJson(w, http.StatusOK, successResponse{Success: true})
}

// Start is called by the worker that picked the run up
func (s *Server) Start(w http.ResponseWriter, r *http.Request) {
	var payload RunRequest
	if err := readJson(r, &payload); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.validate(); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.service.Start(r.Context(), payload.RunID)
	if err != nil {
		serveServiceError(w, r, err)
		return
	}
	serveJson(w, http.StatusOK, RunResponse{Success: true, Run: run})
}

func (s *Server) Progress(w http.ResponseWriter, r *http.Request) {
	var payload ProgressRequest
	if err := readJson(r, &payload); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.validate(); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := s.service.Progress(r.Context(), lifecycle.ProgressUpdate{
		RunID:         payload.RunID,
		WorkItemID:    payload.WorkItemID,
		Progress:      *payload.Progress,
		StatusMessage: payload.StatusMessage,
		Filename:      payload.Filename,
	})
	if err != nil {
		serveServiceError(w, r, err)
		return
	}
	serveJson(w, http.StatusOK, successResponse{Success: true})
}

// Complete records the outcome of one work item
func (s *Server) Complete(w http.ResponseWriter, r *http.Request) {
	var payload CompleteRequest
	if err := readJson(r, &payload); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := payload.validate(); err != nil {
		serveError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.service.Complete(r.Context(), lifecycle.ItemOutcome{
		RunID:      payload.RunID,
		WorkItemID: payload.WorkItemID,
		Success:    *payload.Success,
		Error:      payload.Error,
		ResultPath: payload.ResultPath,
	})
	if err != nil {
		serveServiceError(w, r, err)
		return
	}
	serveJson(w, http.StatusOK, RunResponse{Success: true, Run: run})
}
