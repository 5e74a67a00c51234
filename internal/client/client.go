// Package client talks to the control plane API on behalf of workers and operator tools
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"runwarden/internal/api"
	"runwarden/internal/models"
)

// APIError is a non 2xx answer from the control plane
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("control plane returned %d: %s", e.Status, e.Message)
}

type Client struct {
	baseURL    string
	httpClient *http.Client

	// identity sent to operator endpoints
	UserHeader string
	UserID     string
	Token      string
}

// New creates a client for the control plane at baseURL. Requests time out after timeout
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + "/api/processing",
		httpClient: &http.Client{Timeout: timeout},
		UserHeader: "X-User-ID",
	}
}

// WithUser returns a copy of the client acting as userID
func (c *Client) WithUser(userID string) *Client {
	cp := *c
	cp.UserID = userID
	return &cp
}

func (c *Client) Heartbeat(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/heartbeat", api.RunRequest{RunID: runID}, nil)
}

func (c *Client) Start(ctx context.Context, runID string) (*models.ProcessingRun, error) {
	var out api.RunResponse
	if err := c.do(ctx, http.MethodPost, "/start", api.RunRequest{RunID: runID}, &out); err != nil {
		return nil, err
	}
	return out.Run, nil
}

func (c *Client) Progress(ctx context.Context, runID, itemID string, progress float64, message, filename string) error {
	return c.do(ctx, http.MethodPost, "/progress", api.ProgressRequest{
		RunID:         runID,
		WorkItemID:    itemID,
		Progress:      &progress,
		StatusMessage: message,
		Filename:      null.NewString(filename, filename != ""),
	}, nil)
}

func (c *Client) Complete(ctx context.Context, runID, itemID string, success bool, errMessage, resultPath string) (*models.ProcessingRun, error) {
	var out api.RunResponse
	err := c.do(ctx, http.MethodPost, "/complete", api.CompleteRequest{
		RunID:      runID,
		WorkItemID: itemID,
		Success:    &success,
		Error:      null.NewString(errMessage, errMessage != ""),
		ResultPath: null.NewString(resultPath, resultPath != ""),
	}, &out)
	if err != nil {
		return nil, err
	}
	return out.Run, nil
}

// SaveLogs asks the control plane to ingest the run's log artifact, or logs when not nil
func (c *Client) SaveLogs(ctx context.Context, runID string, logs *string) (*api.SaveLogsResponse, error) {
	var out api.SaveLogsResponse
	if err := c.do(ctx, http.MethodPost, "/save-logs", api.SaveLogsRequest{RunID: runID, Logs: logs}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Active(ctx context.Context) (*api.ActiveResponse, error) {
	var out api.ActiveResponse
	if err := c.do(ctx, http.MethodGet, "/active", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckDead(ctx context.Context) (*api.CheckDeadResponse, error) {
	var out api.CheckDeadResponse
	if err := c.do(ctx, http.MethodGet, "/check-dead", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Reset(ctx context.Context, itemIDs []string, all bool) (*api.ResetResponse, error) {
	var out api.ResetResponse
	if err := c.do(ctx, http.MethodPost, "/reset", api.ResetRequest{WorkItemIDs: itemIDs, ResetAll: all}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Delete(ctx context.Context, runID string) (*api.DeleteResponse, error) {
	var out api.DeleteResponse
	path := "/delete?runId=" + url.QueryEscape(runID)
	if err := c.do(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.UserID != "" && c.UserHeader != "" {
		req.Header.Set(c.UserHeader, c.UserID)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return err
	}

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) != nil || apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
