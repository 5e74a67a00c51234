package queue

import (
	"context"
	"errors"
	"time"
)

type Reason string

const (
	ReasonLaunch Reason = "launch" // a new run wants a worker
	ReasonResume Reason = "resume" // a paused run had its remaining items requeued
)

// RunMessage asks a worker to pick up a run
type RunMessage struct {
	RunID       string    `json:"run_id"`
	UserID      string    `json:"user_id"`
	RunType     string    `json:"run_type"`
	Reason      Reason    `json:"reason"`
	PublishedAt time.Time `json:"published_at"`
}

func (m *RunMessage) Validate() error {
	var errs []error
	if m.RunID == "" {
		errs = append(errs, errors.New("run_id is required"))
	}
	if m.Reason != ReasonLaunch && m.Reason != ReasonResume {
		errs = append(errs, errors.New("reason must be 'launch' or 'resume'"))
	}
	return errors.Join(errs...)
}

// Client defines the interface for run queue operations
type Client interface {
	Publish(ctx context.Context, message RunMessage) error
	Subscribe(ctx context.Context, handler func(RunMessage) error) error
	Close() error
}
