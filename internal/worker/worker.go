package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"runwarden/internal/client"
	"runwarden/internal/logstore"
	"runwarden/internal/models"
	"runwarden/internal/queue"
)

const (
	ExitCodeCancelled int = 990
	ExitCodeUnknown   int = 999

	DefaultHeartbeatInterval = 10 * time.Second
	heartbeatTimeout         = 5 * time.Second
	heartbeatWarnAfter       = 10
)

// ControlPlane is what the worker needs from the control plane API
type ControlPlane interface {
	Start(ctx context.Context, runID string) (*models.ProcessingRun, error)
	Heartbeat(ctx context.Context, runID string) error
	SaveLogs(ctx context.Context, userID, runID string) error
}

// NewControlPlane adapts the API client. Log saves are sent as the run's owner
func NewControlPlane(c *client.Client) ControlPlane {
	return &apiControlPlane{client: c}
}

type apiControlPlane struct {
	client *client.Client
}

func (p *apiControlPlane) Start(ctx context.Context, runID string) (*models.ProcessingRun, error) {
	return p.client.Start(ctx, runID)
}

func (p *apiControlPlane) Heartbeat(ctx context.Context, runID string) error {
	return p.client.Heartbeat(ctx, runID)
}

func (p *apiControlPlane) SaveLogs(ctx context.Context, userID, runID string) error {
	_, err := p.client.WithUser(userID).SaveLogs(ctx, runID, nil)
	return err
}

type Options struct {
	Command           string        // analysis command, run once per run
	ControlPlaneURL   string        // handed to the command as RW_CONTROL_PLANE_URL
	HeartbeatInterval time.Duration // defaults to DefaultHeartbeatInterval
}

// Worker picks runs off the queue and executes the analysis command for each of them. The
// command reports progress itself, the worker keeps the run alive and captures its output.
type Worker struct {
	ID    string
	plane ControlPlane
	queue queue.Client
	logs  logstore.Store
	opts  Options
}

func New(plane ControlPlane, q queue.Client, logs logstore.Store, opts Options) *Worker {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	return &Worker{
		ID:    uuid.New().String(),
		plane: plane,
		queue: q,
		logs:  logs,
		opts:  opts,
	}
}

// Start is a blocking function. It listens to the queue for queue.RunMessage and processes each
// run until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	log.Info().Str("worker_id", w.ID).Msg("Worker listening for runs")
	return w.queue.Subscribe(ctx, func(message queue.RunMessage) error {
		_, err := w.Process(ctx, message)
		return err
	})
}

type RunResult struct {
	ExitCode int
	Error    string
}

// Process claims the run, heartbeats while the command runs and saves the captured output as
// the failure logs when the command does not exit cleanly
func (w *Worker) Process(ctx context.Context, message queue.RunMessage) (*RunResult, error) {
	logger := log.With().Str("worker_id", w.ID).Str("run_id", message.RunID).Logger()

	if _, err := w.plane.Start(ctx, message.RunID); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict {
			logger.Warn().Err(err).Msg("Run already taken, skipping")
			return nil, nil
		}
		return nil, fmt.Errorf("could not start run: %w", err)
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		newHeartbeat(w.plane, message.RunID, w.opts.HeartbeatInterval).run(hbCtx)
	}()

	res := w.RunShellTask(ctx, message.RunID)
	stopHeartbeat()
	<-heartbeatDone

	if res.ExitCode == 0 {
		logger.Info().Msg("Run command finished")
		return res, nil
	}

	logger.Error().Int("exit_code", res.ExitCode).Str("error", res.Error).Msg("Run command failed")
	// the command may be gone because ctx was cancelled, the save must still go out
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := w.plane.SaveLogs(saveCtx, message.UserID, message.RunID); err != nil {
		return res, fmt.Errorf("could not save failure logs: %w", err)
	}
	return res, nil
}

// RunShellTask executes the configured command for one run, appending its combined output to
// the run's log artifact
func (w *Worker) RunShellTask(ctx context.Context, runID string) *RunResult {
	log.Info().
		Str("type", "shell").
		Str("run_id", runID).
		Str("command", w.opts.Command).
		Msg("Executing run")

	cmdName, args, err := splitCommand(w.opts.Command)
	if err != nil {
		return &RunResult{ExitCode: 1, Error: err.Error()}
	}

	out, err := w.logs.Writer(ctx, runID)
	if err != nil {
		return &RunResult{ExitCode: 1, Error: fmt.Sprintf("could not open log artifact: %v", err)}
	}

	cmd := exec.CommandContext(ctx, cmdName, args...)
	cmd.Env = append(os.Environ(),
		"RW_RUN_ID="+runID,
		"RW_CONTROL_PLANE_URL="+w.opts.ControlPlaneURL,
	)
	var output io.Writer = out
	cmd.Stdout = output
	cmd.Stderr = &prefixWriter{w: output, prefix: "[STDERR] "}

	res := &RunResult{}
	if err := cmd.Run(); err != nil {
		res.ExitCode = ExitCodeUnknown
		res.Error = err.Error()

		var exitError *exec.ExitError
		switch {
		case errors.Is(ctx.Err(), context.Canceled):
			res.ExitCode = ExitCodeCancelled
		case errors.As(err, &exitError):
			res.ExitCode = exitError.ExitCode()
		}
	}

	if err := out.Close(); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("Could not close log artifact")
		if res.ExitCode == 0 {
			res.ExitCode, res.Error = 1, err.Error()
		}
	}
	return res
}
