package worker

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/rs/zerolog/log"
)

// heartbeat keeps a run alive while its command executes. Failures are never fatal to the run,
// a missed beat only shortens the window before the control plane pauses it.
type heartbeat struct {
	plane       ControlPlane
	runID       string
	interval    time.Duration
	consecutive int
}

func newHeartbeat(plane ControlPlane, runID string, interval time.Duration) *heartbeat {
	return &heartbeat{plane: plane, runID: runID, interval: interval}
}

func (h *heartbeat) run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *heartbeat) beat(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, heartbeatTimeout)
	defer cancel()

	err := h.plane.Heartbeat(ctx, h.runID)
	if err == nil {
		if h.consecutive > 0 {
			log.Info().Str("run_id", h.runID).Int("missed", h.consecutive).Msg("Heartbeat recovered")
		}
		h.consecutive = 0
		return
	}

	h.consecutive++
	if shouldLogFailure(h.consecutive) {
		log.Error().
			Err(err).
			Str("run_id", h.runID).
			Int("consecutive_failures", h.consecutive).
			Msg("Could not send heartbeat")
	}
	if h.consecutive == heartbeatWarnAfter {
		log.Warn().
			Str("run_id", h.runID).
			Msg("Heartbeats keep failing, the control plane may mark this run as dead")
	}
}

// shouldLogFailure logs the first failure of a streak and every fifth after it
func shouldLogFailure(consecutive int) bool {
	return consecutive == 1 || consecutive%5 == 0
}

// prefixWriter marks every line written through it
type prefixWriter struct {
	w         io.Writer
	prefix    string
	midOfLine bool
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	var buf bytes.Buffer
	for _, line := range bytes.SplitAfter(b, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		if !p.midOfLine {
			buf.WriteString(p.prefix)
		}
		buf.Write(line)
		p.midOfLine = line[len(line)-1] != '\n'
	}

	if _, err := p.w.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(b), nil
}
