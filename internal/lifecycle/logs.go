package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"runwarden/internal/logstore"
	"runwarden/internal/models"
	"runwarden/internal/store"
)

// ItemLogFailureReason is written to items still processing when a log save fails their run
const ItemLogFailureReason = "Processing failed, see run logs"

// LogStats summarises a saved log
type LogStats struct {
	TotalLines   int `json:"totalLines"`
	ErrorLines   int `json:"errorLines"`
	LogSizeBytes int `json:"logSizeBytes"`
}

type SaveLogsResult struct {
	Stats     LogStats
	FailedRun bool // the save was the run's terminal failure signal
}

// SaveLogs parses the output captured for one of the caller's runs and stores it on the run. When
// text is nil the output is read from the log artifact store. A run still running is failed by
// the save.
func (s *Service) SaveLogs(ctx context.Context, userID, runID string, text *string) (*SaveLogsResult, error) {
	if _, err := s.store.GetOwnedRun(ctx, runID, userID); errors.Is(err, store.ErrNotFound) {
		return nil, notFound("run", runID)
	} else if err != nil {
		return nil, err
	}

	var raw string
	if text != nil {
		raw = *text
	} else {
		var err error
		raw, err = s.logs.Read(ctx, runID)
		if errors.Is(err, logstore.ErrNotFound) {
			return nil, fmt.Errorf("%w: log file not found", ErrNotFound)
		} else if errors.Is(err, logstore.ErrInvalidKey) {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		} else if err != nil {
			return nil, fmt.Errorf("could not read log artifact: %w", err)
		}
	}

	now := s.now()
	parsed := s.parser.Parse(raw, now)
	result := &SaveLogsResult{
		Stats: LogStats{
			TotalLines:   parsed.TotalLines,
			ErrorLines:   parsed.ErrorLines,
			LogSizeBytes: parsed.SizeBytes,
		},
	}

	err := s.store.InTx(ctx, func(tx *store.Store) error {
		// the status is read again inside the transaction, a sweep may have moved the run on
		run, err := tx.GetRun(ctx, runID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("run", runID)
		} else if err != nil {
			return err
		}
		if _, err := tx.SaveLogs(ctx, runID, parsed.Logs, parsed.Errors, now); err != nil {
			return err
		}

		detail := fmt.Sprintf("%d lines, %d errors", parsed.TotalLines, parsed.ErrorLines)
		if err := tx.AppendEvent(ctx, runID, models.EventLogsSaved, detail, now); err != nil {
			return err
		}

		if run.Status != models.RunStatusRunning {
			return nil
		}
		if result.FailedRun, err = tx.FailRun(ctx, runID, now); err != nil || !result.FailedRun {
			return err
		}
		if _, err := tx.FailProcessingItems(ctx, run.VideoIDs, ItemLogFailureReason, now); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, runID, models.EventFailed, "failure logs saved", now)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("run_id", runID).
		Int("lines", parsed.TotalLines).
		Int("errors", parsed.ErrorLines).
		Bool("failed_run", result.FailedRun).
		Msg("Saved run logs")
	return result, nil
}
