// Package logstore holds the captured output of worker invocations, one artifact per run id
package logstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	ErrNotFound   = errors.New("log file not found")
	ErrInvalidKey = errors.New("invalid run id for log artifact")
)

// Store reads and writes log artifacts keyed by run id
type Store interface {
	// Read returns the whole artifact or ErrNotFound
	Read(ctx context.Context, runID string) (string, error)
	// Writer opens the artifact for appending captured output
	Writer(ctx context.Context, runID string) (io.WriteCloser, error)
}

func artifactName(runID string) (string, error) {
	if runID == "" || strings.ContainsAny(runID, `/\`) || strings.Contains(runID, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, runID)
	}
	return runID + ".log", nil
}
