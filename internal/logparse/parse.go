// Package logparse turns captured worker output into structured log and error entries
package logparse

import (
	"strings"
	"time"

	"runwarden/internal/models"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05,000",
}

// Result is the structured form of a log artifact
type Result struct {
	Logs       models.LogEntries
	Errors     models.ErrorEntries
	TotalLines int
	ErrorLines int
	SizeBytes  int
}

// Parser splits raw output into entries. The zero value uses DefaultClassifier
type Parser struct {
	Classify Classifier
}

// Parse splits text into non-blank lines, stamps each one with its leading bracketed timestamp or
// with now, and collects the lines the classifier marks as errors.
func (p Parser) Parse(text string, now time.Time) Result {
	classify := p.Classify
	if classify == nil {
		classify = DefaultClassifier
	}

	fallback := now.UTC().Format(time.RFC3339)
	res := Result{
		Logs:      models.LogEntries{},
		Errors:    models.ErrorEntries{},
		SizeBytes: len(text),
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		ts, message := splitTimestamp(line)
		if ts == "" {
			ts = fallback
		}

		res.Logs = append(res.Logs, models.LogEntry{Timestamp: ts, Message: message})
		if level := classify(line); level == LevelError {
			res.Errors = append(res.Errors, models.ErrorEntry{
				Timestamp: ts,
				Message:   message,
				Severity:  level.String(),
			})
		}
	}

	res.TotalLines = len(res.Logs)
	res.ErrorLines = len(res.Errors)
	return res
}

// splitTimestamp separates a leading "[<timestamp>]" token from the rest of the line. Bracketed
// tokens that are not timestamps, such as "[ERROR]", are left in the message.
func splitTimestamp(line string) (string, string) {
	if !strings.HasPrefix(line, "[") {
		return "", line
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return "", line
	}

	token := strings.TrimSpace(line[1:end])
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, token); err == nil {
			return t.UTC().Format(time.RFC3339Nano), strings.TrimSpace(line[end+1:])
		}
	}
	return "", line
}
