package logparse

import (
	"regexp"
	"strings"
)

type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Classifier decides the level of a single line of worker output
type Classifier func(line string) Level

var (
	// explicit tags are matched case-sensitively
	reErrorTag   = regexp.MustCompile(`\[ERROR\]|\[STDERR\]|\bTraceback\b|\b[A-Z][A-Za-z]*(Exception|Error)\b|\bException\b`)
	reWarningTag = regexp.MustCompile(`\[WARNING\]|\[WARN\]|\bWARNING\b|⚠`)
)

// DefaultClassifier flags a line as an error when it carries an explicit error tag or contains
// the word "error" in any case. Warning tags are reported as warnings.
func DefaultClassifier(line string) Level {
	if reErrorTag.MatchString(line) || strings.Contains(strings.ToLower(line), "error") {
		return LevelError
	}
	if reWarningTag.MatchString(line) {
		return LevelWarning
	}
	return LevelInfo
}
