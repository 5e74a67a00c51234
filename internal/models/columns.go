package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// LogEntry is a single line of captured worker output
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
}

// ErrorEntry is a log line that was classified as a problem
type ErrorEntry struct {
	Timestamp string `json:"timestamp"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
}

// IDList is an ordered list of ids stored as a JSON array column
type IDList []string

func (l IDList) Value() (driver.Value, error) {
	return jsonValue([]string(l))
}

func (l *IDList) Scan(src any) error {
	return scanJSON(src, l)
}

type LogEntries []LogEntry

func (l LogEntries) Value() (driver.Value, error) {
	return jsonValue([]LogEntry(l))
}

func (l *LogEntries) Scan(src any) error {
	return scanJSON(src, l)
}

type ErrorEntries []ErrorEntry

func (e ErrorEntries) Value() (driver.Value, error) {
	return jsonValue([]ErrorEntry(e))
}

func (e *ErrorEntries) Scan(src any) error {
	return scanJSON(src, e)
}

// JSONPayload is an opaque JSON document. An empty payload is stored as NULL
type JSONPayload []byte

func (p JSONPayload) Value() (driver.Value, error) {
	if len(p) == 0 {
		return nil, nil
	}
	return string(p), nil
}

func (p *JSONPayload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = nil
	case []byte:
		*p = append((*p)[:0], v...)
	case string:
		*p = JSONPayload(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONPayload", src)
	}
	return nil
}

func (p JSONPayload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return p, nil
}

func (p *JSONPayload) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*p = nil
		return nil
	}
	*p = append((*p)[:0], data...)
	return nil
}

func jsonValue[T any](v []T) (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(src any, dest any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T as JSON", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dest)
}
