package eventlog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrLoggingFailed indicates the log entry could not be written.
var ErrLoggingFailed = errors.New("logging failed")

// Severity classifies a log entry.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// ParseSeverity parses a severity name. "warn" is accepted for warning.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(strings.ToLower(strings.TrimSpace(s))); sev {
	case SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return sev, nil
	case "warn":
		return SeverityWarning, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

// Valid reports whether s is one of the defined severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityDebug, SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Entry is one immutable log record.
type Entry struct {
	ID        string         `json:"id"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Record is the input to Logger.Log.
type Record struct {
	Severity Severity
	Source   string
	Message  string
	Metadata map[string]any
}

// Store persists log entries. Insert assigns and returns the entry id.
type Store interface {
	Insert(ctx context.Context, entry *Entry) (string, error)
	Close() error
}

// Redactor removes secrets from text before it is stored.
type Redactor interface {
	Redact(content string) string
	RedactMetadata(md map[string]any) map[string]any
}
