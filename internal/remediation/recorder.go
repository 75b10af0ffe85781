package remediation

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/mender/internal/eventlog"
)

// AttemptRecorder persists remediation attempts for audit.
type AttemptRecorder interface {
	RecordAttempt(ctx context.Context, a *Attempt) error
}

// RecorderFunc adapts a function to AttemptRecorder.
type RecorderFunc func(ctx context.Context, a *Attempt) error

func (f RecorderFunc) RecordAttempt(ctx context.Context, a *Attempt) error { return f(ctx, a) }

// MultiRecorder records to every recorder and joins their errors.
type MultiRecorder []AttemptRecorder

func (m MultiRecorder) RecordAttempt(ctx context.Context, a *Attempt) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.RecordAttempt(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// AttemptSource is the source of log entries written by LogRecorder.
const AttemptSource = "remediation"

// LogRecorder writes every attempt as an info entry in the log store.
type LogRecorder struct {
	log *eventlog.Logger
}

// NewLogRecorder creates a recorder writing through log.
func NewLogRecorder(log *eventlog.Logger) *LogRecorder {
	return &LogRecorder{log: log}
}

func (r *LogRecorder) RecordAttempt(ctx context.Context, a *Attempt) error {
	md := map[string]any{
		"attempt_id":           a.ID,
		"pattern_id":           a.PatternID,
		"signature":            a.Signature,
		"source_log_id":        a.LogEntryID,
		"action":               a.Action,
		"outcome":              string(a.Outcome),
		"rate_at_decision":     a.RateAtDecision,
		"attempts_at_decision": a.AttemptsAtDecision,
		"duration_ms":          a.Duration.Milliseconds(),
	}
	if a.Reason != "" {
		md["reason"] = a.Reason
	}

	_, err := r.log.Log(ctx, eventlog.Record{
		Severity: eventlog.SeverityInfo,
		Source:   AttemptSource,
		Message:  fmt.Sprintf("remediation %s %s for pattern %s", a.Action, a.Outcome, a.PatternID),
		Metadata: md,
	})
	return err
}
