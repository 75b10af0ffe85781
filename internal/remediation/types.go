package remediation

import (
	"errors"
	"time"

	"github.com/fyrsmithlabs/mender/internal/pattern"
)

var (
	// ErrDispatch indicates the action could not be found or started.
	ErrDispatch = errors.New("remediation dispatch failed")

	// ErrExecution indicates the action ran and failed, panicked or timed out.
	ErrExecution = errors.New("remediation execution failed")
)

// Reason explains the result of FindAndApply.
type Reason string

const (
	ReasonApplied              Reason = "applied"
	ReasonNoPattern            Reason = "no_pattern"
	ReasonLookupFailed         Reason = "lookup_failed"
	ReasonNoRemediation        Reason = "no_remediation"
	ReasonInsufficientEvidence Reason = "insufficient_evidence"
	ReasonLowConfidence        Reason = "low_confidence"
	ReasonCooldown             Reason = "cooldown"
	ReasonClaimFailed          Reason = "claim_failed"
	ReasonDispatchFailed       Reason = "dispatch_failed"
	ReasonExecutionFailed      Reason = "execution_failed"
	ReasonInternal             Reason = "internal_error"
)

// Outcome is the result of FindAndApply.
type Outcome struct {
	// Applied is true only when the remediation ran and reported success.
	Applied bool `json:"applied"`

	// Attempted is true when an action was dispatched, whatever its result.
	Attempted bool `json:"attempted"`

	// Pattern is the matched pattern, reflecting the recorded outcome when
	// an attempt was made. Nil when no pattern exists.
	Pattern *pattern.Pattern `json:"pattern,omitempty"`

	// Attempt is set when Attempted is true.
	Attempt *Attempt `json:"attempt,omitempty"`

	Reason Reason `json:"reason"`
}

// Attempt is the audit record of one remediation dispatch.
type Attempt struct {
	ID                 string          `json:"id"`
	PatternID          string          `json:"pattern_id"`
	Signature          string          `json:"signature"`
	LogEntryID         string          `json:"log_entry_id"`
	Action             string          `json:"action"`
	Outcome            pattern.Outcome `json:"outcome"`
	Reason             string          `json:"reason,omitempty"`
	RateAtDecision     float64         `json:"rate_at_decision"`
	AttemptsAtDecision int64           `json:"attempts_at_decision"`
	StartedAt          time.Time       `json:"started_at"`
	Duration           time.Duration   `json:"duration"`
}

// ActionContext identifies the report an action is run for.
type ActionContext struct {
	AttemptID  string `json:"attempt_id"`
	PatternID  string `json:"pattern_id"`
	Signature  string `json:"signature"`
	LogEntryID string `json:"log_entry_id"`
}
