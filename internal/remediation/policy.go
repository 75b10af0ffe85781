package remediation

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/mender/internal/pattern"
)

// Policy decides when a pattern is applied automatically.
type Policy struct {
	// MinConfidence is the success rate required once MinSamples attempts
	// exist (default: 0.6).
	MinConfidence float64

	// MinSamples is the attempt count from which the success rate is
	// trusted (default: 3).
	MinSamples int64

	// Cooldown is the minimum time between two applications of the same
	// pattern (default: 60s).
	Cooldown time.Duration

	// ActionTimeout bounds one action invocation (default: 10s).
	ActionTimeout time.Duration
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinConfidence: 0.6,
		MinSamples:    3,
		Cooldown:      60 * time.Second,
		ActionTimeout: 10 * time.Second,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be between 0 and 1, got %v", p.MinConfidence)
	}
	if p.MinSamples < 1 {
		return fmt.Errorf("min samples must be >= 1, got %d", p.MinSamples)
	}
	if p.Cooldown < 0 {
		return errors.New("cooldown must not be negative")
	}
	if p.ActionTimeout <= 0 {
		return errors.New("action timeout must be positive")
	}
	return nil
}

// Eligible reports whether p may be applied automatically, and why not.
func (p Policy) Eligible(pt *pattern.Pattern) (bool, Reason) {
	if pt == nil {
		return false, ReasonNoPattern
	}
	if pt.Remediation == nil {
		return false, ReasonNoRemediation
	}
	if pt.Attempts() < p.MinSamples {
		// Trust covers the first use only; a trusted remediation with
		// some history still needs MinSamples attempts.
		if pt.Remediation.TrustedOnFirstUse && pt.Attempts() == 0 {
			return true, ""
		}
		return false, ReasonInsufficientEvidence
	}
	if pt.SuccessRate() < p.MinConfidence {
		return false, ReasonLowConfidence
	}
	return true, ""
}
