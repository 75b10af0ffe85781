package pattern

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates no pattern exists for the signature or id.
var ErrNotFound = errors.New("pattern not found")

// namespace scopes pattern ids derived from signatures.
var namespace = uuid.MustParse("6f1d2c1e-5b0a-4d4e-9a3e-6d656e646572")

// IDFor returns the pattern id for a signature.
func IDFor(signature string) string {
	return uuid.NewSHA1(namespace, []byte(signature)).String()
}

// Outcome is the result of one remediation attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ParseOutcome parses "success" or "failure".
func ParseOutcome(s string) (Outcome, error) {
	switch o := Outcome(s); o {
	case OutcomeSuccess, OutcomeFailure:
		return o, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", s)
	}
}

// Descriptor identifies a remediation action and the parameters needed to
// run it again.
type Descriptor struct {
	Action            string         `json:"action"`
	Params            map[string]any `json:"params,omitempty"`
	TrustedOnFirstUse bool           `json:"trusted_on_first_use"`
	AttachedAt        time.Time      `json:"attached_at"`
	AttachedBy        string         `json:"attached_by,omitempty"`
}

// Validate checks that the descriptor names an action.
func (d Descriptor) Validate() error {
	if d.Action == "" {
		return errors.New("remediation action is required")
	}
	return nil
}

// Pattern is the learned record of one signature.
type Pattern struct {
	ID              string      `json:"id"`
	Signature       string      `json:"signature"`
	OccurrenceCount int64       `json:"occurrence_count"`
	Remediation     *Descriptor `json:"remediation,omitempty"`
	SuccessCount    int64       `json:"success_count"`
	FailureCount    int64       `json:"failure_count"`
	FirstSeenAt     time.Time   `json:"first_seen_at"`
	LastSeenAt      time.Time   `json:"last_seen_at"`
	LastAppliedAt   time.Time   `json:"last_applied_at,omitzero"`
}

// Attempts returns the number of recorded remediation outcomes.
func (p *Pattern) Attempts() int64 {
	return p.SuccessCount + p.FailureCount
}

// SuccessRate returns successes over attempts, or 0 with no attempts.
func (p *Pattern) SuccessRate() float64 {
	attempts := p.Attempts()
	if attempts == 0 {
		return 0
	}
	return float64(p.SuccessCount) / float64(attempts)
}

// Clone returns a deep copy.
func (p *Pattern) Clone() *Pattern {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Remediation != nil {
		d := *p.Remediation
		d.Params = maps.Clone(p.Remediation.Params)
		cp.Remediation = &d
	}
	return &cp
}

// MarshalJSON adds the derived success_rate.
func (p *Pattern) MarshalJSON() ([]byte, error) {
	type plain Pattern
	return json.Marshal(struct {
		*plain
		SuccessRate float64 `json:"success_rate"`
	}{(*plain)(p), p.SuccessRate()})
}

// Store is the pattern store consumed by the learner and the remediator.
type Store interface {
	// UpsertBySignature inserts a pattern with occurrence 1 or increments
	// the occurrence count and last_seen_at of the existing one.
	UpsertBySignature(ctx context.Context, signature string, seenAt time.Time) (*Pattern, error)

	// Get returns the pattern for a signature or ErrNotFound.
	Get(ctx context.Context, signature string) (*Pattern, error)

	// GetByID returns the pattern with id or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Pattern, error)

	// IncrementOutcome increments the success or failure counter.
	IncrementOutcome(ctx context.Context, id string, outcome Outcome) (*Pattern, error)

	// AttachRemediation sets the remediation descriptor.
	AttachRemediation(ctx context.Context, id string, d Descriptor) (*Pattern, error)

	// ClaimApplication sets last_applied_at to now and returns true only
	// when the previous application is at least cooldown old.
	ClaimApplication(ctx context.Context, id string, now time.Time, cooldown time.Duration) (bool, error)

	// List returns patterns ordered by last_seen_at, newest first.
	// limit <= 0 returns all patterns.
	List(ctx context.Context, limit int) ([]*Pattern, error)

	Close() error
}
