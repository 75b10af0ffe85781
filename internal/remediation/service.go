package remediation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mender/internal/pattern"
)

const instrumentationName = "github.com/fyrsmithlabs/mender/internal/remediation"

// Service matches signatures against patterns and applies eligible
// remediations.
type Service interface {
	// FindAndApply looks up the pattern for signature and, when the policy
	// allows it, runs the attached remediation. It never panics and never
	// returns an error; failures are reported through Outcome.Reason.
	FindAndApply(ctx context.Context, signature, sourceLogID string) Outcome

	// Policy returns the policy in effect.
	Policy() Policy

	// SetPolicy replaces the policy for subsequent calls.
	SetPolicy(p Policy) error
}

// Config configures the remediation service.
type Config struct {
	Policy Policy

	// StoreTimeout bounds every pattern store call (default: 2s).
	StoreTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Policy:       DefaultPolicy(),
		StoreTimeout: 2 * time.Second,
	}
}

// service implements the Service interface.
type service struct {
	store    pattern.Store
	registry *Registry
	recorder AttemptRecorder
	logger   *zap.Logger

	policy       atomic.Pointer[Policy]
	storeTimeout time.Duration
	now          func() time.Time

	// Telemetry
	tracer         trace.Tracer
	attemptCounter metric.Int64Counter
	skipCounter    metric.Int64Counter
}

// NewService creates a remediation service. recorder may be nil.
func NewService(cfg *Config, store pattern.Store, registry *Registry, recorder AttemptRecorder, logger *zap.Logger) (Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, errors.New("pattern store is required")
	}
	if registry == nil {
		return nil, errors.New("action registry is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultConfig().StoreTimeout
	}

	s := &service{
		store:        store,
		registry:     registry,
		recorder:     recorder,
		logger:       logger,
		storeTimeout: cfg.StoreTimeout,
		now:          time.Now,
		tracer:       otel.Tracer(instrumentationName),
	}
	policy := cfg.Policy
	s.policy.Store(&policy)

	s.initMetrics()

	return s, nil
}

// initMetrics initializes OpenTelemetry metrics.
func (s *service) initMetrics() {
	meter := otel.Meter(instrumentationName)

	var err error
	s.attemptCounter, err = meter.Int64Counter(
		"mender.remediation.attempts_total",
		metric.WithDescription("Total number of remediation attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		s.logger.Warn("failed to create attempt counter", zap.Error(err))
	}

	s.skipCounter, err = meter.Int64Counter(
		"mender.remediation.skips_total",
		metric.WithDescription("Total number of matches not applied, by reason"),
		metric.WithUnit("{skip}"),
	)
	if err != nil {
		s.logger.Warn("failed to create skip counter", zap.Error(err))
	}
}

func (s *service) Policy() Policy {
	return *s.policy.Load()
}

func (s *service) SetPolicy(p Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	s.policy.Store(&p)
	s.logger.Info("remediation policy updated",
		zap.Float64("min_confidence", p.MinConfidence),
		zap.Int64("min_samples", p.MinSamples),
		zap.Duration("cooldown", p.Cooldown),
		zap.Duration("action_timeout", p.ActionTimeout))
	return nil
}

func (s *service) FindAndApply(ctx context.Context, signature, sourceLogID string) (out Outcome) {
	ctx, span := s.tracer.Start(ctx, "remediation.find_and_apply",
		trace.WithAttributes(
			attribute.String("signature", signature),
			attribute.String("log.id", sourceLogID),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("remediation panicked",
				zap.String("signature", signature),
				zap.Any("panic", r))
			span.SetStatus(codes.Error, "panic")
			out = Outcome{Pattern: out.Pattern, Attempt: out.Attempt, Attempted: out.Attempted, Reason: ReasonInternal}
		}
		span.SetAttributes(
			attribute.String("reason", string(out.Reason)),
			attribute.Bool("applied", out.Applied),
		)
		if !out.Attempted && s.skipCounter != nil {
			s.skipCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(out.Reason))))
		}
	}()

	policy := s.Policy()

	p, err := s.lookup(ctx, signature)
	if errors.Is(err, pattern.ErrNotFound) {
		return Outcome{Reason: ReasonNoPattern}
	}
	if err != nil {
		s.logger.Warn("pattern lookup failed", zap.String("signature", signature), zap.Error(err))
		span.RecordError(err)
		return Outcome{Reason: ReasonLookupFailed}
	}
	out.Pattern = p
	span.SetAttributes(attribute.String("pattern.id", p.ID))

	if ok, reason := policy.Eligible(p); !ok {
		s.logger.Debug("pattern not eligible",
			zap.String("pattern_id", p.ID),
			zap.String("reason", string(reason)),
			zap.Int64("attempts", p.Attempts()),
			zap.Float64("success_rate", p.SuccessRate()))
		return Outcome{Pattern: p, Reason: reason}
	}

	now := s.now().UTC()
	claimed, err := s.claim(ctx, p.ID, now, policy.Cooldown)
	if err != nil {
		s.logger.Warn("cool-down claim failed", zap.String("pattern_id", p.ID), zap.Error(err))
		span.RecordError(err)
		return Outcome{Pattern: p, Reason: ReasonClaimFailed}
	}
	if !claimed {
		return Outcome{Pattern: p, Reason: ReasonCooldown}
	}

	return s.apply(ctx, span, p, sourceLogID, now, policy)
}

// apply dispatches the remediation of an eligible, claimed pattern and
// records the result.
func (s *service) apply(ctx context.Context, span trace.Span, p *pattern.Pattern, sourceLogID string, startedAt time.Time, policy Policy) Outcome {
	d := *p.Remediation
	attempt := &Attempt{
		ID:                 uuid.NewString(),
		PatternID:          p.ID,
		Signature:          p.Signature,
		LogEntryID:         sourceLogID,
		Action:             d.Action,
		RateAtDecision:     p.SuccessRate(),
		AttemptsAtDecision: p.Attempts(),
		StartedAt:          startedAt,
	}

	actionCtx, cancel := context.WithTimeout(ctx, policy.ActionTimeout)
	start := time.Now()
	err := s.registry.Invoke(actionCtx, d, ActionContext{
		AttemptID:  attempt.ID,
		PatternID:  p.ID,
		Signature:  p.Signature,
		LogEntryID: sourceLogID,
	})
	cancel()
	attempt.Duration = time.Since(start)

	out := Outcome{Attempted: true, Attempt: attempt, Pattern: p}
	switch {
	case err == nil:
		attempt.Outcome = pattern.OutcomeSuccess
		out.Applied = true
		out.Reason = ReasonApplied
		s.logger.Info("remediation applied",
			zap.String("pattern_id", p.ID),
			zap.String("action", d.Action),
			zap.Duration("duration", attempt.Duration))
	default:
		attempt.Outcome = pattern.OutcomeFailure
		attempt.Reason = err.Error()
		out.Reason = ReasonExecutionFailed
		if errors.Is(err, ErrDispatch) {
			out.Reason = ReasonDispatchFailed
		}
		span.RecordError(err)
		s.logger.Warn("remediation failed",
			zap.String("pattern_id", p.ID),
			zap.String("action", d.Action),
			zap.String("reason", string(out.Reason)),
			zap.Error(err))
	}

	if updated, err := s.increment(ctx, p.ID, attempt.Outcome); err != nil {
		s.logger.Warn("failed to record remediation outcome",
			zap.String("pattern_id", p.ID),
			zap.String("outcome", string(attempt.Outcome)),
			zap.Error(err))
	} else {
		out.Pattern = updated
	}

	s.record(ctx, attempt)

	if s.attemptCounter != nil {
		s.attemptCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("action", d.Action),
			attribute.String("outcome", string(attempt.Outcome)),
		))
	}
	return out
}

func (s *service) lookup(ctx context.Context, signature string) (*pattern.Pattern, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.Get(ctx, signature)
}

func (s *service) claim(ctx context.Context, id string, now time.Time, cooldown time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.ClaimApplication(ctx, id, now, cooldown)
}

func (s *service) increment(ctx context.Context, id string, outcome pattern.Outcome) (*pattern.Pattern, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return s.store.IncrementOutcome(ctx, id, outcome)
}

// record hands the attempt to the recorder. Recording is best effort.
func (s *service) record(ctx context.Context, a *Attempt) {
	if s.recorder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("attempt recorder panicked", zap.String("attempt_id", a.ID), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	if err := s.recorder.RecordAttempt(ctx, a); err != nil {
		s.logger.Warn("failed to record remediation attempt", zap.String("attempt_id", a.ID), zap.Error(err))
	}
}
