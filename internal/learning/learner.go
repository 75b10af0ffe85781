// Package learning records every reported signature as a pattern occurrence.
//
// Learning is best effort: a store failure is logged and reported as a nil
// pattern, and never blocks remediation of the same report.
package learning

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mender/internal/pattern"
)

const instrumentationName = "github.com/fyrsmithlabs/mender/internal/learning"

// Observer is notified when a signature is seen for the first time.
type Observer interface {
	PatternDiscovered(ctx context.Context, p *pattern.Pattern, sourceLogID string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, p *pattern.Pattern, sourceLogID string)

func (f ObserverFunc) PatternDiscovered(ctx context.Context, p *pattern.Pattern, sourceLogID string) {
	f(ctx, p, sourceLogID)
}

// Config configures the learner.
type Config struct {
	// Timeout bounds a single store upsert (default: 2s).
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{Timeout: 2 * time.Second}
}

// Learner upserts patterns for reported signatures.
type Learner struct {
	config   *Config
	store    pattern.Store
	observer Observer
	logger   *zap.Logger
	now      func() time.Time

	tracer        trace.Tracer
	upsertCounter metric.Int64Counter
}

// NewLearner creates a learner. observer may be nil.
func NewLearner(cfg *Config, store pattern.Store, observer Observer, logger *zap.Logger) (*Learner, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, fmt.Errorf("pattern store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Learner{
		config:   cfg,
		store:    store,
		observer: observer,
		logger:   logger,
		now:      time.Now,
		tracer:   otel.Tracer(instrumentationName),
	}

	var err error
	l.upsertCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"mender.learning.upserts_total",
		metric.WithDescription("Total number of pattern upserts"),
		metric.WithUnit("{upsert}"),
	)
	if err != nil {
		logger.Warn("failed to create upsert counter", zap.Error(err))
	}

	return l, nil
}

// Learn records one occurrence of signature, reported by the log entry
// sourceLogID. It returns the updated pattern, or nil when the store failed.
// Learn never panics.
func (l *Learner) Learn(ctx context.Context, signature, sourceLogID string) (p *pattern.Pattern) {
	ctx, span := l.tracer.Start(ctx, "learning.learn",
		trace.WithAttributes(
			attribute.String("signature", signature),
			attribute.String("log.id", sourceLogID),
		))
	defer span.End()

	outcome := "failed"
	defer func() {
		if r := recover(); r != nil {
			p = nil
			outcome = "failed"
			l.logger.Error("pattern learning panicked",
				zap.String("signature", signature),
				zap.Any("panic", r))
			span.SetStatus(codes.Error, "panic")
		}
		if l.upsertCounter != nil {
			l.upsertCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}()

	upsertCtx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	p, err := l.store.UpsertBySignature(upsertCtx, signature, l.now().UTC())
	if err != nil {
		l.logger.Warn("pattern learning failed",
			zap.String("signature", signature),
			zap.String("log_id", sourceLogID),
			zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "upsert failed")
		return nil
	}
	outcome = "ok"

	span.SetAttributes(
		attribute.String("pattern.id", p.ID),
		attribute.Int64("pattern.occurrences", p.OccurrenceCount),
	)

	if p.OccurrenceCount == 1 {
		l.logger.Info("new error pattern discovered",
			zap.String("pattern_id", p.ID),
			zap.String("signature", signature))
		if l.observer != nil {
			l.notify(ctx, p.Clone(), sourceLogID)
		}
	}
	return p
}

// notify isolates observer panics so a broken observer never loses the
// learned pattern.
func (l *Learner) notify(ctx context.Context, p *pattern.Pattern, sourceLogID string) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Warn("pattern observer panicked", zap.String("pattern_id", p.ID), zap.Any("panic", r))
		}
	}()
	l.observer.PatternDiscovered(ctx, p, sourceLogID)
}
