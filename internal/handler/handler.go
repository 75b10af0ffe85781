// Package handler is the error handling façade. Application code reports a
// failure through HandleError (or wraps a function with Guard); the handler
// normalizes it into a signature, writes it to the log store, learns the
// pattern, and optionally applies an eligible remediation.
//
// No failure inside the handler ever reaches its caller. Each stage reports
// its own flag in Result.
package handler

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/mender/internal/eventlog"
	"github.com/fyrsmithlabs/mender/internal/logging"
	"github.com/fyrsmithlabs/mender/internal/pattern"
	"github.com/fyrsmithlabs/mender/internal/remediation"
	"github.com/fyrsmithlabs/mender/internal/signature"
)

const instrumentationName = "github.com/fyrsmithlabs/mender/internal/handler"

// Metadata keys added to every logged report.
const (
	MetadataSignature = "signature"
	MetadataCauseKind = "cause_kind"
	MetadataStack     = "stack"
)

// EventLogger writes log entries.
type EventLogger interface {
	Log(ctx context.Context, rec eventlog.Record) (*eventlog.Entry, error)
}

// Learner records signature occurrences.
type Learner interface {
	Learn(ctx context.Context, signature, sourceLogID string) *pattern.Pattern
}

// Remediator applies eligible remediations.
type Remediator interface {
	FindAndApply(ctx context.Context, signature, sourceLogID string) remediation.Outcome
}

// Options control how one report is handled.
type Options struct {
	// Source names the reporting component. Empty becomes "unknown".
	Source string

	// Severity of the log entry (default: error).
	Severity eventlog.Severity

	// Metadata is attached to the log entry.
	Metadata map[string]any

	// AttemptAutoFix enables the remediation stage.
	AttemptAutoFix bool

	// Silent suppresses the handler's own console output for this report:
	// the "error reported" line and the warning when the log write fails.
	// The log entry is still written, metrics still counted and spans still
	// recorded. Warnings from the learner and remediator are not affected;
	// they log through their own loggers.
	Silent bool
}

// Result reports which stages succeeded.
type Result struct {
	Logged     bool             `json:"logged"`
	LogID      string           `json:"log_id,omitempty"`
	Learned    bool             `json:"learned"`
	AutoFixed  bool             `json:"auto_fixed"`
	FixPattern *pattern.Pattern `json:"fix_pattern,omitempty"`
	Signature  string           `json:"signature"`

	// Remediation is the matcher's outcome when AttemptAutoFix was set.
	Remediation *remediation.Outcome `json:"remediation,omitempty"`
}

// Config configures the handler.
type Config struct {
	// RecentLimit is the number of patterns in Statistics.RecentPatterns
	// (default: 10).
	RecentLimit int

	// StoreTimeout bounds the pattern listing in Statistics (default: 2s).
	StoreTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{RecentLimit: 10, StoreTimeout: 2 * time.Second}
}

// Handler is the error handling façade. It is safe for concurrent use.
type Handler struct {
	config     *Config
	events     EventLogger
	learner    Learner
	remediator Remediator
	patterns   pattern.Store
	logger     *logging.Logger
	tracer     trace.Tracer
}

// New creates a handler. remediator may be nil, which disables the
// remediation stage.
func New(cfg *Config, events EventLogger, learner Learner, remediator Remediator, patterns pattern.Store, logger *logging.Logger) (*Handler, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if events == nil {
		return nil, errors.New("event logger is required")
	}
	if learner == nil {
		return nil, errors.New("learner is required")
	}
	if patterns == nil {
		return nil, errors.New("pattern store is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultConfig().RecentLimit
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultConfig().StoreTimeout
	}

	return &Handler{
		config:     cfg,
		events:     events,
		learner:    learner,
		remediator: remediator,
		patterns:   patterns,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
	}, nil
}

// HandleError processes one reported failure:
// received, normalized, logged, learned, then remediated when requested.
// A logging failure skips learning and remediation. A learning failure does
// not block remediation. HandleError never panics.
func (h *Handler) HandleError(ctx context.Context, cause signature.Cause, opts Options) (res Result) {
	start := time.Now()
	ctx = logging.WithSource(ctx, opts.Source)
	ctx, span := h.tracer.Start(ctx, "mender.handle_error",
		trace.WithAttributes(
			attribute.String("error.source", opts.Source),
			attribute.Bool("auto_fix", opts.AttemptAutoFix),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			InternalPanics.Inc()
			h.logger.Error(ctx, "error handler panicked",
				zap.Any("panic", r),
				zap.String("signature", res.Signature),
				zap.ByteString("stack", debug.Stack()))
			span.SetStatus(codes.Error, "panic")
		}
		span.SetAttributes(
			attribute.Bool("logged", res.Logged),
			attribute.Bool("learned", res.Learned),
			attribute.Bool("auto_fixed", res.AutoFixed),
		)
		HandleDuration.Observe(time.Since(start).Seconds())
	}()

	sev := opts.Severity
	if !sev.Valid() {
		sev = eventlog.SeverityError
	}

	res.Signature = signature.Derive(cause, opts.Source)
	span.SetAttributes(attribute.String("signature", res.Signature))

	md := make(map[string]any, len(opts.Metadata)+2)
	maps.Copy(md, opts.Metadata)
	md[MetadataSignature] = res.Signature
	md[MetadataCauseKind] = cause.Kind().String()

	entry, err := h.events.Log(ctx, eventlog.Record{
		Severity: sev,
		Source:   opts.Source,
		Message:  cause.Message(),
		Metadata: md,
	})
	recordStage("logged", err == nil)
	if err != nil {
		if !opts.Silent {
			h.logger.Warn(ctx, "error report could not be logged; skipping learning and remediation",
				zap.String("signature", res.Signature),
				zap.Error(err))
		}
		span.RecordError(err)
		recordSkipped("learned")
		recordSkipped("remediated")
		h.report(ctx, sev, cause, res, opts)
		return res
	}
	res.Logged = true
	res.LogID = entry.ID

	learned := h.learner.Learn(ctx, res.Signature, entry.ID)
	res.Learned = learned != nil
	recordStage("learned", res.Learned)

	if opts.AttemptAutoFix && h.remediator != nil {
		out := h.remediator.FindAndApply(ctx, res.Signature, entry.ID)
		res.Remediation = &out
		res.AutoFixed = out.Applied
		if out.Attempted {
			res.FixPattern = out.Pattern
			recordStage("remediated", out.Applied)
		} else {
			recordSkipped("remediated")
		}
	} else {
		recordSkipped("remediated")
	}

	h.report(ctx, sev, cause, res, opts)
	return res
}

// report writes the console line for a handled report unless silenced.
func (h *Handler) report(ctx context.Context, sev eventlog.Severity, cause signature.Cause, res Result, opts Options) {
	if opts.Silent {
		return
	}
	fields := []zap.Field{
		zap.String("signature", res.Signature),
		zap.String("log_id", res.LogID),
		zap.Bool("logged", res.Logged),
		zap.Bool("learned", res.Learned),
		zap.Bool("auto_fixed", res.AutoFixed),
		zap.String("cause", cause.Message()),
	}
	msg := "error reported"
	switch severityLevel(sev) {
	case zapcore.DebugLevel:
		h.logger.Debug(ctx, msg, fields...)
	case zapcore.InfoLevel:
		h.logger.Info(ctx, msg, fields...)
	case zapcore.WarnLevel:
		h.logger.Warn(ctx, msg, fields...)
	default:
		h.logger.Error(ctx, msg, fields...)
	}
}

func severityLevel(s eventlog.Severity) zapcore.Level {
	switch s {
	case eventlog.SeverityDebug:
		return zapcore.DebugLevel
	case eventlog.SeverityInfo:
		return zapcore.InfoLevel
	case eventlog.SeverityWarning:
		return zapcore.WarnLevel
	default:
		return zapcore.ErrorLevel
	}
}

// Guard wraps fn so its returned error or panic is piped through
// HandleError instead of reaching the caller. The wrapped function returns
// (zero, false) on failure.
func Guard[T any](h *Handler, opts Options, fn func(ctx context.Context) (T, error)) func(ctx context.Context) (T, bool) {
	return func(ctx context.Context) (result T, ok bool) {
		defer func() {
			if r := recover(); r != nil {
				o := opts
				o.Metadata = maps.Clone(opts.Metadata)
				if o.Metadata == nil {
					o.Metadata = make(map[string]any, 1)
				}
				o.Metadata[MetadataStack] = string(debug.Stack())
				h.HandleError(ctx, signature.FromRecovered(r), o)

				var zero T
				result, ok = zero, false
			}
		}()

		v, err := fn(ctx)
		if err != nil {
			h.HandleError(ctx, signature.FromError(err), opts)
			var zero T
			return zero, false
		}
		return v, true
	}
}

// Statistics summarizes the pattern store.
type Statistics struct {
	TotalPatterns     int                `json:"total_patterns"`
	AvgSuccessRate    float64            `json:"avg_success_rate"`
	TotalApplications int64              `json:"total_applications"`
	RecentPatterns    []*pattern.Pattern `json:"recent_patterns"`
}

// Statistics returns pattern statistics and refreshes the pattern gauges.
// The average success rate covers only patterns with at least one attempt;
// recent patterns are the most recently seen.
func (h *Handler) Statistics(ctx context.Context) (*Statistics, error) {
	ctx, span := h.tracer.Start(ctx, "mender.statistics")
	defer span.End()

	listCtx, cancel := context.WithTimeout(ctx, h.config.StoreTimeout)
	defer cancel()

	all, err := h.patterns.List(listCtx, 0)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("list patterns: %w", err)
	}

	stats := &Statistics{TotalPatterns: len(all), RecentPatterns: []*pattern.Pattern{}}
	var (
		rateSum   float64
		attempted int
	)
	for _, p := range all {
		if n := p.Attempts(); n > 0 {
			stats.TotalApplications += n
			rateSum += p.SuccessRate()
			attempted++
		}
	}
	if attempted > 0 {
		stats.AvgSuccessRate = rateSum / float64(attempted)
	}
	if len(all) > h.config.RecentLimit {
		all = all[:h.config.RecentLimit]
	}
	stats.RecentPatterns = append(stats.RecentPatterns, all...)

	updatePatternMetrics(stats)
	span.SetAttributes(attribute.Int("patterns.total", stats.TotalPatterns))
	return stats, nil
}
