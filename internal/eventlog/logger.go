package eventlog

import (
	"context"
	"fmt"
	"maps"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/mender/internal/eventlog"

// MetadataSource is the metadata key holding the reporting source.
const MetadataSource = "source"

// Config configures the event logger.
type Config struct {
	// Timeout bounds a single store insert (default: 2s).
	Timeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{Timeout: 2 * time.Second}
}

// Logger writes log entries to a Store.
type Logger struct {
	config   *Config
	store    Store
	redactor Redactor
	logger   *zap.Logger
	now      func() time.Time

	tracer       trace.Tracer
	writeCounter metric.Int64Counter
}

// NewLogger creates an event logger. redactor may be nil.
func NewLogger(cfg *Config, store Store, redactor Redactor, logger *zap.Logger) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, fmt.Errorf("log store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Logger{
		config:   cfg,
		store:    store,
		redactor: redactor,
		logger:   logger,
		now:      time.Now,
		tracer:   otel.Tracer(instrumentationName),
	}

	var err error
	l.writeCounter, err = otel.Meter(instrumentationName).Int64Counter(
		"mender.eventlog.writes_total",
		metric.WithDescription("Total number of log entry writes"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		logger.Warn("failed to create write counter", zap.Error(err))
	}

	return l, nil
}

// Log writes one entry. It never panics; every failure is returned as an
// error wrapping ErrLoggingFailed.
func (l *Logger) Log(ctx context.Context, rec Record) (entry *Entry, err error) {
	ctx, span := l.tracer.Start(ctx, "eventlog.log",
		trace.WithAttributes(attribute.String("severity", string(rec.Severity))))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			entry = nil
			err = fmt.Errorf("%w: store panicked: %v", ErrLoggingFailed, r)
		}
		outcome := "ok"
		if err != nil {
			outcome = "failed"
			span.RecordError(err)
			span.SetStatus(codes.Error, "log write failed")
		}
		if l.writeCounter != nil {
			l.writeCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		}
	}()

	entry = l.build(rec)

	insertCtx, cancel := context.WithTimeout(ctx, l.config.Timeout)
	defer cancel()

	id, err := l.store.Insert(insertCtx, entry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoggingFailed, err)
	}
	if id == "" {
		return nil, fmt.Errorf("%w: store returned an empty id", ErrLoggingFailed)
	}
	entry.ID = id

	span.SetAttributes(attribute.String("log.id", id))
	return entry, nil
}

func (l *Logger) build(rec Record) *Entry {
	sev := rec.Severity
	if !sev.Valid() {
		sev = SeverityError
	}

	md := make(map[string]any, len(rec.Metadata)+1)
	maps.Copy(md, rec.Metadata)
	msg := rec.Message
	if rec.Source != "" {
		md[MetadataSource] = rec.Source
		msg = "[" + rec.Source + "] " + msg
	}

	if l.redactor != nil {
		msg = l.redactor.Redact(msg)
		md = l.redactor.RedactMetadata(md)
	}

	return &Entry{
		Severity:  sev,
		Message:   msg,
		Metadata:  md,
		CreatedAt: l.now().UTC(),
	}
}
