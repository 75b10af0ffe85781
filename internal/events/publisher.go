// Package events publishes pattern discoveries and remediation attempts to
// NATS so review tooling can attach remediations and audit their results.
//
// Subjects:
//
//	<prefix>.patterns.discovered       first occurrence of a signature
//	<prefix>.remediation.success       remediation attempt succeeded
//	<prefix>.remediation.failure       remediation attempt failed
//
// Payloads are JSON. Trace context travels in the message headers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mender/internal/learning"
	"github.com/fyrsmithlabs/mender/internal/pattern"
	"github.com/fyrsmithlabs/mender/internal/remediation"
)

var (
	_ learning.Observer           = (*Publisher)(nil)
	_ remediation.AttemptRecorder = (*Publisher)(nil)
)

// DefaultPrefix is the subject prefix used when none is configured.
const DefaultPrefix = "mender"

// DiscoveredEvent is published on the first occurrence of a signature.
type DiscoveredEvent struct {
	Pattern      *pattern.Pattern `json:"pattern"`
	SourceLogID  string           `json:"source_log_id"`
	DiscoveredAt time.Time        `json:"discovered_at"`
}

// DiscoveredSubject returns the subject for pattern discoveries.
func DiscoveredSubject(prefix string) string {
	return prefix + ".patterns.discovered"
}

// AttemptSubject returns the subject for attempts with outcome.
func AttemptSubject(prefix string, outcome pattern.Outcome) string {
	return prefix + ".remediation." + string(outcome)
}

// Connect dials NATS the way the daemon does: retrying the first connection
// and reconnecting a bounded number of times.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("mender"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// Publisher publishes engine events. It implements learning.Observer and
// remediation.AttemptRecorder.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *zap.Logger
	now    func() time.Time
}

// NewPublisher creates a publisher on nc. An empty prefix uses DefaultPrefix.
func NewPublisher(nc *nats.Conn, prefix string, logger *zap.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger, now: time.Now}, nil
}

// PatternDiscovered publishes a DiscoveredEvent. Failures are logged.
func (p *Publisher) PatternDiscovered(ctx context.Context, pt *pattern.Pattern, sourceLogID string) {
	ev := DiscoveredEvent{Pattern: pt, SourceLogID: sourceLogID, DiscoveredAt: p.now().UTC()}
	if err := p.publish(ctx, DiscoveredSubject(p.prefix), ev); err != nil {
		p.logger.Warn("failed to publish pattern discovery",
			zap.String("pattern_id", pt.ID),
			zap.Error(err))
	}
}

// RecordAttempt publishes the attempt on its outcome subject.
func (p *Publisher) RecordAttempt(ctx context.Context, a *remediation.Attempt) error {
	if err := p.publish(ctx, AttemptSubject(p.prefix, a.Outcome), a); err != nil {
		return fmt.Errorf("publish remediation attempt: %w", err)
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	if err := p.nc.PublishMsg(msg); err != nil {
		return err
	}
	return nil
}

// Flush waits until the server has processed every published message.
func (p *Publisher) Flush(ctx context.Context) error {
	return p.nc.FlushWithContext(ctx)
}
