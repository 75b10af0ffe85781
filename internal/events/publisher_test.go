package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/mender/internal/pattern"
	"github.com/fyrsmithlabs/mender/internal/remediation"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1, // Random port
		NoLog:  true,
		NoSigs: true,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func newTestPublisher(t *testing.T, prefix string) (*Publisher, *nats.Conn) {
	t.Helper()
	server := startTestNATSServer(t)

	nc, err := Connect(server.ClientURL(), nil)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	pub, err := NewPublisher(nc, prefix, nil)
	require.NoError(t, err)
	return pub, nc
}

func TestNewPublisher_RequiresConn(t *testing.T) {
	_, err := NewPublisher(nil, "", nil)
	assert.Error(t, err)
}

func TestSubjects(t *testing.T) {
	assert.Equal(t, "mender.patterns.discovered", DiscoveredSubject("mender"))
	assert.Equal(t, "ops.remediation.failure", AttemptSubject("ops", pattern.OutcomeFailure))
}

func TestPublisher_PatternDiscovered(t *testing.T) {
	pub, nc := newTestPublisher(t, "")

	sub, err := nc.SubscribeSync("mender.patterns.>")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	p := &pattern.Pattern{ID: pattern.IDFor("db:timeout"), Signature: "db:timeout", OccurrenceCount: 1}
	pub.PatternDiscovered(context.Background(), p, "log-1")
	require.NoError(t, pub.Flush(context.Background()))

	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "mender.patterns.discovered", msg.Subject)
	assert.Equal(t, "application/json", msg.Header.Get("Content-Type"))

	var ev DiscoveredEvent
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, "log-1", ev.SourceLogID)
	require.NotNil(t, ev.Pattern)
	assert.Equal(t, "db:timeout", ev.Pattern.Signature)
	assert.False(t, ev.DiscoveredAt.IsZero())
}

func TestPublisher_RecordAttempt(t *testing.T) {
	pub, nc := newTestPublisher(t, "ops")

	sub, err := nc.SubscribeSync("ops.remediation.*")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	attempts := []*remediation.Attempt{
		{ID: "a-1", PatternID: "p-1", Action: "restart", Outcome: pattern.OutcomeSuccess},
		{ID: "a-2", PatternID: "p-1", Action: "restart", Outcome: pattern.OutcomeFailure, Reason: "503"},
	}
	for _, a := range attempts {
		require.NoError(t, pub.RecordAttempt(context.Background(), a))
	}

	for _, want := range attempts {
		msg, err := sub.NextMsg(2 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, AttemptSubject("ops", want.Outcome), msg.Subject)

		var got remediation.Attempt
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Reason, got.Reason)
	}
}

func TestPublisher_ClosedConnection(t *testing.T) {
	pub, nc := newTestPublisher(t, "")
	nc.Close()

	err := pub.RecordAttempt(context.Background(), &remediation.Attempt{ID: "a-1", Outcome: pattern.OutcomeSuccess})
	assert.Error(t, err)

	// Discovery failures are logged, not raised.
	assert.NotPanics(t, func() {
		pub.PatternDiscovered(context.Background(), &pattern.Pattern{ID: "p"}, "log")
	})
}
