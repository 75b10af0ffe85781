package eventlog

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{ err error }

func (s *failingStore) Insert(context.Context, *Entry) (string, error) { return "", s.err }
func (s *failingStore) Close() error                                   { return nil }

type panickingStore struct{}

func (panickingStore) Insert(context.Context, *Entry) (string, error) { panic("driver exploded") }
func (panickingStore) Close() error                                   { return nil }

type blockingStore struct{}

func (blockingStore) Insert(ctx context.Context, _ *Entry) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}
func (blockingStore) Close() error { return nil }

type emptyIDStore struct{}

func (emptyIDStore) Insert(context.Context, *Entry) (string, error) { return "", nil }
func (emptyIDStore) Close() error                                   { return nil }

// maskRedactor masks the word "hunter2".
type maskRedactor struct{}

func (maskRedactor) Redact(s string) string { return strings.ReplaceAll(s, "hunter2", "[REDACTED]") }
func (r maskRedactor) RedactMetadata(md map[string]any) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		if s, ok := v.(string); ok {
			v = r.Redact(s)
		}
		out[k] = v
	}
	return out
}

func newTestLogger(t *testing.T, store Store, redactor Redactor) *Logger {
	t.Helper()
	l, err := NewLogger(&Config{Timeout: 50 * time.Millisecond}, store, redactor, nil)
	require.NoError(t, err)
	return l
}

func TestNewLogger_RequiresStore(t *testing.T) {
	_, err := NewLogger(nil, nil, nil, nil)
	assert.Error(t, err)
}

func TestLogger_Log(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLogger(t, store, maskRedactor{})
	fixed := time.Date(2025, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	l.now = func() time.Time { return fixed }

	entry, err := l.Log(context.Background(), Record{
		Severity: SeverityCritical,
		Source:   "payment",
		Message:  "charge failed with password hunter2",
		Metadata: map[string]any{"stack": "main.charge()", "attempt": 2, "note": "pw=hunter2"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, entry.ID)

	assert.Equal(t, SeverityCritical, entry.Severity)
	assert.Equal(t, "[payment] charge failed with password [REDACTED]", entry.Message)
	assert.Equal(t, "payment", entry.Metadata[MetadataSource])
	assert.Equal(t, "pw=[REDACTED]", entry.Metadata["note"])
	assert.Equal(t, 2, entry.Metadata["attempt"])
	assert.Equal(t, fixed.UTC(), entry.CreatedAt)

	stored := store.Entries()
	require.Len(t, stored, 1)
	assert.Equal(t, entry.ID, stored[0].ID)
	assert.Equal(t, entry.Message, stored[0].Message)
}

func TestLogger_Log_DefaultsAndCopies(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLogger(t, store, nil)

	md := map[string]any{"k": "v"}
	entry, err := l.Log(context.Background(), Record{Severity: "bogus", Message: "no source", Metadata: md})
	require.NoError(t, err)

	assert.Equal(t, SeverityError, entry.Severity)
	assert.Equal(t, "no source", entry.Message)
	assert.NotContains(t, entry.Metadata, MetadataSource)

	entry.Metadata["k"] = "changed"
	assert.Equal(t, "v", md["k"], "caller metadata must not be mutated")
	assert.Equal(t, "v", store.Entries()[0].Metadata["k"])
}

func TestLogger_Log_Failures(t *testing.T) {
	tests := []struct {
		name  string
		store Store
	}{
		{"store error", &failingStore{err: errors.New("connection refused")}},
		{"store panic", panickingStore{}},
		{"store timeout", blockingStore{}},
		{"empty id", emptyIDStore{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newTestLogger(t, tt.store, nil)

			var (
				entry *Entry
				err   error
			)
			assert.NotPanics(t, func() {
				entry, err = l.Log(context.Background(), Record{Severity: SeverityError, Source: "svc", Message: "boom"})
			})
			assert.Nil(t, entry)
			assert.ErrorIs(t, err, ErrLoggingFailed)
		})
	}
}

func TestMemoryStore_ConcurrentInsert(t *testing.T) {
	store := NewMemoryStore()
	l := newTestLogger(t, store, nil)

	var wg sync.WaitGroup
	ids := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := l.Log(context.Background(), Record{Source: "svc", Message: "boom"})
			if assert.NoError(t, err) {
				_, dup := ids.LoadOrStore(entry.ID, true)
				assert.False(t, dup)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, store.Len())
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMemoryStore().Insert(ctx, &Entry{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in      string
		want    Severity
		wantErr bool
	}{
		{"debug", SeverityDebug, false},
		{"INFO", SeverityInfo, false},
		{"warn", SeverityWarning, false},
		{" warning ", SeverityWarning, false},
		{"critical", SeverityCritical, false},
		{"fatal", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverity(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.Valid())
		})
	}
}
