package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mender/internal/eventlog"
	"github.com/fyrsmithlabs/mender/internal/handler"
	"github.com/fyrsmithlabs/mender/internal/learning"
	"github.com/fyrsmithlabs/mender/internal/logging"
	"github.com/fyrsmithlabs/mender/internal/pattern"
	"github.com/fyrsmithlabs/mender/internal/remediation"
	"github.com/fyrsmithlabs/mender/internal/signature"
)

type testServer struct {
	*Server
	logs     *eventlog.MemoryStore
	patterns pattern.Store
}

// setupTestServer wires the server over in-memory stores.
func setupTestServer(t *testing.T) *testServer {
	t.Helper()
	return setupTestServerWithStore(t, pattern.NewMemoryStore())
}

func setupTestServerWithStore(t *testing.T, patterns pattern.Store) *testServer {
	t.Helper()

	logs := eventlog.NewMemoryStore()
	events, err := eventlog.NewLogger(nil, logs, nil, nil)
	require.NoError(t, err)
	learner, err := learning.NewLearner(nil, patterns, nil, nil)
	require.NoError(t, err)
	registry := remediation.NewRegistry()
	svc, err := remediation.NewService(nil, patterns, registry, nil, nil)
	require.NoError(t, err)
	h, err := handler.New(nil, events, learner, svc, patterns, logging.NewNop())
	require.NoError(t, err)

	server, err := NewServer(Deps{
		Handler:  h,
		Patterns: patterns,
		Actions:  registry,
		Version:  "test",
	}, zap.NewNop(), &Config{Host: "localhost", Port: 9190})
	require.NoError(t, err)

	return &testServer{Server: server, logs: logs, patterns: patterns}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestNewServer(t *testing.T) {
	s := setupTestServer(t)

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(s.deps, zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9190, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(s.deps, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when handler is nil", func(t *testing.T) {
		_, err := NewServer(Deps{Patterns: s.patterns}, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "error handler cannot be nil")
	})

	t.Run("returns error when pattern store is nil", func(t *testing.T) {
		_, err := NewServer(Deps{Handler: s.deps.Handler}, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pattern store cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[HealthResponse](t, rec)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
}

func TestHandleMetrics(t *testing.T) {
	s := setupTestServer(t)

	s.do(t, http.MethodPost, "/api/v1/errors", ReportRequest{Source: "payment", Message: "charge 1 declined"})

	rec := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mender_handler_reports_total")
}

func TestHandleReport(t *testing.T) {
	t.Run("logs and learns", func(t *testing.T) {
		s := setupTestServer(t)

		rec := s.do(t, http.MethodPost, "/api/v1/errors", ReportRequest{
			Source:   "payment",
			Message:  "charge 401 declined for user 7",
			Severity: "warning",
			Metadata: map[string]any{"order": "A-1"},
		})
		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[handler.Result](t, rec)
		assert.True(t, res.Logged)
		assert.NotEmpty(t, res.LogID)
		assert.True(t, res.Learned)
		assert.False(t, res.AutoFixed)
		assert.Nil(t, res.Remediation)
		assert.Equal(t, "payment:charge <n> declined for user <n>", res.Signature)

		entries := s.logs.Entries()
		require.Len(t, entries, 1)
		assert.Equal(t, eventlog.SeverityWarning, entries[0].Severity)
		assert.Equal(t, "A-1", entries[0].Metadata["order"])

		p, err := s.patterns.Get(context.Background(), res.Signature)
		require.NoError(t, err)
		assert.Equal(t, int64(1), p.OccurrenceCount)
	})

	t.Run("auto fix without remediation reports reason", func(t *testing.T) {
		s := setupTestServer(t)

		rec := s.do(t, http.MethodPost, "/api/v1/errors", ReportRequest{
			Source:         "payment",
			Message:        "charge 1 declined",
			AttemptAutoFix: true,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		res := decode[handler.Result](t, rec)
		require.NotNil(t, res.Remediation)
		assert.Equal(t, remediation.ReasonNoRemediation, res.Remediation.Reason)
		assert.False(t, res.AutoFixed)
	})

	t.Run("rejections", func(t *testing.T) {
		tests := []struct {
			name string
			body any
		}{
			{"missing message", ReportRequest{Source: "payment"}},
			{"unknown severity", ReportRequest{Message: "boom", Severity: "fatalish"}},
			{"malformed body", "not an object"},
		}

		s := setupTestServer(t)
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				rec := s.do(t, http.MethodPost, "/api/v1/errors", tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
			})
		}
		assert.Zero(t, s.logs.Len())
	})
}

func TestHandleSignature(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/signatures", SignatureRequest{
		Source:  "db",
		Message: "timeout after 30s connecting to 10.0.0.1:5432",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[SignatureResponse](t, rec)
	want := signature.Normalize("timeout after 30s connecting to 10.0.0.1:5432", "db")
	assert.Equal(t, want, resp.Signature)
	assert.Equal(t, pattern.IDFor(want), resp.PatternID)

	// Previewing never records anything.
	assert.Zero(t, s.logs.Len())
	_, err := s.patterns.Get(context.Background(), want)
	assert.ErrorIs(t, err, pattern.ErrNotFound)
}

func TestReviewWorkflow(t *testing.T) {
	s := setupTestServer(t)
	report := ReportRequest{Source: "payment", Message: "charge 9 declined", AttemptAutoFix: true}

	first := decode[handler.Result](t, s.do(t, http.MethodPost, "/api/v1/errors", report))
	require.True(t, first.Learned)
	id := pattern.IDFor(first.Signature)

	rec := s.do(t, http.MethodGet, "/api/v1/patterns?signature="+first.Signature, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[pattern.Pattern](t, rec)
	assert.Equal(t, id, got.ID)
	assert.Nil(t, got.Remediation)

	rec = s.do(t, http.MethodPut, "/api/v1/patterns/"+id+"/remediation", AttachRequest{
		Action:            remediation.ActionNoop,
		TrustedOnFirstUse: true,
		AttachedBy:        "oncall",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	attached := decode[pattern.Pattern](t, rec)
	require.NotNil(t, attached.Remediation)
	assert.Equal(t, "oncall", attached.Remediation.AttachedBy)
	assert.False(t, attached.Remediation.AttachedAt.IsZero())

	second := decode[handler.Result](t, s.do(t, http.MethodPost, "/api/v1/errors", report))
	assert.True(t, second.AutoFixed)
	require.NotNil(t, second.FixPattern)
	assert.Equal(t, int64(1), second.FixPattern.SuccessCount)
	require.NotNil(t, second.Remediation)
	assert.Equal(t, remediation.ReasonApplied, second.Remediation.Reason)

	rec = s.do(t, http.MethodPost, "/api/v1/patterns/"+id+"/outcomes", OutcomeRequest{Outcome: "failure"})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decode[pattern.Pattern](t, rec)
	assert.Equal(t, int64(1), updated.SuccessCount)
	assert.Equal(t, int64(1), updated.FailureCount)

	rec = s.do(t, http.MethodGet, "/api/v1/patterns/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[handler.Statistics](t, rec)
	assert.Equal(t, 1, stats.TotalPatterns)
	assert.Equal(t, int64(2), stats.TotalApplications)
	assert.InDelta(t, 0.5, stats.AvgSuccessRate, 1e-9)
}

func TestHandleAttach_Rejections(t *testing.T) {
	s := setupTestServer(t)
	p, err := s.patterns.UpsertBySignature(context.Background(), "payment:charge <n> declined", time.Now())
	require.NoError(t, err)

	tests := []struct {
		name   string
		id     string
		body   any
		status int
	}{
		{"missing action", p.ID, AttachRequest{}, http.StatusBadRequest},
		{"unknown action", p.ID, AttachRequest{Action: "reboot-datacenter"}, http.StatusBadRequest},
		{"unknown pattern", "missing", AttachRequest{Action: remediation.ActionNoop}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPut, "/api/v1/patterns/"+tt.id+"/remediation", tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}

	got, err := s.patterns.Get(context.Background(), p.Signature)
	require.NoError(t, err)
	assert.Nil(t, got.Remediation)
}

func TestHandleOutcome_Rejections(t *testing.T) {
	s := setupTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/patterns/missing/outcomes", OutcomeRequest{Outcome: "success"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/patterns/missing/outcomes", OutcomeRequest{Outcome: "maybe"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePatterns_List(t *testing.T) {
	s := setupTestServer(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, sig := range []string{"a:one", "b:two", "c:three"} {
		_, err := s.patterns.UpsertBySignature(ctx, sig, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/patterns?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[PatternListResponse](t, rec)
	require.Len(t, resp.Patterns, 2)
	assert.Equal(t, "c:three", resp.Patterns[0].Signature)
	assert.Equal(t, "b:two", resp.Patterns[1].Signature)

	for _, limit := range []string{"0", "-1", "abc", "100000"} {
		t.Run("limit "+limit, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, "/api/v1/patterns?limit="+limit, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	rec = s.do(t, http.MethodGet, "/api/v1/patterns?signature=z:none", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type unavailableStore struct {
	pattern.Store
}

func (unavailableStore) List(context.Context, int) ([]*pattern.Pattern, error) {
	return nil, errors.New("connection refused")
}

func TestStoreUnavailable(t *testing.T) {
	s := setupTestServerWithStore(t, unavailableStore{Store: pattern.NewMemoryStore()})

	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/api/v1/patterns", nil).Code)
	assert.Equal(t, http.StatusServiceUnavailable, s.do(t, http.MethodGet, "/api/v1/patterns/stats", nil).Code)
}

func TestServerLifecycle(t *testing.T) {
	s := setupTestServer(t)
	s.config.Port = 0

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.True(t, err == nil || errors.Is(err, http.ErrServerClosed))
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		s := setupTestServer(t)
		rec := s.do(t, http.MethodGet, "/health", nil)
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("carries request ID into the request context", func(t *testing.T) {
		s := setupTestServer(t)
		var got string
		s.echo.GET("/echo-id", func(c echo.Context) error {
			for _, f := range logging.ContextFields(c.Request().Context()) {
				if f.Key == "request.id" {
					got = f.String
				}
			}
			return c.NoContent(http.StatusNoContent)
		})

		req := httptest.NewRequest(http.MethodGet, "/echo-id", nil)
		req.Header.Set(echo.HeaderXRequestID, "req-42")
		rec := httptest.NewRecorder()
		s.echo.ServeHTTP(rec, req)

		assert.Equal(t, "req-42", got)
	})

	t.Run("recovers from panic", func(t *testing.T) {
		s := setupTestServer(t)
		s.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})

		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
