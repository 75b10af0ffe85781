package remediation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebhookAction_Apply(t *testing.T) {
	var (
		gotMethod string
		gotHeader string
		gotBody   webhookBody
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Token")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	a := NewWebhookAction(WebhookConfig{}, map[string]any{"url": srv.URL})
	err := a.Apply(context.Background(), map[string]any{
		"method":  "put",
		"headers": map[string]any{"X-Token": "abc"},
		"service": "payments",
	}, ActionContext{AttemptID: "a-1", PatternID: "p-1", Signature: "sig", LogEntryID: "log-1"})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "abc", gotHeader)
	assert.Equal(t, "p-1", gotBody.PatternID)
	assert.Equal(t, "log-1", gotBody.LogEntryID)
	assert.Equal(t, map[string]any{"service": "payments"}, gotBody.Params)
}

func TestWebhookAction_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		params  map[string]any
		wantErr string
	}{
		{"missing url", map[string]any{}, "webhook url is required"},
		{"bad scheme", map[string]any{"url": "file:///etc/passwd"}, "must be http or https"},
		{"no host", map[string]any{"url": "http://"}, "no host"},
		{"non-2xx", map[string]any{"url": srv.URL}, "503"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewWebhookAction(WebhookConfig{}, nil).Apply(context.Background(), tt.params, ActionContext{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestWebhookAction_RateLimited(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	a := NewWebhookAction(WebhookConfig{RatePerSecond: 0.001, Burst: 1}, map[string]any{"url": srv.URL})

	require.NoError(t, a.Apply(context.Background(), nil, ActionContext{}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := a.Apply(ctx, nil, ActionContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
	assert.Equal(t, int32(1), calls.Load())
}
