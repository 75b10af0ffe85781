package remediation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Built-in action identifiers.
const (
	ActionNoop    = "noop"
	ActionWebhook = "webhook"
)

// NoopAction always succeeds. It is useful for drills and for exercising
// the eligibility and cool-down logic without side effects.
type NoopAction struct{}

func (NoopAction) Apply(context.Context, map[string]any, ActionContext) error { return nil }

// WebhookConfig configures a WebhookAction.
type WebhookConfig struct {
	// Timeout bounds one HTTP request (default: 5s).
	Timeout time.Duration

	// RatePerSecond limits how often the webhook fires (default: 1).
	RatePerSecond float64

	// Burst is the number of calls allowed at once (default: 5).
	Burst int
}

// DefaultWebhookConfig returns sensible defaults.
func DefaultWebhookConfig() WebhookConfig {
	return WebhookConfig{
		Timeout:       5 * time.Second,
		RatePerSecond: 1,
		Burst:         5,
	}
}

// WebhookAction calls an HTTP endpoint. Params:
//
//	url     string, required, http or https
//	method  string, default POST
//	headers map of string values
//
// The request body is the JSON ActionContext. Any non-2xx response is a
// failure.
type WebhookAction struct {
	client   *http.Client
	limiter  *rate.Limiter
	defaults map[string]any
}

// webhookBody is sent with every webhook call.
type webhookBody struct {
	ActionContext
	Params map[string]any `json:"params,omitempty"`
}

// NewWebhookAction creates a webhook action. defaults are merged under the
// descriptor params, so a catalog entry can fix the url for a named action.
func NewWebhookAction(cfg WebhookConfig, defaults map[string]any) *WebhookAction {
	def := DefaultWebhookConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	return &WebhookAction{
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		defaults: maps.Clone(defaults),
	}
}

func (w *WebhookAction) Apply(ctx context.Context, params map[string]any, actx ActionContext) error {
	merged := maps.Clone(w.defaults)
	if merged == nil {
		merged = make(map[string]any, len(params))
	}
	maps.Copy(merged, params)

	target, err := webhookURL(merged)
	if err != nil {
		return err
	}
	method := http.MethodPost
	if m, ok := merged["method"].(string); ok && m != "" {
		method = strings.ToUpper(m)
	}

	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webhook rate limited: %w", err)
	}

	extra := maps.Clone(merged)
	delete(extra, "url")
	delete(extra, "method")
	delete(extra, "headers")
	body, err := json.Marshal(webhookBody{ActionContext: actx, Params: extra})
	if err != nil {
		return fmt.Errorf("encode webhook body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers, ok := merged["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

func webhookURL(params map[string]any) (string, error) {
	raw, _ := params["url"].(string)
	if raw == "" {
		return "", fmt.Errorf("webhook url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("webhook url must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("webhook url has no host")
	}
	return u.String(), nil
}
