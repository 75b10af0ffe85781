package http

import "github.com/fyrsmithlabs/mender/internal/pattern"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// ReportRequest is the request body for POST /api/v1/errors.
type ReportRequest struct {
	Source         string         `json:"source"`
	Message        string         `json:"message"`
	Severity       string         `json:"severity,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	AttemptAutoFix bool           `json:"attempt_auto_fix"`
	Silent         bool           `json:"silent"`
}

// SignatureRequest is the request body for POST /api/v1/signatures.
type SignatureRequest struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// SignatureResponse is the response body for POST /api/v1/signatures.
type SignatureResponse struct {
	Signature string `json:"signature"`
	PatternID string `json:"pattern_id"`
}

// PatternListResponse is the response body for GET /api/v1/patterns
// without a signature filter.
type PatternListResponse struct {
	Patterns []*pattern.Pattern `json:"patterns"`
}

// AttachRequest is the request body for PUT /api/v1/patterns/:id/remediation.
type AttachRequest struct {
	Action            string         `json:"action"`
	Params            map[string]any `json:"params,omitempty"`
	TrustedOnFirstUse bool           `json:"trusted_on_first_use"`
	AttachedBy        string         `json:"attached_by,omitempty"`
}

// OutcomeRequest is the request body for POST /api/v1/patterns/:id/outcomes.
type OutcomeRequest struct {
	Outcome string `json:"outcome"`
}
