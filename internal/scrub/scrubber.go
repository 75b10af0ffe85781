package scrub

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

const previewLen = 4

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Secret string
}

// Scrubber detects and redacts secrets. The zero value and a nil
// *Scrubber pass text through unchanged.
type Scrubber struct {
	cfg     gitleaksconfig.Config
	enabled bool
}

// New builds a scrubber from the gitleaks default rules plus allowlist.
// Loading the default config is expensive, so build one Scrubber and share it.
func New(allowlist *Allowlist) (*Scrubber, error) {
	base, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}

	cfg := base.Config
	if allowlist != nil && (len(allowlist.Regexes) > 0 || len(allowlist.StopWords) > 0) {
		entry := &gitleaksconfig.Allowlist{Description: "mender scrub allowlist"}
		for _, pattern := range allowlist.Regexes {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
			}
			entry.Regexes = append(entry.Regexes, (*gitleaksregexp.Regexp)(re))
		}
		entry.StopWords = append(entry.StopWords, allowlist.StopWords...)
		cfg.Allowlists = append(cfg.Allowlists, entry)
	}

	return &Scrubber{cfg: cfg, enabled: true}, nil
}

// Scan returns the secrets found in content.
func (s *Scrubber) Scan(content string) []Finding {
	if s == nil || !s.enabled || content == "" {
		return nil
	}

	// Detectors accumulate findings, so each scan gets a fresh one.
	detector := detect.NewDetector(s.cfg)
	raw := detector.DetectString(content)

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		if f.Secret == "" {
			continue
		}
		findings = append(findings, Finding{RuleID: f.RuleID, Secret: f.Secret})
	}
	return findings
}

// Redact replaces every detected secret in content with a marker.
func (s *Scrubber) Redact(content string) string {
	findings := s.Scan(content)
	if len(findings) == 0 {
		return content
	}

	// Longest first so a secret containing another is replaced whole.
	sort.Slice(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})
	for _, f := range findings {
		content = strings.ReplaceAll(content, f.Secret, marker(f))
	}
	return content
}

// RedactMetadata returns a copy of md with string values redacted.
// Nested maps and slices are walked; other values are kept as is.
func (s *Scrubber) RedactMetadata(md map[string]any) map[string]any {
	if md == nil {
		return nil
	}
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = s.redactValue(v)
	}
	return out
}

func (s *Scrubber) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return s.Redact(val)
	case []string:
		cp := make([]string, len(val))
		for i, item := range val {
			cp[i] = s.Redact(item)
		}
		return cp
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = s.redactValue(item)
		}
		return cp
	case map[string]any:
		return s.RedactMetadata(val)
	default:
		return v
	}
}

func marker(f Finding) string {
	preview := f.Secret
	if len(preview) > previewLen {
		preview = preview[:previewLen]
	}
	return fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview)
}
