package signature

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxLength bounds the normalized message part of a signature, in runes.
	MaxLength = 256

	// coarseLength is the prefix kept by the coarse fallback, in runes.
	coarseLength = 64

	unknownSource = "unknown"
)

// replacement is applied in slice order; earlier rules protect their
// matches from later, more general ones.
type replacement struct {
	re   *regexp.Regexp
	repl string
}

var replacements = []replacement{
	{regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2}(?:[.,]\d+)?)?(?:Z|[+-]\d{2}:?\d{2})?)?\b`), "<ts>"},
	{regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`), "<uuid>"},
	{regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d{1,5})?\b`), "<ip>"},
	{regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b|\b[0-9a-f]{16,}\b`), "<hex>"},
	{regexp.MustCompile("\"[^\"]*\"|`[^`]*`"), "<str>"},
	// Single quotes only open after a non-word rune so contractions survive.
	{regexp.MustCompile(`(^|[^\w])'[^']*'`), "${1}<str>"},
	// Trailing digits glued to an identifier ("c42", "job_17"); inner
	// digits ("e2e") are kept.
	{regexp.MustCompile(`\b([A-Za-z]\w*?)\d+\b`), "${1}<n>"},
	// Numbers may carry a unit suffix ("30s", "512mb"); only the digits go.
	{regexp.MustCompile(`\b\d+(?:\.\d+)?`), "<n>"},
}

var whitespace = regexp.MustCompile(`\s+`)

// Normalize returns the signature of rawMessage reported by source. It is
// deterministic and never fails.
func Normalize(rawMessage, source string) string {
	msg := rawMessage
	for _, r := range replacements {
		msg = r.re.ReplaceAllString(msg, r.repl)
	}
	msg = collapse(msg)
	return normalizeSource(source) + ":" + truncate(msg, MaxLength)
}

// Derive computes the signature for a reported cause. Causes that cannot be
// rendered as text, and any unexpected failure while normalizing, produce a
// coarse signature instead: "source:coarse:<first 64 runes>".
func Derive(cause Cause, source string) (sig string) {
	msg := cause.Message()

	defer func() {
		if r := recover(); r != nil {
			sig = coarse(msg, source)
		}
	}()

	if cause.Kind() == KindValue && !textual(cause.value) {
		return coarse(msg, source)
	}
	return Normalize(msg, source)
}

// textual reports whether v carries a human-readable message.
func textual(v any) bool {
	switch v.(type) {
	case string, fmt.Stringer, error:
		return true
	default:
		return false
	}
}

func coarse(msg, source string) string {
	return normalizeSource(source) + ":coarse:" + truncate(collapse(msg), coarseLength)
}

func normalizeSource(source string) string {
	s := collapse(source)
	if s == "" {
		return unknownSource
	}
	return strings.ReplaceAll(s, " ", "_")
}

func collapse(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(strings.ToLower(s), " "))
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
