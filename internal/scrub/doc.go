// Package scrub removes secrets from error text before it is stored.
//
// Detection uses the gitleaks default rule set, extended with an optional
// TOML allowlist:
//
//	[allowlist]
//	regexes = ['''DEMO_API_KEY''']
//
// Each detected secret is replaced with a [REDACTED:rule-id:preview] marker
// that keeps the first four characters for triage.
package scrub
