// Package pattern stores learned error patterns keyed by signature.
//
// Every mutation is a single atomic store operation: UpsertBySignature
// inserts or increments, IncrementOutcome bumps one counter, and
// ClaimApplication sets last_applied_at only when the cool-down has passed.
// Callers never read, modify and write back a Pattern.
//
// Pattern ids are UUIDv5 values derived from the signature, so every store
// agrees on the id of a signature without a lookup.
package pattern
