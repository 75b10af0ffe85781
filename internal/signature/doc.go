// Package signature derives canonical error signatures.
//
// A signature collapses structurally identical errors into one string by
// replacing instance data (timestamps, UUIDs, addresses, hex tokens, quoted
// values and numbers) with placeholders and prefixing the reporting source:
//
//	Normalize(`user 42 not found`, "accounts")  // "accounts:user <n> not found"
//	Normalize(`user 99 not found`, "accounts")  // "accounts:user <n> not found"
//
// Callers hand raw failures to Derive as a Cause, built with FromError for
// error values, FromValue for anything else, or FromRecovered for the
// result of recover().
package signature
