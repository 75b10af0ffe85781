// Package eventlog durably records every reported error as an immutable
// log entry.
//
// Logger.Log scrubs secrets from the message and metadata, prefixes the
// message with the reporting source, and performs exactly one insert into
// a Store under a bounded timeout. Any failure, including a panicking
// store, is returned as an error wrapping ErrLoggingFailed.
//
// Two stores are provided: MemoryStore for tests and single-process use,
// and ClickHouseStore for durable storage.
package eventlog
