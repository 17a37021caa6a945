// Package backoff implements the retry controller wrapped around a single
// stage execution: exponential delays with optional jitter, Retry-After
// hints, a one-shot strict retry for schema violations, and the switch to
// the fallback provider after repeated primary failures.
package backoff
