// Package llm provides the primary chat completion client used by the
// enrichment stages. Calls are single attempts that return classified
// errors; retry pacing lives in the backoff controller.
package llm
