// Package services defines the failure taxonomy and context plumbing shared
// by enrichment processors, the backoff controller, and the backlog store.
//
// Errors are tagged with sentinel markers (rate limited, transient, schema
// invalid, permanent, store conflict, store unavailable) via Wrap and mapped
// back to a Class with Classify. The class decides in-cycle retry behavior:
// retryable classes go through backoff, the rest fail the cycle. Across
// cycles every failure burns one unit of the item's retry budget.
package services
