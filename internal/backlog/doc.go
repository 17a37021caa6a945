// Package backlog persists work items and their per-stage progress in
// SQLite and hands out exclusive, lease-bounded claims to workers.
//
// Every enqueued item gets one stage_states row per pipeline stage. A stage
// row moves pending -> in_progress -> complete on success, back to pending
// on a retryable failure, and to dead_letter when the failure class is
// permanent or the retry budget runs out. Claims carry a lease; a sweep
// returns rows with lapsed leases to pending so a crashed worker never
// strands an item, and commit operations are guarded on the claim so a
// reclaimed attempt cannot overwrite its successor's result.
package backlog
