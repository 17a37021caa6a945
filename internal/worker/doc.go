// Package worker drives the backlog: workers claim stage batches and run
// processors under the backoff controller, the coordinator picks which
// stage to drain, and the pool fans work across workers in batch or
// continuous mode.
package worker
