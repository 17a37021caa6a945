// Command loom is the CLI for the Loom enrichment pipeline: enqueue
// documents, process the backlog in batch or continuous mode, inspect
// progress, and requeue failed work.
package main
