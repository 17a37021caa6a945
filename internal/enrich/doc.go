// Package enrich implements the built-in enrichment stages. Each stage is a
// pipeline.Processor that prompts a completion provider, decodes the reply
// against the stage's result schema, and returns the normalized JSON the
// backlog stores for downstream stages.
package enrich
