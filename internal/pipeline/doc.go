// Package pipeline encodes the stage dependency graph and the processor
// contract each stage implements.
//
// A Pipeline is built once at startup from stage definitions, validated for
// unknown or cyclic dependencies, and consulted by the backlog store (claim
// eligibility), workers (which processor to run), and the runner (which stage
// to target next). It holds no mutable state after construction.
package pipeline
