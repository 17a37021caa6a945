// Package logging wires slog handlers and shared field conventions.
//
// Two output formats exist: a console handler that renders one line per
// record with flattened key=value attributes, and a JSON handler for log
// shippers. Field name constants keep item/stage/worker identifiers
// consistent across components, and WithContext lifts those identifiers out
// of a request context onto a logger.
package logging
