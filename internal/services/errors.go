package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var (
	ErrRateLimited      = errors.New("rate limited")
	ErrTransient        = errors.New("transient failure")
	ErrSchemaInvalid    = errors.New("schema validation failure")
	ErrPermanent        = errors.New("permanent failure")
	ErrStoreConflict    = errors.New("store conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Class is the coarse failure classification the backoff controller and the
// backlog store act on.
type Class string

const (
	ClassRateLimited      Class = "rate_limited"
	ClassTransient        Class = "transient"
	ClassSchemaInvalid    Class = "schema_invalid"
	ClassPermanent        Class = "permanent"
	ClassStoreConflict    Class = "store_conflict"
	ClassStoreUnavailable Class = "store_unavailable"
)

// Retryable reports whether another attempt may succeed without operator
// intervention.
func (c Class) Retryable() bool {
	switch c {
	case ClassRateLimited, ClassTransient, ClassStoreUnavailable:
		return true
	default:
		return false
	}
}

// ParseClass converts a stored classification string back into a Class.
func ParseClass(value string) (Class, bool) {
	normalized := Class(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case ClassRateLimited, ClassTransient, ClassSchemaInvalid, ClassPermanent, ClassStoreConflict, ClassStoreUnavailable:
		return normalized, true
	}
	return "", false
}

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to its failure class. Unrecognized errors are treated
// as transient so a poison item still burns through its bounded retry budget
// instead of dead-lettering on the first oddity.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRateLimited):
		return ClassRateLimited
	case errors.Is(err, ErrSchemaInvalid):
		return ClassSchemaInvalid
	case errors.Is(err, ErrPermanent):
		return ClassPermanent
	case errors.Is(err, ErrStoreConflict):
		return ClassStoreConflict
	case errors.Is(err, ErrStoreUnavailable):
		return ClassStoreUnavailable
	case errors.Is(err, ErrTransient):
		return ClassTransient
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	return ClassTransient
}

// RetryAfter extracts an explicit provider-requested delay from the error
// chain, typically sourced from a Retry-After header on a 429 response.
func RetryAfter(err error) (time.Duration, bool) {
	var carrier interface{ RetryAfter() time.Duration }
	if errors.As(err, &carrier) {
		if delay := carrier.RetryAfter(); delay > 0 {
			return delay, true
		}
	}
	return 0, false
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
