package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"loom/internal/services"
)

func TestClassifySentinels(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		expected services.Class
	}{
		{"rate_limited", services.Wrap(services.ErrRateLimited, "summarize", "complete", "http 429", nil), services.ClassRateLimited},
		{"transient", services.Wrap(services.ErrTransient, "summarize", "complete", "connection reset", nil), services.ClassTransient},
		{"schema_invalid", services.Wrap(services.ErrSchemaInvalid, "classify", "decode", "missing field", nil), services.ClassSchemaInvalid},
		{"permanent", services.Wrap(services.ErrPermanent, "classify", "complete", "http 401", nil), services.ClassPermanent},
		{"store_conflict", services.ErrStoreConflict, services.ClassStoreConflict},
		{"store_unavailable", fmt.Errorf("commit: %w", services.ErrStoreUnavailable), services.ClassStoreUnavailable},
		{"deadline", context.DeadlineExceeded, services.ClassTransient},
		{"unknown", errors.New("mystery"), services.ClassTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.Classify(tc.err); got != tc.expected {
				t.Fatalf("Classify(%v) = %s, want %s", tc.err, got, tc.expected)
			}
		})
	}
}

func TestClassBehavior(t *testing.T) {
	if !services.ClassRateLimited.Retryable() || !services.ClassTransient.Retryable() {
		t.Fatal("expected rate limited and transient to be retryable")
	}
	if services.ClassPermanent.Retryable() {
		t.Fatal("permanent must not be retryable")
	}
	if services.ClassSchemaInvalid.Retryable() {
		t.Fatal("schema invalid must not be retryable")
	}
}

func TestParseClassRoundTrip(t *testing.T) {
	for _, class := range []services.Class{
		services.ClassRateLimited,
		services.ClassTransient,
		services.ClassSchemaInvalid,
		services.ClassPermanent,
		services.ClassStoreConflict,
		services.ClassStoreUnavailable,
	} {
		parsed, ok := services.ParseClass(string(class))
		if !ok || parsed != class {
			t.Fatalf("ParseClass(%q) = %q, %v", class, parsed, ok)
		}
	}
	if _, ok := services.ParseClass("nonsense"); ok {
		t.Fatal("expected parse failure for unknown class")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	err := services.Wrap(services.ErrTransient, "summarize", "complete", "request failed", cause)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected marker in chain: %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain: %v", err)
	}
}

type retryAfterErr struct{ delay time.Duration }

func (e *retryAfterErr) Error() string             { return "throttled" }
func (e *retryAfterErr) RetryAfter() time.Duration { return e.delay }

func TestRetryAfterExtraction(t *testing.T) {
	wrapped := fmt.Errorf("attempt 1: %w", &retryAfterErr{delay: 3 * time.Second})
	delay, ok := services.RetryAfter(wrapped)
	if !ok || delay != 3*time.Second {
		t.Fatalf("RetryAfter = %v, %v", delay, ok)
	}
	if _, ok := services.RetryAfter(errors.New("plain")); ok {
		t.Fatal("expected no retry-after on plain error")
	}
}
