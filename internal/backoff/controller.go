package backoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"loom/internal/config"
	"loom/internal/logging"
	"loom/internal/services"
)

// Policy describes the in-cycle retry behavior applied around one stage
// execution. The cross-cycle retry budget lives in the backlog store; this
// policy only governs attempts within a single claim.
type Policy struct {
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	MaxAttempts   int
	FallbackAfter int
	Jitter        bool
}

// PolicyFromConfig converts the configured millisecond values into a Policy.
func PolicyFromConfig(cfg config.Backoff) Policy {
	return Policy{
		BaseDelay:     time.Duration(cfg.BaseDelayMS) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.MaxDelayMS) * time.Millisecond,
		MaxAttempts:   cfg.MaxAttempts,
		FallbackAfter: cfg.FallbackAfter,
		Jitter:        cfg.Jitter,
	}
}

// Attempt carries the per-try directives the controller hands to the stage:
// which attempt this is, whether to use the fallback provider, and whether
// to tighten the prompt after a schema violation.
type Attempt struct {
	Number      int
	UseFallback bool
	StrictHint  bool
}

// Controller drives the retry loop for one stage execution. It classifies
// each failure, honors provider Retry-After hints, switches to the fallback
// provider after repeated primary failures, and grants a schema violation
// exactly one strict retry before giving up.
type Controller struct {
	policy  Policy
	logger  *slog.Logger
	sleeper func(time.Duration)
}

// Option customizes the controller.
type Option func(*Controller)

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Controller) {
		c.sleeper = sleeper
	}
}

// New constructs a controller with the supplied policy.
func New(policy Policy, logger *slog.Logger, opts ...Option) *Controller {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay < 0 {
		policy.BaseDelay = 0
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = policy.BaseDelay
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	controller := &Controller{policy: policy, logger: logger}
	for _, opt := range opts {
		opt(controller)
	}
	return controller
}

// Run executes fn until it succeeds, fails non-retryably, exhausts the
// attempt budget, or the context ends. hasFallback reports whether a
// fallback provider exists; without one the fallback switch never happens.
//
// The loop always terminates: every retryable failure either consumes one of
// the bounded attempts or returns immediately, and sleeps are cut short by
// context cancellation.
func (c *Controller) Run(ctx context.Context, hasFallback bool, fn func(ctx context.Context, attempt Attempt) error) error {
	useFallback := false
	strictNext := false
	strictUsed := false
	var lastErr error

	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, Attempt{Number: attempt, UseFallback: useFallback, StrictHint: strictNext})
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
		strictNext = false

		class := services.Classify(err)
		switch class {
		case services.ClassSchemaInvalid:
			// One strict retry per cycle, then the violation stands.
			if strictUsed {
				return err
			}
			strictUsed = true
			strictNext = true
		case services.ClassRateLimited, services.ClassTransient:
		default:
			return err
		}

		if attempt >= c.policy.MaxAttempts {
			break
		}
		if hasFallback && !useFallback && c.policy.FallbackAfter > 0 && attempt >= c.policy.FallbackAfter {
			useFallback = true
			c.logger.WarnContext(ctx, "switching to fallback provider",
				logging.Int("attempt", attempt),
				logging.String(logging.FieldErrorClass, string(class)),
			)
		}

		delay := c.delayFor(err, attempt)
		c.logger.DebugContext(ctx, "retrying after failure",
			logging.Int("attempt", attempt),
			logging.String(logging.FieldErrorClass, string(class)),
			logging.Duration("delay", delay),
			logging.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", c.policy.MaxAttempts, lastErr)
}

// delayFor prefers an explicit provider Retry-After hint, capped at the
// policy maximum, over the computed exponential delay.
func (c *Controller) delayFor(err error, attempt int) time.Duration {
	if hinted, ok := services.RetryAfter(err); ok {
		return c.cap(hinted)
	}
	return c.backoffDelay(attempt)
}

// backoffDelay doubles the base delay per attempt, capped at the maximum,
// with optional jitter keeping concurrent workers from retrying in step.
func (c *Controller) backoffDelay(attempt int) time.Duration {
	delay := c.policy.BaseDelay
	if delay <= 0 {
		return 0
	}
	for i := 1; i < attempt; i++ {
		if delay > c.policy.MaxDelay/2 {
			delay = c.policy.MaxDelay
			break
		}
		delay *= 2
	}
	delay = c.cap(delay)
	if c.policy.Jitter && delay > 1 {
		half := delay / 2
		delay = half + rand.N(delay-half)
	}
	return delay
}

func (c *Controller) cap(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if c.policy.MaxDelay > 0 && delay > c.policy.MaxDelay {
		return c.policy.MaxDelay
	}
	return delay
}

func (c *Controller) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
