// Package retry runs outbound calls with bounded retries, doubling delays
// and a uniform error taxonomy.
package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Policy bounds the retries of one capability.
type Policy struct {
	Retries   int
	BaseDelay time.Duration
}

// Attempts is the maximum number of calls made under the policy.
func (p Policy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor runs calls under a Policy.
type Executor struct {
	logger  *zap.Logger
	sleep   SleepFunc
	metrics *Metrics
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleep replaces the wait between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(e *Executor) {
		e.sleep = sleep
	}
}

// WithMetrics records every attempt on m.
func WithMetrics(m *Metrics) Option {
	return func(e *Executor) {
		e.metrics = m
	}
}

// NewExecutor creates a new Executor.
func NewExecutor(logger *zap.Logger, opts ...Option) *Executor {
	e := &Executor{
		logger: logger,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Do calls fn until it succeeds or the policy is exhausted. Every raw failure
// is logged before classification. A rejected credential ends the loop at
// once, and so does cancellation of ctx.
func Do[T any](ctx context.Context, e *Executor, p Policy, label string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	delay := p.BaseDelay
	attempts := p.Attempts()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		v, err := fn(ctx)
		if err == nil {
			e.metrics.observe(label, "success", time.Since(start))
			return v, nil
		}

		classified := Classify(err, label)
		e.metrics.observe(label, classified.Kind.String(), time.Since(start))
		e.logger.Warn("gateway call failed",
			zap.String("operation", label),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)

		if attempt >= attempts || classified.Kind == KindInvalidCredential || ctx.Err() != nil {
			e.logger.Error("gateway call gave up",
				zap.String("operation", label),
				zap.Stringer("kind", classified.Kind),
				zap.Int("attempts", attempt),
			)
			return zero, classified
		}

		if err := e.sleep(ctx, delay); err != nil {
			return zero, &Error{Kind: KindFailure, Context: label, Cause: err}
		}
		delay *= 2
	}
}

// Run is Do for calls without a result.
func (e *Executor) Run(ctx context.Context, p Policy, label string, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, e, p, label, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
