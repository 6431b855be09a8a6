// Package retry runs fallible provider calls with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cuongbtq/brandgen/internal/domain"
)

// Class is the outcome of classifying a failed attempt
type Class int

const (
	Fatal Class = iota
	Retryable
)

func (c Class) String() string {
	if c == Retryable {
		return "retryable"
	}
	return "fatal"
}

// Classifier decides whether an error is worth another attempt
type Classifier func(err error) Class

// DefaultClassifier retries transient provider failures (network errors,
// timeouts, HTTP 429/500/502/503/504) and treats everything else as fatal.
func DefaultClassifier(err error) Class {
	if domain.KindOf(err) == domain.KindTransientProvider {
		return Retryable
	}
	return Fatal
}

// Options configures the backoff schedule
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64

	// AttemptTimeout bounds a single attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration

	Logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns 3 retries, 1s base delay, 10s cap and doubling
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   10 * time.Second,
		Multiplier: 2,
	}
}

// Result is the structured outcome of Do. Callers branch on Success.
type Result[T any] struct {
	Success   bool
	Data      T
	Err       error
	Attempts  int
	TotalTime time.Duration
}

// Operation is one attempt of the wrapped call
type Operation[T any] func(ctx context.Context) (T, error)

// Delay returns the backoff before retry number attempt (zero based):
// min(MaxDelay, BaseDelay * Multiplier^attempt).
func (o Options) Delay(attempt int) time.Duration {
	delay := float64(o.BaseDelay) * math.Pow(o.Multiplier, float64(attempt))
	if o.MaxDelay > 0 && delay > float64(o.MaxDelay) {
		return o.MaxDelay
	}
	return time.Duration(delay)
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.MaxRetries < 0 {
		o.MaxRetries = def.MaxRetries
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = def.BaseDelay
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = def.MaxDelay
	}
	if o.Multiplier < 1 {
		o.Multiplier = def.Multiplier
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.sleep == nil {
		o.sleep = sleepContext
	}
	return o
}

// Do runs op until it succeeds, fails fatally or MaxRetries retries are spent.
// It never panics on provider errors and never returns a bare error.
func Do[T any](ctx context.Context, opts Options, classify Classifier, op Operation[T]) Result[T] {
	opts = opts.withDefaults()
	if classify == nil {
		classify = DefaultClassifier
	}

	start := time.Now()
	var result Result[T]

	for attempt := 0; ; attempt++ {
		result.Attempts = attempt + 1

		data, err := runAttempt(ctx, opts.AttemptTimeout, op)
		if err == nil {
			result.Success = true
			result.Data = data
			result.Err = nil
			result.TotalTime = time.Since(start)
			if attempt > 0 {
				opts.Logger.Info("Operation succeeded after retry",
					slog.Int("attempts", result.Attempts),
					slog.Duration("total_time", result.TotalTime),
				)
			}
			return result
		}

		result.Err = err

		// A cancelled parent context ends the sequence regardless of classification.
		if ctxErr := ctx.Err(); ctxErr != nil {
			result.Err = fmt.Errorf("%w (last error: %v)", ctxErr, err)
			break
		}

		class := classify(err)
		if class == Fatal {
			opts.Logger.Warn("Operation failed with fatal error, not retrying",
				slog.Int("attempt", result.Attempts),
				slog.Any("error", err),
			)
			break
		}

		if attempt >= opts.MaxRetries {
			opts.Logger.Warn("Operation failed after all retries",
				slog.Int("attempts", result.Attempts),
				slog.Any("error", err),
			)
			break
		}

		delay := opts.Delay(attempt)
		opts.Logger.Warn("Operation failed, retrying...",
			slog.Int("attempt", result.Attempts),
			slog.Int("max_retries", opts.MaxRetries),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		if err := opts.sleep(ctx, delay); err != nil {
			result.Err = fmt.Errorf("%w (last error: %v)", err, result.Err)
			break
		}
	}

	result.TotalTime = time.Since(start)
	return result
}

// runAttempt runs op under an optional per-attempt deadline. When the deadline
// fires we stop waiting; a provider that ignores ctx may still finish in the
// background and its result is discarded.
func runAttempt[T any](ctx context.Context, timeout time.Duration, op Operation[T]) (T, error) {
	if timeout <= 0 {
		return callRecovered(ctx, op)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		data T
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		data, err := callRecovered(attemptCtx, op)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		return out.data, out.err
	case <-attemptCtx.Done():
		var zero T
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, domain.NewRetryableError(fmt.Errorf("attempt timed out after %s: %w", timeout, context.DeadlineExceeded))
		}
		return zero, attemptCtx.Err()
	}
}

// callRecovered turns a panic in op into an ordinary error
func callRecovered[T any](ctx context.Context, op Operation[T]) (data T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			data, err = zero, fmt.Errorf("operation panicked: %v", r)
		}
	}()
	return op(ctx)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
