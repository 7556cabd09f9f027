package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Policy configures WithBackoff. The zero value makes a single attempt.
type Policy struct {
	Operation   string
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps the exponential part. Zero means uncapped.
	MaxDelay time.Duration
	// Jitter is the upper bound of the random delay added to each wait.
	Jitter time.Duration
	// ShouldRetry decides retry eligibility. Defaults to Retryable.
	ShouldRetry func(error) bool
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *zap.Logger
}

// retryAfterer is implemented by errors that carry a server-supplied wait.
type retryAfterer interface {
	RetryAfterDuration() time.Duration
}

func (e *CodeError) RetryAfterDuration() time.Duration {
	return e.RetryAfter
}

// Delay returns the wait before the attempt following the given failed one.
// attempt is 1-based.
func (p Policy) Delay(attempt int) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d < 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return d
}

// WithBackoff runs op until it succeeds, fails with an error the policy does
// not retry, or MaxAttempts is reached. The last error is returned wrapped so
// callers can still classify it.
func WithBackoff[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = Retryable
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("operation", p.Operation))

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			if attempt > 1 {
				logger.Info("Operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			logger.Warn("Operation failed with non-retryable error",
				zap.Int("attempt", attempt), zap.Error(err))
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			logger.Warn("Context done, not retrying", zap.Int("attempt", attempt), zap.Error(err))
			return zero, fmt.Errorf("%w (last error: %v)", ctxErr, lastErr)
		}

		delay := p.Delay(attempt)
		var ra retryAfterer
		if errors.As(err, &ra) && ra.RetryAfterDuration() > delay {
			delay = ra.RetryAfterDuration()
		}

		logger.Warn("Operation failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := sleep(ctx, delay); err != nil {
			logger.Warn("Retry wait interrupted", zap.Int("attempt", attempt), zap.Error(err))
			return zero, fmt.Errorf("%w (last error: %v)", err, lastErr)
		}
	}

	logger.Error("Operation failed after all attempts",
		zap.Int("attempts", maxAttempts), zap.Error(lastErr))
	return zero, fmt.Errorf("%s: giving up after %d attempts: %w", p.Operation, maxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
