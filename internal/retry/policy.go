// Package retry wraps operations with bounded, logged retry attempts.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sc2-map-indexer/internal/metrics"
)

// Policy describes how an operation is retried.
type Policy struct {
	// Name labels log lines and metrics.
	Name string
	// MaxAttempts counts the first call; values below 1 mean a single attempt.
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay caps exponential growth. When it equals BaseDelay the delay is fixed.
	MaxDelay time.Duration
	// Jitter spreads each delay over [delay/2, delay).
	Jitter bool
	// Retryable decides whether an error is worth another attempt. Nil retries everything.
	Retryable func(error) bool
	Logger    *zap.Logger
}

// Fixed returns a policy retrying after a constant delay.
func Fixed(name string, attempts int, delay time.Duration, retryable func(error) bool, logger *zap.Logger) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: attempts,
		BaseDelay:   delay,
		MaxDelay:    delay,
		Retryable:   retryable,
		Logger:      logger,
	}
}

// Exponential returns a jittered exponential backoff policy.
func Exponential(name string, attempts int, base, maxDelay time.Duration, retryable func(error) bool, logger *zap.Logger) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: attempts,
		BaseDelay:   base,
		MaxDelay:    maxDelay,
		Jitter:      true,
		Retryable:   retryable,
		Logger:      logger,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, or attempts run out.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !p.shouldRetry(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := p.Backoff(attempt)
		logger.Warn("operation failed, retrying",
			zap.String("policy", p.Name),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", attempts),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		metrics.ObserveRetry(p.Name)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s retry canceled: %w", p.Name, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", p.Name, attempts, lastErr)
}

func (p Policy) shouldRetry(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// Backoff returns the wait duration before the attempt following attempt.
func (p Policy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if !p.Jitter {
		return time.Duration(delay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
