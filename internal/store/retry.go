package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/sitebook-dev/sitebook/internal/metrics"
)

var (
	// ErrRetriesExhausted is returned after MaxAttempts transient failures
	ErrRetriesExhausted = errors.New("database retries exhausted")

	// ErrTimeout is returned when the caller's context ends the retry loop
	ErrTimeout = errors.New("database operation timed out")
)

// RetryPolicy is a per-call retry configuration
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns 5 attempts starting at 1s, doubling each time
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 1
	}
	return p
}

// Delays returns the sleep before each retry (MaxAttempts-1 entries)
func (p RetryPolicy) Delays() []time.Duration {
	p = p.normalized()
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	delay := p.InitialDelay
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, delay)
		delay = time.Duration(float64(delay) * p.BackoffMultiplier)
	}
	return delays
}

// MaxTotalDelay is the worst-case time spent sleeping for one call
func (p RetryPolicy) MaxTotalDelay() time.Duration {
	var total time.Duration
	for _, d := range p.Delays() {
		total += d
	}
	return total
}

// Op performs exactly one logical data-store call
type Op[T any] func(db *gorm.DB) (T, error)

// Accessor runs data-store operations with reconnect, retry and backoff
type Accessor struct {
	conn        Connector
	policy      RetryPolicy
	isTransient func(error) bool
	sleep       func(ctx context.Context, d time.Duration) error
	logger      zerolog.Logger
}

// Option configures an Accessor
type Option func(*Accessor)

// WithPolicy overrides the default retry policy
func WithPolicy(p RetryPolicy) Option {
	return func(a *Accessor) { a.policy = p.normalized() }
}

// WithClassifier overrides the transient error classifier
func WithClassifier(fn func(error) bool) Option {
	return func(a *Accessor) { a.isTransient = fn }
}

// WithSleeper overrides how the accessor waits between attempts
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Accessor) { a.sleep = fn }
}

// NewAccessor creates a resilient accessor over conn
func NewAccessor(conn Connector, logger zerolog.Logger, opts ...Option) *Accessor {
	a := &Accessor{
		conn:        conn,
		policy:      DefaultRetryPolicy(),
		isTransient: IsTransient,
		sleep:       sleepContext,
		logger:      logger.With().Str("component", "store_accessor").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Policy returns the accessor's default policy
func (a *Accessor) Policy() RetryPolicy {
	return a.policy
}

// Do runs op with the accessor's policy
func (a *Accessor) Do(ctx context.Context, op func(db *gorm.DB) error) error {
	_, err := Execute(ctx, a, func(db *gorm.DB) (struct{}, error) {
		return struct{}{}, op(db)
	})
	return err
}

// Transaction runs fn in a single transaction; the whole transaction is the retried unit
func (a *Accessor) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return a.Do(ctx, func(db *gorm.DB) error {
		return db.Transaction(fn)
	})
}

// Execute runs op with the accessor's policy
func Execute[T any](ctx context.Context, a *Accessor, op Op[T]) (T, error) {
	return ExecuteWith(ctx, a, a.policy, op)
}

// ExecuteWith runs op under policy. Non-transient errors are returned as-is
// on first sight. Transient errors trigger a reconnect and a backoff sleep
// until MaxAttempts calls have been made, then ErrRetriesExhausted wraps the
// last error. A done context yields ErrTimeout.
func ExecuteWith[T any](ctx context.Context, a *Accessor, policy RetryPolicy, op Op[T]) (T, error) {
	var zero T
	policy = policy.normalized()
	delay := policy.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, timeoutError(attempt-1, err, lastErr)
		}

		db, err := a.conn.DB(ctx)
		if err == nil {
			var result T
			result, err = op(db.WithContext(ctx))
			if err == nil {
				if attempt > 1 {
					metrics.StoreRetries.WithLabelValues("recovered").Inc()
				}
				return result, nil
			}
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, timeoutError(attempt, ctxErr, err)
		}
		if !a.isTransient(err) {
			return zero, err
		}
		lastErr = err

		if attempt == policy.MaxAttempts {
			break
		}

		metrics.StoreRetries.WithLabelValues("retry").Inc()
		a.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Int("max_attempts", policy.MaxAttempts).
			Dur("delay", delay).
			Msg("Transient database error - retrying")

		if rerr := a.conn.Reconnect(ctx, db); rerr != nil {
			a.logger.Warn().Err(rerr).Msg("Reconnect failed - next attempt will dial again")
		}
		if err := a.sleep(ctx, delay); err != nil {
			return zero, timeoutError(attempt, err, lastErr)
		}
		delay = time.Duration(float64(delay) * policy.BackoffMultiplier)
	}

	metrics.StoreRetries.WithLabelValues("exhausted").Inc()
	a.logger.Error().Err(lastErr).Int("attempts", policy.MaxAttempts).Msg("Database retries exhausted")
	return zero, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, policy.MaxAttempts, lastErr)
}

func timeoutError(attempts int, ctxErr, lastErr error) error {
	if lastErr == nil {
		return fmt.Errorf("%w after %d attempts: %w", ErrTimeout, attempts, ctxErr)
	}
	return fmt.Errorf("%w after %d attempts: %w: %w", ErrTimeout, attempts, ctxErr, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
