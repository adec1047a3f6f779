package github

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/Sternrassler/webapi-kit/pkg/client"
	"github.com/Sternrassler/webapi-kit/pkg/endpoint"
	"github.com/Sternrassler/webapi-kit/pkg/pagination"
	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Common errors returned by the retry layer.
var (
	// ErrRetryExhausted is returned when every attempt failed.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context ends during a backoff.
	ErrContextCancelled = errors.New("context cancelled during retry")
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webapi_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webapi_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts, the first one included.
	MaxAttempts int

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// BackoffMultiplier is the growth factor between attempts.
	BackoffMultiplier float64
}

// RetryPolicy picks the retry configuration for an error class.
type RetryPolicy func(client.ErrorClass) RetryConfig

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// RetryConfigForErrorClass is the default RetryPolicy.
func RetryConfigForErrorClass(errorClass client.ErrorClass) RetryConfig {
	switch errorClass {
	case client.ErrorClassServer:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case client.ErrorClassRateLimit:
		// exhausted quota or secondary rate limit - longer backoff
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    5 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case client.ErrorClassNetwork:
		return RetryConfig{
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultRetryConfig()
	}
}

func newBackOff(cfg RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialBackoff
	b.MaxInterval = cfg.MaxBackoff
	b.Multiplier = cfg.BackoffMultiplier
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// retryable reports whether err is worth another attempt. Only round-trip
// failures qualify; misuse such as pagination.ErrConcurrentNext does not.
func retryable(err error) bool {
	if _, ok := endpoint.AsError(err); !ok {
		return false
	}
	return client.ShouldRetry(client.ClassifyError(err))
}

// recoverable keeps a paginator open on errors the retry layer will retry.
func recoverable(e *endpoint.Error) bool {
	return retryable(e)
}

// retryWithBackoff runs fn until it succeeds, fails with an error that is
// not retryable, or the attempts for the first error's class run out.
func retryWithBackoff(ctx context.Context, policy RetryPolicy, logger zerolog.Logger, fn func() error) error {
	err := fn()
	if err == nil || !retryable(err) {
		return err
	}

	errorClass := client.ClassifyError(err)
	config := policy(errorClass)
	b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(config), uint64(max(config.MaxAttempts-1, 0))), ctx)

	// the first attempt already ran; its error is replayed so that
	// RetryNotify starts with a backoff
	attempt := 0
	permanent := false
	operation := func() error {
		attempt++
		if attempt > 1 {
			err = fn()
		}
		if err != nil && !retryable(err) {
			permanent = true
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		retriesTotal.WithLabelValues(string(errorClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(wait.Seconds())

		logger.Debug().
			Err(err).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt+1).
			Dur("backoff", wait).
			Msg("Retrying request after backoff")
	}

	rerr := backoff.RetryNotify(operation, b, notify)
	switch {
	case rerr == nil:
		logger.Info().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Msg("Request succeeded after retry")
		return nil
	case permanent:
		return rerr
	case ctx.Err() != nil:
		logger.Warn().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt+1).
			Msg("Context cancelled during retry backoff")
		return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
	}

	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	logger.Warn().
		Err(rerr).
		Str("error_class", string(errorClass)).
		Int("max_attempts", config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, rerr)
}

// Retrier drives a paginator whose retryable failures are recoverable,
// retrying each failed pull with backoff. Once a failure is returned the
// Retrier is closed and every later Next returns pagination.ErrDone.
type Retrier[T any] struct {
	pager  *pagination.Paginator[endpoint.Request, T]
	policy RetryPolicy
	logger zerolog.Logger
	closed bool
}

// Next returns the next item, retrying transient failures.
func (r *Retrier[T]) Next(ctx context.Context) (T, error) {
	var zero T
	if r.closed {
		return zero, pagination.ErrDone
	}

	var (
		item T
		done bool
	)
	err := retryWithBackoff(ctx, r.policy, r.logger, func() error {
		var err error
		item, err = r.pager.Next(ctx)
		if errors.Is(err, pagination.ErrDone) {
			done = true
			return nil
		}
		return err
	})
	switch {
	case err != nil:
		r.closed = true
		return zero, err
	case done:
		r.closed = true
		return zero, pagination.ErrDone
	}
	return item, nil
}

// All returns an iterator over the remaining items. A failure is yielded
// once as the final element.
func (r *Retrier[T]) All(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for {
			item, err := r.Next(ctx)
			if errors.Is(err, pagination.ErrDone) {
				return
			}
			if err != nil {
				yield(item, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Collect drains the Retrier, returning the items received before any
// failure together with it.
func (r *Retrier[T]) Collect(ctx context.Context) ([]T, error) {
	var items []T
	for item, err := range r.All(ctx) {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Fetches returns how many page fetches have been issued, retries included.
func (r *Retrier[T]) Fetches() int {
	return r.pager.Fetches()
}

// Total returns the item count reported by the API, if any.
func (r *Retrier[T]) Total() (int, bool) {
	return r.pager.Total()
}
