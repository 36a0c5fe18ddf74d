// Package retry runs fetch operations with bounded, per-class exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/polymarket-data/pkg/errs"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmdata_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pmdata_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pmdata_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

var (
	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrContextCancelled is returned when the context is cancelled during backoff.
	ErrContextCancelled = errors.New("context cancelled")
)

// Config holds the retry schedule for one error class.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64

	// Jitter is the randomization factor applied to each backoff (0.2 = ±20%).
	Jitter float64
}

// Policy maps error classes to retry schedules.
type Policy struct {
	Default  Config
	PerClass map[errs.Class]Config
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.2,
	}
}

// DefaultPolicy returns the per-class schedules used against the Polymarket APIs.
func DefaultPolicy() Policy {
	return Policy{
		Default: DefaultConfig(),
		PerClass: map[errs.Class]Config{
			// 5xx server errors - shorter backoff
			errs.ClassServer: {
				MaxAttempts:       3,
				InitialBackoff:    1 * time.Second,
				MaxBackoff:        10 * time.Second,
				BackoffMultiplier: 2.0,
				Jitter:            0.2,
			},
			// 429 - longer backoff
			errs.ClassRateLimit: {
				MaxAttempts:       4,
				InitialBackoff:    5 * time.Second,
				MaxBackoff:        60 * time.Second,
				BackoffMultiplier: 2.0,
				Jitter:            0.2,
			},
			errs.ClassNetwork: {
				MaxAttempts:       3,
				InitialBackoff:    2 * time.Second,
				MaxBackoff:        30 * time.Second,
				BackoffMultiplier: 2.0,
				Jitter:            0.2,
			},
		},
	}
}

// ForClass returns the schedule for an error class.
func (p Policy) ForClass(class errs.Class) Config {
	if cfg, ok := p.PerClass[class]; ok {
		return cfg
	}
	return p.Default
}

func (c Config) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = c.BackoffMultiplier
	b.RandomizationFactor = c.Jitter
	b.MaxElapsedTime = 0 // bounded by MaxAttempts and ctx
	b.Reset()
	return b
}

// Do executes fn until it succeeds, returns a non-retryable error, or the
// schedule for the first failure's class is exhausted. Attempts run
// sequentially; there is never more than one outstanding call to fn.
func Do(ctx context.Context, p Policy, op string, fn func(ctx context.Context) error) error {
	var (
		lastErr error
		class   errs.Class
		cfg     Config
		b       *backoff.ExponentialBackOff
		attempt int
	)

	for attempt = 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info().
					Str("op", op).
					Str("error_class", string(class)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !errs.IsRetryable(err) {
			return err
		}

		if b == nil {
			class = errs.ClassOf(err)
			cfg = p.ForClass(class)
			b = cfg.newBackOff()
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			break
		}

		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(wait.Seconds())

		log.Debug().
			Str("op", op).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Err(err).
			Msg("Retrying after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Warn().
				Str("op", op).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	retryExhaustedTotal.WithLabelValues(string(class)).Inc()
	log.Warn().
		Str("op", op).
		Str("error_class", string(class)).
		Int("attempts", attempt).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, lastErr)
}
