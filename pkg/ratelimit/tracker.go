package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for cooldown tracking.
var (
	cooldownSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pmdata_rate_limit_cooldown_seconds",
		Help: "Seconds remaining in the current provider cooldown",
	})

	rateLimitHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmdata_rate_limit_hits_total",
		Help: "Total number of 429 responses received from the provider",
	})

	rateLimitWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pmdata_rate_limit_waits_total",
		Help: "Total number of requests delayed by an active cooldown",
	})
)

// Tracker records provider cooldowns and gates requests.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu    sync.Mutex
	local CooldownState
}

// NewTracker creates a new cooldown tracker. A nil redisClient keeps the
// state in process memory.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// GetState retrieves the current cooldown state.
// Returns an empty state if nothing was recorded yet.
func (t *Tracker) GetState(ctx context.Context) (*CooldownState, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		state := t.local
		return &state, nil
	}

	untilMs, err := t.redis.Get(ctx, RedisKeyCooldownUntil).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get cooldown until: %w", err)
	}

	hits, err := t.redis.Get(ctx, RedisKeyHits).Int()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get hits: %w", err)
	}

	lastMs, err := t.redis.Get(ctx, RedisKeyLastUpdate).Int64()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("get last update: %w", err)
	}

	state := &CooldownState{Hits: hits}
	if untilMs > 0 {
		state.Until = time.UnixMilli(untilMs)
	}
	if lastMs > 0 {
		state.LastUpdate = time.UnixMilli(lastMs)
	}
	return state, nil
}

// UpdateFromResponse records a cooldown when status is 429. The cooldown
// length comes from the Retry-After header (seconds or HTTP date), falling
// back to DefaultCooldown. An existing longer cooldown is never shortened.
func (t *Tracker) UpdateFromResponse(ctx context.Context, status int, headers http.Header) error {
	if status != http.StatusTooManyRequests {
		return nil
	}
	rateLimitHitsTotal.Inc()

	wait := ParseRetryAfter(headers.Get("Retry-After"), time.Now())
	if wait <= 0 {
		wait = DefaultCooldown
	}
	if wait > MaxCooldown {
		wait = MaxCooldown
	}
	now := time.Now()
	until := now.Add(wait)

	state, err := t.GetState(ctx)
	if err != nil {
		return err
	}
	if state.Until.After(until) {
		until = state.Until
	}

	if t.redis == nil {
		t.mu.Lock()
		t.local.Until = until
		t.local.Hits++
		t.local.LastUpdate = now
		t.mu.Unlock()
	} else {
		ttl := time.Until(until) + time.Minute
		pipe := t.redis.Pipeline()
		pipe.Set(ctx, RedisKeyCooldownUntil, until.UnixMilli(), ttl)
		pipe.Incr(ctx, RedisKeyHits)
		pipe.Set(ctx, RedisKeyLastUpdate, now.UnixMilli(), 0)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("store cooldown state in redis: %w", err)
		}
	}

	cooldownSeconds.Set(time.Until(until).Seconds())
	t.logger.Warn().
		Dur("cooldown", time.Until(until)).
		Time("until", until).
		Msg("Provider rate limit hit - cooling down")

	return nil
}

// Wait blocks until no cooldown is active or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	for {
		state, err := t.GetState(ctx)
		if err != nil {
			return fmt.Errorf("get cooldown state: %w", err)
		}
		remaining := state.Remaining()
		if remaining <= 0 {
			cooldownSeconds.Set(0)
			return nil
		}

		rateLimitWaitsTotal.Inc()
		t.logger.Info().
			Dur("wait", remaining).
			Msg("Waiting for provider cooldown")

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Reset clears the cooldown state.
func (t *Tracker) Reset(ctx context.Context) error {
	if t.redis == nil {
		t.mu.Lock()
		t.local = CooldownState{}
		t.mu.Unlock()
		return nil
	}
	if err := t.redis.Del(ctx, RedisKeyCooldownUntil, RedisKeyHits, RedisKeyLastUpdate).Err(); err != nil {
		return fmt.Errorf("reset cooldown state: %w", err)
	}
	return nil
}

// ParseRetryAfter parses a Retry-After header value given in seconds or as
// an HTTP date. It returns 0 when the value is missing or unusable.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
