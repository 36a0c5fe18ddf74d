// Package ratelimit tracks provider cooldowns signalled by 429 responses and
// gates requests until they pass. When a Redis client is configured the
// cooldown is shared by every process using the same Redis, so parallel
// collectors back off together.
package ratelimit

import (
	"time"
)

// Redis keys for cooldown state storage.
const (
	RedisKeyCooldownUntil = "pmdata:rate_limit:cooldown_until"
	RedisKeyHits          = "pmdata:rate_limit:hits"
	RedisKeyLastUpdate    = "pmdata:rate_limit:last_update"
)

const (
	// DefaultCooldown applies when a 429 response carries no usable Retry-After.
	DefaultCooldown = 10 * time.Second

	// MaxCooldown caps a single Retry-After value.
	MaxCooldown = 5 * time.Minute
)

// CooldownState represents the current provider cooldown.
type CooldownState struct {
	// Until is when requests may resume. Zero means no cooldown is active.
	Until time.Time `json:"until"`

	// Hits is the number of 429 responses seen since the state was created.
	Hits int `json:"hits"`

	// LastUpdate is when the state was last written.
	LastUpdate time.Time `json:"last_update"`
}

// Active reports whether requests must wait.
func (s *CooldownState) Active() bool {
	return s.Remaining() > 0
}

// Remaining returns the time left until the cooldown passes, or 0.
func (s *CooldownState) Remaining() time.Duration {
	if s.Until.IsZero() {
		return 0
	}
	d := time.Until(s.Until)
	if d < 0 {
		return 0
	}
	return d
}

// IsStale returns true if the state is older than maxAge.
func (s *CooldownState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}
