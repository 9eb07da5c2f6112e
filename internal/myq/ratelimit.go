package myq

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-myq/internal/scheduler"
)

// RateLimitCooldown is how long the client stays quiet after a 429.
const RateLimitCooldown = 90 * time.Minute

// RateLimiter tracks the cooldown window opened by a 429 response.
// The window lives in memory only.
//
// Thread Safety: All methods are safe for concurrent use.
type RateLimiter struct {
	clock scheduler.Clock

	mu           sync.Mutex
	blockedUntil time.Time
}

// NewRateLimiter creates a limiter that has never been blocked.
func NewRateLimiter(clock scheduler.Clock) *RateLimiter {
	return &RateLimiter{clock: clock}
}

// RecordRateLimited opens (or extends) the cooldown window from now.
func (r *RateLimiter) RecordRateLimited() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blockedUntil = r.clock.Now().Add(RateLimitCooldown)
}

// CheckAllowed returns a *RateLimitedError while the window is open.
func (r *RateLimiter) CheckAllowed() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock.Now()
	if now.Before(r.blockedUntil) {
		return &RateLimitedError{Remaining: r.blockedUntil.Sub(now)}
	}
	return nil
}

// BlockedUntil returns the end of the current window, or the zero time if
// the limiter has never been triggered.
func (r *RateLimiter) BlockedUntil() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blockedUntil
}
