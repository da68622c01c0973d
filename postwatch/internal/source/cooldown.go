// CLAUDE:SUMMARY Injectable rate-limit state: records a cooldown-until instant and answers "may I call now" against an injectable clock.
package source

import (
	"sync/atomic"
	"time"
)

// RateLimitState holds the cooldown of one rate-limited API. Reads are
// lock-free and may race with a cooldown being set; the worst case is one
// extra request, which the API answers with another 429.
type RateLimitState struct {
	until atomic.Int64 // unix nanoseconds, 0 = no cooldown
	now   func() time.Time
}

// NewRateLimitState creates a state using now as its clock (time.Now if nil).
func NewRateLimitState(now func() time.Time) *RateLimitState {
	if now == nil {
		now = time.Now
	}
	return &RateLimitState{now: now}
}

// Allow reports whether a call may be attempted now.
func (s *RateLimitState) Allow() bool {
	u := s.until.Load()
	return u == 0 || s.now().UnixNano() >= u
}

// CooldownUntil starts a cooldown ending at t. An earlier t never shortens
// an active cooldown.
func (s *RateLimitState) CooldownUntil(t time.Time) {
	n := t.UnixNano()
	for {
		cur := s.until.Load()
		if cur >= n || s.until.CompareAndSwap(cur, n) {
			return
		}
	}
}

// Until returns the end of the current cooldown, or the zero time.
func (s *RateLimitState) Until() time.Time {
	u := s.until.Load()
	if u == 0 || s.now().UnixNano() >= u {
		return time.Time{}
	}
	return time.Unix(0, u)
}

// Clear ends any cooldown.
func (s *RateLimitState) Clear() { s.until.Store(0) }
