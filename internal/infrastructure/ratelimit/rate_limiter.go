package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	ActionSendMessage = "send_message"
	ActionCreateChat  = "create_chat"
	ActionAPIRequest  = "api_request"
)

// Limit is a token bucket shape: Burst actions at once, refilled one token
// every Every.
type Limit struct {
	Burst int
	Every time.Duration
}

var defaultLimits = map[string]Limit{
	// 10 messages per minute
	ActionSendMessage: {Burst: 10, Every: 6 * time.Second},
	// 5 chats per hour
	ActionCreateChat: {Burst: 5, Every: 12 * time.Minute},
	// 60 requests per second per client IP
	ActionAPIRequest: {Burst: 60, Every: time.Second / 60},
}

// 20 actions per minute for anything not listed
var fallbackLimit = Limit{Burst: 20, Every: 3 * time.Second}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per user and action.
type RateLimiter struct {
	limits  map[string]Limit
	buckets map[string]*bucket
	mutex   sync.Mutex
	now     func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithLimits(defaultLimits)
}

// NewRateLimiterWithLimits overrides the per-action limits; actions missing
// from limits use the fallback.
func NewRateLimiterWithLimits(limits map[string]Limit) *RateLimiter {
	copied := make(map[string]Limit, len(limits))
	for action, l := range limits {
		copied[action] = l
	}
	return &RateLimiter{
		limits:  copied,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (rl *RateLimiter) limitFor(action string) Limit {
	if l, ok := rl.limits[action]; ok {
		return l
	}
	return fallbackLimit
}

// Allow consumes a token for the user's action. When none is left it reports
// how long until the next one.
func (rl *RateLimiter) Allow(userID, action string) (bool, time.Duration) {
	key := userID + ":" + action
	now := rl.now()

	rl.mutex.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		l := rl.limitFor(action)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(l.Every), l.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mutex.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, rl.limitFor(action).Every
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Tokens returns the tokens currently left and the bucket size.
func (rl *RateLimiter) Tokens(userID, action string) (tokens int, maxTokens int) {
	rl.mutex.Lock()
	b, ok := rl.buckets[userID+":"+action]
	rl.mutex.Unlock()

	maxTokens = rl.limitFor(action).Burst
	if !ok {
		return maxTokens, maxTokens
	}
	return int(b.limiter.TokensAt(rl.now())), maxTokens
}

// Forget drops every bucket of userID.
func (rl *RateLimiter) Forget(userID string) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	prefix := userID + ":"
	for key := range rl.buckets {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(rl.buckets, key)
		}
	}
}

// Cleanup removes buckets that have not been used for an hour.
func (rl *RateLimiter) Cleanup() {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > time.Hour {
			delete(rl.buckets, key)
		}
	}
}

// StartCleanupRoutine runs Cleanup every 30 minutes until ctx is done.
func (rl *RateLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rl.Cleanup()
			case <-ctx.Done():
				return
			}
		}
	}()
}
