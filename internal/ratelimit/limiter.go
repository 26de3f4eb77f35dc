// Package ratelimit throttles outgoing messages with a fixed window counter.
// The Redis limiter shares one window between every client process of a
// profile using INCR + EXPIRE; the memory limiter keeps the window in process.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix (e.g., "rl:send:default:")
	Limit  int           // max count in the window; 0 disables the rule
	Window time.Duration // time window
}

// RuleSend allows 5 messages per 10 seconds per chat.
var RuleSend = Rule{Key: "rl:send:", Limit: 5, Window: 10 * time.Second}

// ForProfile returns a copy of r whose keys are namespaced by profile.
func (r Rule) ForProfile(profile string) Rule {
	r.Key = r.Key + profile + ":"
	return r
}

// RedisLimiter performs rate limiting checks against Redis.
type RedisLimiter struct {
	client *redis.Client
	rule   Rule
}

// NewRedisLimiter creates a RedisLimiter backed by the given Redis client.
func NewRedisLimiter(client *redis.Client, rule Rule) *RedisLimiter {
	return &RedisLimiter{client: client, rule: rule}
}

// Allow checks whether identifier is within the limit. It increments the
// counter in Redis and sets the expiry on first access.
//
// On Redis errors the method fails open (returns true) so that a Redis outage
// does not block sending.
func (l *RedisLimiter) Allow(ctx context.Context, identifier string) (bool, error) {
	if l.rule.Limit <= 0 {
		return true, nil
	}
	key := l.rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[ratelimit] redis INCR failed, failing open")
		return true, err
	}

	// On the first increment, set the expiry to define the window boundary.
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.rule.Window).Err(); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("[ratelimit] redis EXPIRE failed, failing open")
			// A key without TTL would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	return int(count) <= l.rule.Limit, nil
}

// Remaining returns the number of requests identifier has left in the
// current window. Returns the full limit if the key does not exist yet or
// Redis fails.
func (l *RedisLimiter) Remaining(ctx context.Context, identifier string) (int, error) {
	key := l.rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return l.rule.Limit, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("[ratelimit] redis GET failed, failing open")
		return l.rule.Limit, err
	}
	return max(l.rule.Limit-count, 0), nil
}

type window struct {
	count int
	reset time.Time
}

// MemoryLimiter is a process-local fixed window limiter.
type MemoryLimiter struct {
	rule Rule
	now  func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryLimiter creates a MemoryLimiter enforcing rule.
func NewMemoryLimiter(rule Rule) *MemoryLimiter {
	return &MemoryLimiter{rule: rule, now: time.Now, windows: make(map[string]*window)}
}

// Allow counts one request for identifier. It never fails.
func (l *MemoryLimiter) Allow(_ context.Context, identifier string) (bool, error) {
	if l.rule.Limit <= 0 {
		return true, nil
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identifier]
	if !ok || !now.Before(w.reset) {
		w = &window{reset: now.Add(l.rule.Window)}
		l.windows[identifier] = w
	}
	w.count++
	return w.count <= l.rule.Limit, nil
}

// Remaining returns the number of requests identifier has left.
func (l *MemoryLimiter) Remaining(_ context.Context, identifier string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[identifier]
	if !ok || !l.now().Before(w.reset) {
		return l.rule.Limit, nil
	}
	return max(l.rule.Limit-w.count, 0), nil
}
