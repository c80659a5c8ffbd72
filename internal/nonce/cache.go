// Package nonce implements the replay-defense cache. The cache is
// role-agnostic: callers MUST namespace nonces with a role and identity prefix
// (e.g. "doctor-wallet:<wallet>:<nonce>") or nonces from unrelated parties
// collide and one party can lock another out.
package nonce

import (
	"context"
	"sync"
	"time"
)

// Cache records nonces for the duration of a freshness window.
type Cache interface {
	// Consume returns true and records the nonce if it has not been seen
	// within ttl of now. Returns false on replay without touching state for
	// that nonce, so the attacker cannot extend the original entry's life.
	Consume(ctx context.Context, nonce string, now time.Time, ttl time.Duration) (bool, error)
}

// MemoryCache is the single-process reference implementation. Every call first
// sweeps expired entries, bounding memory to the active window.
type MemoryCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{seen: make(map[string]time.Time)}
}

func (c *MemoryCache) Consume(_ context.Context, nonce string, now time.Time, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, firstSeen := range c.seen {
		if now.Sub(firstSeen) > ttl {
			delete(c.seen, k)
		}
	}

	if firstSeen, ok := c.seen[nonce]; ok && now.Sub(firstSeen) <= ttl {
		return false, nil
	}
	c.seen[nonce] = now
	return true, nil
}

// Len reports the number of live entries. Intended for tests and health
// reporting only.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// Reset drops all entries. Used by environment-reset tooling and tests.
func (c *MemoryCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = make(map[string]time.Time)
}
