package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/open-rails/procurekit/procurement"
)

// PolicyCache is an in-memory policy.Cache with TTL, for single-process
// deployments and tests.
type PolicyCache struct {
	mu     sync.Mutex
	ttl    time.Duration
	data   map[string]item
	closed chan struct{}
}

type item struct {
	pol procurement.Policy
	exp time.Time
}

// NewPolicyCache creates an in-memory policy cache with the given TTL.
// If ttl <= 0, a default of 15 minutes is used.
// Starts a background goroutine to clean up expired entries every minute.
func NewPolicyCache(ttl time.Duration) *PolicyCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	c := &PolicyCache{ttl: ttl, data: make(map[string]item), closed: make(chan struct{})}
	go c.cleanupLoop()
	return c
}

func (c *PolicyCache) Get(ctx context.Context, key string) (procurement.Policy, bool, error) {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.data[key]
	if !ok {
		return procurement.Policy{}, false, nil
	}
	if time.Now().After(it.exp) {
		delete(c.data, key)
		return procurement.Policy{}, false, nil
	}
	return it.pol, true, nil
}

func (c *PolicyCache) Put(ctx context.Context, key string, pol procurement.Policy) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = item{pol: pol, exp: time.Now().Add(c.ttl)}
	return nil
}

func (c *PolicyCache) Del(ctx context.Context, key string) error {
	_ = ctx
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *PolicyCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.closed:
			return
		}
	}
}

func (c *PolicyCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, v := range c.data {
		if now.After(v.exp) {
			delete(c.data, k)
		}
	}
}

// Close stops the background cleanup goroutine.
func (c *PolicyCache) Close() error {
	close(c.closed)
	return nil
}
