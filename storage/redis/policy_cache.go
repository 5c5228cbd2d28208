package redisstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-rails/procurekit/procurement"
)

// PolicyCache is a Redis-backed policy.Cache for marketplace policy lookups.
type PolicyCache struct {
	rdb   *redis.Client
	keyNS string
	ttl   time.Duration
}

func NewPolicyCache(rdb *redis.Client, keyPrefix string, ttl time.Duration) *PolicyCache {
	if keyPrefix == "" {
		keyPrefix = "procurement:policy:"
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &PolicyCache{rdb: rdb, keyNS: keyPrefix, ttl: ttl}
}

func (p *PolicyCache) key(k string) string { return p.keyNS + k }

func (p *PolicyCache) Get(ctx context.Context, key string) (procurement.Policy, bool, error) {
	val, err := p.rdb.Get(ctx, p.key(key)).Bytes()
	if err == redis.Nil {
		return procurement.Policy{}, false, nil
	}
	if err != nil {
		return procurement.Policy{}, false, err
	}
	var pol procurement.Policy
	if err := json.Unmarshal(val, &pol); err != nil {
		return procurement.Policy{}, false, err
	}
	return pol, true, nil
}

func (p *PolicyCache) Put(ctx context.Context, key string, pol procurement.Policy) error {
	b, err := json.Marshal(pol)
	if err != nil {
		return err
	}
	return p.rdb.Set(ctx, p.key(key), b, p.ttl).Err()
}

func (p *PolicyCache) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, p.key(key)).Err()
}
