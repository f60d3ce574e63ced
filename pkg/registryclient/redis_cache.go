package registryclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crestbank/bank-node/internal/domain"
)

// RedisCache stores registry lookups in Redis with a bounded TTL. Cache
// failures degrade to registry round trips; they never fail a transfer.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache builds a TTL cache over the given Redis client.
func NewRedisCache(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *RedisCache {
	trimmed := strings.TrimSpace(keyPrefix)
	if trimmed == "" {
		trimmed = "banknode:registry"
	}
	trimmed = strings.TrimSuffix(trimmed, ":")
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisCache{client: client, prefix: trimmed, ttl: ttl}
}

func (c *RedisCache) key(prefix string) string {
	return fmt.Sprintf("%s:%s", c.prefix, prefix)
}

// Get returns the cached registry record for a bank prefix, if present.
func (c *RedisCache) Get(ctx context.Context, prefix string) (*domain.Bank, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	raw, err := c.client.Get(ctx, c.key(prefix)).Result()
	if err != nil {
		if err != redis.Nil {
			log.Printf("level=warn component=registry_cache op=get prefix=%s err=%v", prefix, err)
		}
		return nil, false
	}
	var bank domain.Bank
	if err := json.Unmarshal([]byte(raw), &bank); err != nil {
		log.Printf("level=warn component=registry_cache op=get prefix=%s msg=\"corrupt cache entry dropped\" err=%v", prefix, err)
		return nil, false
	}
	return &bank, true
}

// Set stores a registry record under the configured TTL.
func (c *RedisCache) Set(ctx context.Context, prefix string, bank *domain.Bank) {
	if c == nil || c.client == nil || bank == nil {
		return
	}
	raw, err := json.Marshal(bank)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(prefix), raw, c.ttl).Err(); err != nil {
		log.Printf("level=warn component=registry_cache op=set prefix=%s err=%v", prefix, err)
	}
}
