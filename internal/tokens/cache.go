// Package tokens bridges agent credentials onto upstream credentials:
// RFC 8693 token exchange against the trusted IdP, OAuth2 client
// credentials, and external-issuer flows resolved through OIDC
// discovery. Every service caches by a key that never contains the raw
// subject token.
package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/tesserahq/toolgate/pkg/models"
)

// sharedTTLFloor bounds how short a shared-cache entry may live; an
// almost-expired token is still worth caching long enough to absorb a
// burst of identical requests.
const sharedTTLFloor = 30 * time.Second

// defaultExpiresIn is assumed when a token endpoint omits expires_in.
const defaultExpiresIn = 3600 * time.Second

// SharedCache is the optional cross-process token tier. Implementations
// must treat a miss as (nil, false, nil); errors are reserved for
// backend failures.
type SharedCache interface {
	Get(ctx context.Context, key string) (*models.Token, bool, error)
	Set(ctx context.Context, key string, token *models.Token, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisCache implements SharedCache on go-redis, one JSON value per key.
type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	if prefix == "" {
		prefix = "toolgate:token:"
	}
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*models.Token, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var token models.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, false, err
	}
	return &token, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, token *models.Token, ttl time.Duration) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, raw, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// twoTier keeps tokens in an in-process map and mirrors them into the
// shared tier when one is configured. The in-process map always serves:
// shared-tier failures are logged at Warn and otherwise ignored.
type twoTier struct {
	mu     sync.Mutex
	local  map[string]models.Token
	shared SharedCache
	group  singleflight.Group
	buffer time.Duration
	now    func() time.Time
	logger *slog.Logger
}

func newTwoTier(shared SharedCache, buffer time.Duration, logger *slog.Logger) *twoTier {
	if buffer <= 0 {
		buffer = models.DefaultTokenBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &twoTier{
		local:  map[string]models.Token{},
		shared: shared,
		buffer: buffer,
		now:    time.Now,
		logger: logger,
	}
}

// getOrFetch returns an unexpired cached token or fetches one. Concurrent
// misses on the same key collapse into a single fetch.
func (c *twoTier) getOrFetch(ctx context.Context, key string, fetch func(context.Context) (*models.Token, error)) (*models.Token, error) {
	if token, ok := c.lookupLocal(key); ok {
		return token, nil
	}
	if token, ok := c.lookupShared(ctx, key); ok {
		return token, nil
	}

	value, err, _ := c.group.Do(key, func() (any, error) {
		// A concurrent flight may have filled the map between the miss
		// and this call.
		if token, ok := c.lookupLocal(key); ok {
			return token, nil
		}
		token, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, token)
		return token, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*models.Token), nil
}

func (c *twoTier) lookupLocal(key string) (*models.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, ok := c.local[key]
	if !ok || token.Expired(c.now(), c.buffer) {
		return nil, false
	}
	copied := token
	return &copied, true
}

func (c *twoTier) lookupShared(ctx context.Context, key string) (*models.Token, bool) {
	if c.shared == nil {
		return nil, false
	}
	token, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		c.logger.Warn("shared token cache read failed", "error", err)
		return nil, false
	}
	if !ok || token == nil || token.Expired(c.now(), c.buffer) {
		return nil, false
	}
	c.mu.Lock()
	c.local[key] = *token
	c.mu.Unlock()
	return token, true
}

func (c *twoTier) store(ctx context.Context, key string, token *models.Token) {
	c.mu.Lock()
	c.local[key] = *token
	c.mu.Unlock()

	if c.shared == nil {
		return
	}
	ttl := token.ExpiresAt.Sub(c.now()) - c.buffer
	if ttl < sharedTTLFloor {
		ttl = sharedTTLFloor
	}
	if err := c.shared.Set(ctx, key, token, ttl); err != nil {
		c.logger.Warn("shared token cache write failed", "error", err)
	}
}

// clear removes matching entries from both tiers and returns how many
// local entries were dropped. A nil match clears everything. Shared
// entries only ever seen by other replicas are left to their TTL.
func (c *twoTier) clear(ctx context.Context, match func(key string) bool) int {
	c.mu.Lock()
	var keys []string
	for key := range c.local {
		if match == nil || match(key) {
			keys = append(keys, key)
			delete(c.local, key)
		}
	}
	c.mu.Unlock()

	if c.shared != nil {
		for _, key := range keys {
			if err := c.shared.Delete(ctx, key); err != nil {
				c.logger.Warn("shared token cache delete failed", "key", key, "error", err)
			}
		}
	}
	return len(keys)
}
