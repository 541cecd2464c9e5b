// Package cache is a read-through Redis layer over the hot lookup
// paths. Everything here is best-effort: a cache failure degrades to a
// database read, never to a request failure.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// TTLs per object class. Contracts change rarely and invalidate
// explicitly on publish; search results go stale fastest.
const (
	ContractTTL = 10 * time.Minute
	AssetTTL    = 5 * time.Minute
	LineageTTL  = 5 * time.Minute
	DiffTTL     = time.Hour
	SearchTTL   = time.Minute
)

// Cache wraps a Redis client with a key namespace. A nil client
// disables caching; every operation becomes a no-op miss.
type Cache struct {
	client    *redis.Client
	namespace string
	logger    *slog.Logger
}

func New(client *redis.Client, namespace string, logger *slog.Logger) *Cache {
	if namespace == "" {
		namespace = "tessera"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, namespace: namespace, logger: logger}
}

// Enabled reports whether a backing client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.client != nil
}

// Get unmarshals the cached value into dest. Returns false on miss,
// disabled cache, or any transport error.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	if !c.Enabled() {
		return false
	}
	raw, err := c.client.Get(ctx, c.namespaced(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		c.logger.Warn("cache entry corrupt, dropping", "key", key, "error", err)
		c.Delete(ctx, key)
		return false
	}
	return true
}

// Set stores a value with a TTL, best-effort.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache set skipped, unmarshalable value", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, c.namespaced(key), raw, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
	}
}

// Delete drops keys, best-effort. Used for explicit invalidation when
// a contract publishes or an asset mutates.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.namespaced(k)
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		c.logger.Warn("cache delete failed", "keys", keys, "error", err)
	}
}

func (c *Cache) namespaced(key string) string {
	return c.namespace + ":" + key
}

// Key builders. Keeping them here keeps every caller invalidating the
// same string it populated.

func ContractKey(assetID string) string {
	return "contract:active:" + assetID
}

func AssetKey(id string) string {
	return "asset:" + id
}

func AssetByFQNKey(fqn string) string {
	return "asset:fqn:" + fqn
}

func LineageKey(assetID string, depth int) string {
	return fmt.Sprintf("lineage:%s:%d", assetID, depth)
}

// DiffKey caches a classified diff by the direction-sensitive pair
// hash of the two canonical schemas.
func DiffKey(pairHash string) string {
	return "diff:" + pairHash
}

func SearchKey(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "search:" + hex.EncodeToString(sum[:8])
}
