// Package responsecache is an optional, opt-in cache of full
// llmgateway.Response values keyed by a hash of (provider, model, messages,
// config), addressing the "response caching" line in spec.md §1's purpose
// statement that the spec's four core components otherwise leave
// unallocated. A Model only consults this when a caller wires one in; it is
// never built automatically.
package responsecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taipm/llmgateway"
)

// Cache stores serialized Responses under opaque keys built by Key. It
// mirrors the teacher's Cache interface shape so either tier (or a
// caller-supplied third implementation) is interchangeable.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Stats() Stats
}

// Stats mirrors the teacher's CacheStats shape.
type Stats struct {
	Hits        int64
	Misses      int64
	Size        int
	Evictions   int64
	TotalWrites int64
}

// Key builds a deterministic cache key from the inputs that determine a
// Response: provider, model, the message history, and the effective
// generation config.
func Key(provider, model string, messages []llmgateway.Message, cfg llmgateway.GenerationConfig) string {
	data := struct {
		Provider string
		Model    string
		Messages []llmgateway.Message
		Config   llmgateway.GenerationConfig
	}{Provider: provider, Model: model, Messages: messages, Config: cfg}

	raw, _ := json.Marshal(data)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// GetResponse looks up key in cache and decodes it back into a Response.
func GetResponse(ctx context.Context, cache Cache, key string) (llmgateway.Response, bool, error) {
	raw, ok, err := cache.Get(ctx, key)
	if err != nil || !ok {
		return llmgateway.Response{}, ok, err
	}
	var resp llmgateway.Response
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return llmgateway.Response{}, false, fmt.Errorf("responsecache: decode cached response: %w", err)
	}
	return resp, true, nil
}

// SetResponse encodes resp and stores it under key with ttl (0 uses the
// cache's own default).
func SetResponse(ctx context.Context, cache Cache, key string, resp llmgateway.Response, ttl time.Duration) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("responsecache: encode response: %w", err)
	}
	return cache.Set(ctx, key, string(raw), ttl)
}

// MemoryEntry is one cached item, grounded on the teacher's CacheEntry.
type MemoryEntry struct {
	Value      string
	ExpiresAt  time.Time
	CreatedAt  time.Time
	AccessedAt time.Time
}

// MemoryCache is an in-memory LRU+TTL cache, adapted from the teacher's
// agent/cache.go MemoryCache.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*MemoryEntry
	maxSize    int
	defaultTTL time.Duration
	stats      Stats
}

// NewMemoryCache builds a MemoryCache; maxSize<=0 defaults to 1000,
// defaultTTL<=0 defaults to 5 minutes.
func NewMemoryCache(maxSize int, defaultTTL time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &MemoryCache{
		entries:    make(map[string]*MemoryEntry),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
	}
}

func (c *MemoryCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return "", false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		c.stats.Misses++
		return "", false, nil
	}
	entry.AccessedAt = time.Now()
	c.stats.Hits++
	return entry.Value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLRULocked()
	}

	now := time.Now()
	c.entries[key] = &MemoryEntry{Value: value, ExpiresAt: now.Add(ttl), CreatedAt: now, AccessedAt: now}
	c.stats.TotalWrites++
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*MemoryEntry)
	c.stats = Stats{}
	return nil
}

func (c *MemoryCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.stats
	s.Size = len(c.entries)
	return s
}

func (c *MemoryCache) evictLRULocked() {
	var oldestKey string
	var oldestTime time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.AccessedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.AccessedAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.Evictions++
	}
}

// RedisCache is a Redis-backed Cache, adapted from the teacher's
// agent/cache_redis.go RedisCache onto a single redis.UniversalClient so
// tests can point it at a miniredis instance.
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration

	statsMu sync.Mutex
	writes  int64
}

// NewRedisCache builds a RedisCache over an already-constructed client
// (production callers pass redis.NewClient(...); tests pass a miniredis
// client), namespaced under keyPrefix.
func NewRedisCache(client redis.UniversalClient, keyPrefix string, defaultTTL time.Duration) *RedisCache {
	if keyPrefix == "" {
		keyPrefix = "llmgateway"
	}
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &RedisCache{client: client, prefix: keyPrefix, defaultTTL: defaultTTL}
}

func (c *RedisCache) makeKey(key string) string {
	return fmt.Sprintf("%s:cache:%s", c.prefix, key)
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, c.makeKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("responsecache: redis get: %w", err)
	}
	return val, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, c.makeKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("responsecache: redis set: %w", err)
	}
	c.statsMu.Lock()
	c.writes++
	c.statsMu.Unlock()
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.makeKey(key)).Err()
}

func (c *RedisCache) Clear(ctx context.Context) error {
	pattern := c.makeKey("*")
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("responsecache: redis scan: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("responsecache: redis delete batch: %w", err)
		}
	}
	c.statsMu.Lock()
	c.writes = 0
	c.statsMu.Unlock()
	return nil
}

func (c *RedisCache) Stats() Stats {
	ctx := context.Background()
	pattern := c.makeKey("*")
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	size := 0
	for iter.Next(ctx) {
		size++
	}
	c.statsMu.Lock()
	writes := c.writes
	c.statsMu.Unlock()
	return Stats{Size: size, TotalWrites: writes}
}

// TwoTier reads through a fast in-memory L1 before falling back to a slower
// shared L2 (typically Redis), populating L1 on an L2 hit so subsequent
// reads in this process avoid the network round trip.
type TwoTier struct {
	L1 Cache
	L2 Cache
}

// NewTwoTier builds a TwoTier cache. l2 may be nil to run memory-only.
func NewTwoTier(l1 Cache, l2 Cache) *TwoTier {
	return &TwoTier{L1: l1, L2: l2}
}

func (t *TwoTier) Get(ctx context.Context, key string) (string, bool, error) {
	if val, ok, err := t.L1.Get(ctx, key); err != nil {
		return "", false, err
	} else if ok {
		return val, true, nil
	}
	if t.L2 == nil {
		return "", false, nil
	}
	val, ok, err := t.L2.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	_ = t.L1.Set(ctx, key, val, 0)
	return val, true, nil
}

func (t *TwoTier) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if err := t.L1.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	if t.L2 == nil {
		return nil
	}
	return t.L2.Set(ctx, key, value, ttl)
}

func (t *TwoTier) Delete(ctx context.Context, key string) error {
	if err := t.L1.Delete(ctx, key); err != nil {
		return err
	}
	if t.L2 == nil {
		return nil
	}
	return t.L2.Delete(ctx, key)
}

func (t *TwoTier) Clear(ctx context.Context) error {
	if err := t.L1.Clear(ctx); err != nil {
		return err
	}
	if t.L2 == nil {
		return nil
	}
	return t.L2.Clear(ctx)
}

func (t *TwoTier) Stats() Stats {
	s := t.L1.Stats()
	if t.L2 == nil {
		return s
	}
	l2 := t.L2.Stats()
	s.Hits += l2.Hits
	s.Misses += l2.Misses
	s.TotalWrites += l2.TotalWrites
	return s
}
