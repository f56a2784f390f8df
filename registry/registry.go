// Package registry implements the Model Registry & Cache (spec §4.5): a
// TTL-and-LRU-capped cache of Model handles keyed by "provider/model",
// rebuilding a handle on miss or expiry and reusing it otherwise so
// concurrent callers share one Credential Store per provider/model pair.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/taipm/llmgateway"
	"github.com/taipm/llmgateway/model"
)

// Factory builds a Model handle for one provider/model pair on a cache
// miss. Callers typically pass model.New bound to a shared adapter.Registry
// and Config.
type Factory func(provider llmgateway.ProviderConfig, modelName string) (*model.Model, error)

// Config tunes the cache's eviction behavior (spec §4.5 defaults).
type Config struct {
	// TTL is how long a handle stays cached before being rebuilt on next
	// access. Default 30 minutes.
	TTL time.Duration

	// MaxSize is the LRU cap; the least-recently-accessed entry is evicted
	// when a miss would exceed it. Default 64.
	MaxSize int
}

// DefaultConfig matches the defaults named in spec §4.5.
func DefaultConfig() Config {
	return Config{TTL: 30 * time.Minute, MaxSize: 64}
}

type entry struct {
	handle    *model.Model
	createdAt time.Time
	lastUsed  time.Time
}

// Stats reports the cache's current shape (spec §4.5 "stats() exposes size,
// cap, TTL, and current keys").
type Stats struct {
	Size    int
	MaxSize int
	TTL     time.Duration
	Keys    []string
}

// Registry is the process-wide Model Registry & Cache.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	cfg     Config
	factory Factory
}

// New builds a Registry. factory is called on every cache miss or expiry.
func New(factory Factory, cfg Config) *Registry {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	return &Registry{
		entries: make(map[string]*entry),
		cfg:     cfg,
		factory: factory,
	}
}

// key builds the spec §4.5 "provider_name/model_name" cache key.
func key(providerName, modelName string) string {
	return providerName + "/" + modelName
}

// Get returns the cached handle for provider/modelName, rebuilding it via
// Factory on a cold cache, an expired entry, or an evicted one. Two calls
// within TTL return the identical *model.Model (spec §8 invariant 5).
func (r *Registry) Get(provider llmgateway.ProviderConfig, modelName string) (*model.Model, error) {
	k := key(provider.Name, modelName)
	now := time.Now()

	r.mu.Lock()
	if e, ok := r.entries[k]; ok && now.Sub(e.createdAt) < r.cfg.TTL {
		e.lastUsed = now
		handle := e.handle
		r.mu.Unlock()
		return handle, nil
	}
	r.mu.Unlock()

	handle, err := r.factory(provider, modelName)
	if err != nil {
		return nil, fmt.Errorf("registry: build handle for %q: %w", k, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) >= r.cfg.MaxSize {
		if _, exists := r.entries[k]; !exists {
			r.evictLRULocked()
		}
	}
	r.entries[k] = &entry{handle: handle, createdAt: now, lastUsed: now}
	return handle, nil
}

// evictLRULocked drops the least-recently-accessed entry. Callers must hold
// r.mu.
func (r *Registry) evictLRULocked() {
	var oldestKey string
	var oldestTime time.Time
	for k, e := range r.entries {
		if oldestKey == "" || e.lastUsed.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.lastUsed
		}
	}
	if oldestKey != "" {
		delete(r.entries, oldestKey)
	}
}

// Flush drops every cached entry. In-flight requests already holding a
// *model.Model from before the flush continue unaffected, since handles are
// plain values the registry never mutates after construction (spec §4.5).
func (r *Registry) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[string]*entry)
}

// Stats returns a snapshot of the cache's current shape.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	return Stats{Size: len(r.entries), MaxSize: r.cfg.MaxSize, TTL: r.cfg.TTL, Keys: keys}
}
