// Package ratelimit throttles outbound requests per provider before the
// Request Executor spends a credential on them, wrapping
// golang.org/x/time/rate's token bucket behind the same
// Allow/Wait/Stats shape the gateway's other components use.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config tunes a Limiter. Rate limiting is opt-in per provider.
type Config struct {
	Enabled bool

	// RequestsPerSecond is the sustained rate of requests allowed.
	RequestsPerSecond float64

	// BurstSize is the maximum number of requests admitted at once.
	BurstSize int

	// PerKey enables a distinct bucket per key (e.g. per model) instead of
	// one shared global bucket.
	PerKey bool

	// KeyTimeout is how long an idle per-key bucket is kept before being
	// swept, when PerKey is enabled.
	KeyTimeout time.Duration
}

// DefaultConfig mirrors the gateway's other defaults: rate limiting is
// disabled unless a caller opts in.
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		RequestsPerSecond: 10,
		BurstSize:         20,
		PerKey:            false,
		KeyTimeout:        5 * time.Minute,
	}
}

// Stats reports current usage for a key or the global bucket.
type Stats struct {
	Allowed         int64
	Denied          int64
	Waited          int64
	AvailableTokens float64
	LastUpdate      time.Time
}

type bucketEntry struct {
	limiter  *rate.Limiter
	stats    Stats
	lastSeen time.Time
}

// Limiter is a provider-scoped rate limiter. A zero-value Config with
// Enabled=false makes every call a no-op, so wiring a Limiter in is safe
// even when the caller never wants throttling.
type Limiter struct {
	cfg Config

	mu      sync.Mutex
	global  *bucketEntry
	perKey  map[string]*bucketEntry
}

// New builds a Limiter from cfg.
func New(cfg Config) *Limiter {
	l := &Limiter{cfg: cfg}
	if !cfg.PerKey {
		l.global = newBucketEntry(cfg)
	} else {
		l.perKey = make(map[string]*bucketEntry)
	}
	return l
}

func newBucketEntry(cfg Config) *bucketEntry {
	return &bucketEntry{
		limiter:  rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		lastSeen: time.Now(),
	}
}

func (l *Limiter) entry(key string) *bucketEntry {
	if !l.cfg.PerKey {
		return l.global
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.perKey[key]
	if !ok {
		e = newBucketEntry(l.cfg)
		l.perKey[key] = e
	}
	e.lastSeen = time.Now()
	return e
}

// Allow reports whether a request for key may proceed immediately, without
// blocking or consuming capacity it doesn't have.
func (l *Limiter) Allow(key string) bool {
	if !l.cfg.Enabled {
		return true
	}
	e := l.entry(key)
	ok := e.limiter.Allow()
	l.mu.Lock()
	if ok {
		e.stats.Allowed++
	} else {
		e.stats.Denied++
	}
	e.stats.LastUpdate = time.Now()
	l.mu.Unlock()
	return ok
}

// Wait blocks until a token for key is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if !l.cfg.Enabled {
		return nil
	}
	e := l.entry(key)
	start := time.Now()
	err := e.limiter.Wait(ctx)
	l.mu.Lock()
	if err == nil {
		e.stats.Allowed++
		if waited := time.Since(start); waited > 0 {
			e.stats.Waited++
		}
	} else {
		e.stats.Denied++
	}
	e.stats.LastUpdate = time.Now()
	l.mu.Unlock()
	return err
}

// Stats returns a snapshot of usage for key (or the global bucket when
// PerKey is disabled).
func (l *Limiter) Stats(key string) Stats {
	if !l.cfg.Enabled {
		return Stats{}
	}
	e := l.entry(key)
	l.mu.Lock()
	defer l.mu.Unlock()
	s := e.stats
	s.AvailableTokens = e.limiter.Tokens()
	return s
}

// Sweep removes per-key buckets idle longer than cfg.KeyTimeout. Callers
// that enable PerKey are expected to call this periodically; it is a no-op
// otherwise.
func (l *Limiter) Sweep() {
	if !l.cfg.PerKey || l.cfg.KeyTimeout <= 0 {
		return
	}
	cutoff := time.Now().Add(-l.cfg.KeyTimeout)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.perKey {
		if e.lastSeen.Before(cutoff) {
			delete(l.perKey, k)
		}
	}
}
