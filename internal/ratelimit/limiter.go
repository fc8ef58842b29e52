// Package ratelimit bounds how often each principal may start chat turns.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures a Limiter.
type Config struct {
	Enabled bool
	// RequestsPerSecond is the sustained rate per key. Default: 1.
	RequestsPerSecond float64
	// Burst is the number of requests allowed at once. Default: 2x the rate,
	// at least 1.
	Burst int
	// MaxKeys bounds tracked keys; idle buckets are pruned past it.
	// Default: 10000.
	MaxKeys int
}

func (c Config) normalized() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 1
	}
	if c.Burst <= 0 {
		c.Burst = int(c.RequestsPerSecond * 2)
	}
	if c.Burst < 1 {
		c.Burst = 1
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10000
	}
	return c
}

// bucket is a token bucket. Callers hold the limiter lock.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// Limiter keeps one token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
	now     func() time.Time
}

// New returns a limiter for cfg.
func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:     cfg.normalized(),
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Enabled reports whether the limiter rejects anything.
func (l *Limiter) Enabled() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg.Enabled
}

// Update applies cfg to existing and future buckets. Tokens above the new
// burst are dropped.
func (l *Limiter) Update(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg.normalized()
	for _, b := range l.buckets {
		if limit := float64(l.cfg.Burst); b.tokens > limit {
			b.tokens = limit
		}
	}
}

// Allow consumes a token for key. When none is available it returns false
// and how long until one will be.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if l == nil {
		return true, 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.cfg.Enabled {
		return true, 0
	}

	now := l.now()
	b := l.bucketLocked(key, now)
	l.refill(b, now)
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	wait := time.Duration((1 - b.tokens) / l.cfg.RequestsPerSecond * float64(time.Second))
	return false, wait
}

// Reset forgets key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *Limiter) bucketLocked(key string, now time.Time) *bucket {
	if b, ok := l.buckets[key]; ok {
		return b
	}
	if len(l.buckets) >= l.cfg.MaxKeys {
		l.pruneLocked(now)
	}
	b := &bucket{tokens: float64(l.cfg.Burst), lastRefill: now}
	l.buckets[key] = b
	return b
}

func (l *Limiter) refill(b *bucket, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now
	b.tokens += elapsed * l.cfg.RequestsPerSecond
	if limit := float64(l.cfg.Burst); b.tokens > limit {
		b.tokens = limit
	}
}

// pruneLocked drops buckets that have refilled, which are indistinguishable
// from new ones.
func (l *Limiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		l.refill(b, now)
		if b.tokens >= float64(l.cfg.Burst) {
			delete(l.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
