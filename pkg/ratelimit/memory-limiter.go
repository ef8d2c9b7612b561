package ratelimit

import (
	"math"
	"mockhttp/pkg/utils/logger"
	"sync"
	"time"
)

// TokenBucket holds fractional tokens so limits slower than one request per
// second still refill across the whole window.
type TokenBucket struct {
	tokens         float64
	lastRefillTime time.Time
	mu             sync.Mutex
}

// MemoryRateLimiter is a per-process token bucket limiter.
type MemoryRateLimiter struct {
	buckets   map[string]*TokenBucket
	mu        sync.Mutex
	maxTokens int64
	window    time.Duration
	ttl       time.Duration
	logger    *logger.Logger
	stop      chan struct{}
	closeOnce sync.Once
}

func NewMemoryRateLimiter(maxRequests int64, window time.Duration, log *logger.Logger) *MemoryRateLimiter {
	if window <= 0 {
		window = time.Minute
	}
	if log == nil {
		log = logger.Nop()
	}
	limiter := &MemoryRateLimiter{
		buckets:   make(map[string]*TokenBucket),
		maxTokens: maxRequests,
		window:    window,
		ttl:       window * 2,
		logger:    log,
		stop:      make(chan struct{}),
	}

	go limiter.cleanup()

	return limiter
}

func (m *MemoryRateLimiter) Allow(key string) (bool, int64, time.Time) {
	return m.AllowWithLimit(key, m.maxTokens, m.window)
}

func (m *MemoryRateLimiter) AllowWithLimit(key string, limit int64, window time.Duration) (bool, int64, time.Time) {
	m.mu.Lock()
	bucket, exists := m.buckets[key]
	if !exists {
		bucket = &TokenBucket{tokens: float64(limit), lastRefillTime: time.Now()}
		m.buckets[key] = bucket
		m.logger.Debug("Created new token bucket for key " + key)
	}
	m.mu.Unlock()

	return bucket.consume(limit, refillRate(limit, window))
}

// refillRate is in tokens per second: limit tokens over one window.
func refillRate(limit int64, window time.Duration) float64 {
	if window <= 0 {
		window = time.Minute
	}
	return float64(limit) / window.Seconds()
}

func (tb *TokenBucket) consume(limit int64, refillRate float64) (bool, int64, time.Time) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	if limit <= 0 {
		return false, 0, now
	}

	if elapsed := now.Sub(tb.lastRefillTime).Seconds(); elapsed > 0 {
		tb.tokens = math.Min(tb.tokens+elapsed*refillRate, float64(limit))
		tb.lastRefillTime = now
	}

	if tb.tokens >= 1 {
		tb.tokens--
		return true, int64(tb.tokens), tb.resetTime(now, limit, refillRate)
	}

	return false, 0, tb.resetTime(now, limit, refillRate)
}

// resetTime is when the bucket will be full again.
func (tb *TokenBucket) resetTime(now time.Time, limit int64, refillRate float64) time.Time {
	missing := float64(limit) - tb.tokens
	if missing <= 0 || refillRate <= 0 {
		return now
	}
	return now.Add(time.Duration(missing / refillRate * float64(time.Second)))
}

func (m *MemoryRateLimiter) cleanup() {
	ticker := time.NewTicker(m.ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.evictIdle(time.Now())
		case <-m.stop:
			return
		}
	}
}

func (m *MemoryRateLimiter) evictIdle(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, bucket := range m.buckets {
		bucket.mu.Lock()
		idle := now.Sub(bucket.lastRefillTime)
		bucket.mu.Unlock()

		if idle > m.ttl {
			delete(m.buckets, key)
		}
	}
}

func (m *MemoryRateLimiter) Reset(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.buckets, key)
}

func (m *MemoryRateLimiter) Health() error {
	return nil
}

func (m *MemoryRateLimiter) Close() error {
	m.closeOnce.Do(func() {
		close(m.stop)
		m.mu.Lock()
		m.buckets = make(map[string]*TokenBucket)
		m.mu.Unlock()
	})
	return nil
}
