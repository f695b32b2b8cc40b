// Package ratelimit provides rate limiting middleware for the scan API.
// Scans fan out to upstream RPC and explorer APIs, so one hot client can
// exhaust shared quotas; limits are tracked per client IP.
package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the max requests per client per minute
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often to drop idle client buckets
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60, // 1 req/sec average
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	}
}

// Limiter tracks token buckets by client key
type Limiter struct {
	cfg     Config
	mu      sync.Mutex
	buckets map[string]*bucket
	stop    chan struct{}
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// New creates a rate limiter and starts its cleanup loop
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * time.Minute)
			l.mu.Lock()
			for key, b := range l.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(l.buckets, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (l *Limiter) Stop() {
	close(l.stop)
}

// Allow reports whether a request under key should proceed, consuming
// one token from its bucket.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.buckets[key]
	if !ok {
		l.buckets[key] = &bucket{
			tokens:   float64(l.cfg.BurstSize - 1),
			lastSeen: now,
		}
		return true
	}

	// Refill since last request, capped at the burst size.
	refill := now.Sub(b.lastSeen).Seconds() * float64(l.cfg.RequestsPerMinute) / 60.0
	b.tokens = min(b.tokens+refill, float64(l.cfg.BurstSize))
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Middleware returns a Gin middleware that rate limits by client IP.
// Authenticated callers get a separate bucket keyed on their credential.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if cred := c.GetHeader("Authorization"); cred != "" {
			key = "auth:" + cred[:min(20, len(cred))]
		}

		if !l.Allow(key) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": 1,
			})
			return
		}

		c.Next()
	}
}
