// Package ratelimit provides per-client rate limiting middleware.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/riskdesk/internal/metrics"
	"golang.org/x/time/rate"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the sustained rate per client
	RequestsPerMinute int
	// BurstSize allows brief bursts above the sustained rate
	BurstSize int
	// CleanupInterval is how often idle clients are evicted
	CleanupInterval time.Duration
	// IdleTTL is how long a client may go unseen before eviction
	IdleTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 600,
		BurstSize:         50,
		CleanupInterval:   time.Minute,
		IdleTTL:           2 * time.Minute,
	}
}

// Limiter tracks a token bucket per client key.
type Limiter struct {
	cfg      Config
	limit    rate.Limit
	mu       sync.Mutex
	clients  map[string]*client
	stop     chan struct{}
	stopOnce sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a rate limiter and starts its cleanup goroutine.
// A non-positive RequestsPerMinute disables limiting.
func New(cfg Config) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * cfg.CleanupInterval
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	}

	l := &Limiter{
		cfg:     cfg,
		limit:   limit,
		clients: make(map[string]*client),
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
			l.evictIdle(time.Now())
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) evictIdle(now time.Time) {
	cutoff := now.Add(-l.cfg.IdleTTL)
	l.mu.Lock()
	for key, c := range l.clients {
		if c.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
	l.mu.Unlock()
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow reports whether a request from key may proceed now.
func (l *Limiter) Allow(key string) bool {
	return l.clientFor(key, time.Now()).Allow()
}

// retryAfter returns whole seconds until key regains a token.
func (l *Limiter) retryAfter(key string) int {
	now := time.Now()
	r := l.clientFor(key, now).ReserveN(now, 1)
	if !r.OK() {
		return 1
	}
	d := r.DelayFrom(now)
	r.CancelAt(now)
	return max(1, int(math.Ceil(d.Seconds())))
}

func (l *Limiter) clientFor(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.cfg.BurstSize)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()

		if !l.Allow(key) {
			metrics.RateLimitedTotal.Inc()
			retry := l.retryAfter(key)
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}
