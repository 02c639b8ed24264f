package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/voice-escalation/pkg/apiresponses"
	"github.com/telekom/voice-escalation/pkg/metrics"
)

// Config holds rate limiter configuration
type Config struct {
	// Rate is the number of requests allowed per second
	Rate float64 `yaml:"rate"`
	// Burst is the maximum number of requests allowed in a burst
	Burst int `yaml:"burst"`
	// CleanupInterval is how often idle keys are dropped
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
	// MaxAge is how long an idle key is remembered
	MaxAge time.Duration `yaml:"maxAge"`
}

// DefaultAPIConfig limits the trigger and read API: 20 req/s per IP, burst of 50.
func DefaultAPIConfig() Config {
	return Config{
		Rate:            20,
		Burst:           50,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// DefaultWebhookConfig limits provider callbacks. The provider delivers from a
// small set of addresses, so limits are high: 200 req/s per IP, burst of 1000.
func DefaultWebhookConfig() Config {
	return Config{
		Rate:            200,
		Burst:           1000,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter applies a token bucket per key. Keys are client IPs unless
// KeyFunc is replaced.
type IPRateLimiter struct {
	name string
	cfg  Config

	mu      sync.Mutex
	buckets map[string]*bucket

	done chan struct{}
	stop sync.Once

	// KeyFunc derives the limiter key from a request.
	KeyFunc func(c *gin.Context) string
}

// New creates a limiter and starts its cleanup loop; call Stop to end it.
// name labels rejections in metrics.
func New(name string, cfg Config) *IPRateLimiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	rl := &IPRateLimiter{
		name:    name,
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		done:    make(chan struct{}),
		KeyFunc: func(c *gin.Context) string { return c.ClientIP() },
	}
	go rl.cleanup()
	return rl
}

// Allow reports whether a request for key may proceed now.
func (rl *IPRateLimiter) Allow(key string) bool {
	ok, _ := rl.take(key, time.Now())
	return ok
}

// take consumes a token for key. When none is available it returns how long
// until one will be.
func (rl *IPRateLimiter) take(key string, now time.Time) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(rl.cfg.Rate), rl.cfg.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// Middleware rejects requests over the limit with 429 and a Retry-After
// header in whole seconds.
func (rl *IPRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, wait := rl.take(rl.KeyFunc(c), time.Now())
		if ok {
			c.Next()
			return
		}
		metrics.RequestsRateLimited.WithLabelValues(rl.name).Inc()
		if wait > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		apiresponses.RespondTooManyRequests(c)
	}
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *IPRateLimiter) Stop() {
	rl.stop.Do(func() { close(rl.done) })
}

func (rl *IPRateLimiter) cleanup() {
	ticker := time.NewTicker(rl.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case now := <-ticker.C:
			rl.forgetIdle(now)
		}
	}
}

// forgetIdle drops keys not seen for MaxAge.
func (rl *IPRateLimiter) forgetIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.cfg.MaxAge {
			delete(rl.buckets, key)
		}
	}
}

// Len returns the number of tracked keys.
func (rl *IPRateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Config returns the effective configuration.
func (rl *IPRateLimiter) Config() Config {
	return rl.cfg
}
