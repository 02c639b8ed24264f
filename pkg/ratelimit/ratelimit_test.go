package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telekom/voice-escalation/pkg/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestDefaultConfigs(t *testing.T) {
	t.Run("DefaultAPIConfig", func(t *testing.T) {
		cfg := DefaultAPIConfig()
		assert.Equal(t, float64(20), cfg.Rate)
		assert.Equal(t, 50, cfg.Burst)
		assert.Equal(t, time.Minute, cfg.CleanupInterval)
		assert.Equal(t, 5*time.Minute, cfg.MaxAge)
	})

	t.Run("webhook config allows more traffic than API config", func(t *testing.T) {
		apiCfg := DefaultAPIConfig()
		hookCfg := DefaultWebhookConfig()
		assert.Greater(t, hookCfg.Rate, apiCfg.Rate)
		assert.Greater(t, hookCfg.Burst, apiCfg.Burst)
	})
}

func TestNew(t *testing.T) {
	t.Run("creates limiter with config", func(t *testing.T) {
		rl := New("test", Config{Rate: 10, Burst: 20, CleanupInterval: time.Second, MaxAge: time.Minute})
		defer rl.Stop()

		assert.Equal(t, float64(10), rl.Config().Rate)
		assert.Equal(t, 20, rl.Config().Burst)
	})

	t.Run("sets defaults if zero", func(t *testing.T) {
		rl := New("test", Config{Rate: 10, Burst: 20})
		defer rl.Stop()

		assert.Equal(t, time.Minute, rl.Config().CleanupInterval)
		assert.Equal(t, 5*time.Minute, rl.Config().MaxAge)
	})

	t.Run("stop is idempotent", func(t *testing.T) {
		rl := New("api", DefaultAPIConfig())
		rl.Stop()
		rl.Stop()
	})
}

func TestAllow(t *testing.T) {
	t.Run("allows requests within burst limit then blocks", func(t *testing.T) {
		rl := New("test", Config{Rate: 1, Burst: 5, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		for i := 0; i < 5; i++ {
			assert.True(t, rl.Allow("192.168.1.1"), "request %d should be allowed", i)
		}
		assert.False(t, rl.Allow("192.168.1.1"))
	})

	t.Run("tracks keys independently", func(t *testing.T) {
		rl := New("test", Config{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		assert.True(t, rl.Allow("10.0.0.1"))
		assert.False(t, rl.Allow("10.0.0.1"))
		assert.True(t, rl.Allow("10.0.0.2"))
		assert.Equal(t, 2, rl.Len())
	})

	t.Run("concurrent access is safe", func(t *testing.T) {
		rl := New("test", Config{Rate: 1000, Burst: 1000, CleanupInterval: time.Hour, MaxAge: time.Hour})
		defer rl.Stop()

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				rl.Allow("10.0.0.1")
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, rl.Len())
	})
}

func TestForgetIdle(t *testing.T) {
	rl := New("test", Config{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: 10 * time.Millisecond})
	defer rl.Stop()

	rl.Allow("10.0.0.1")
	require.Equal(t, 1, rl.Len())
	time.Sleep(20 * time.Millisecond)
	rl.forgetIdle(time.Now())
	assert.Equal(t, 0, rl.Len())
}

func TestMiddleware(t *testing.T) {
	rl := New("test", Config{Rate: 1, Burst: 2, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	r := gin.New()
	r.Use(rl.Middleware())
	r.POST("/api/calls/status/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/calls/status/a-1", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestMiddlewareRetryAfter(t *testing.T) {
	rl := New("retry", Config{Rate: 0.5, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/api/alerts", func(c *gin.Context) { c.Status(http.StatusOK) })

	before := testutil.ToFloat64(metrics.RequestsRateLimited.WithLabelValues("retry"))
	send := func() *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/alerts", nil)
		req.RemoteAddr = "198.51.100.4:4000"
		r.ServeHTTP(w, req)
		return w
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Empty(t, first.Header().Get("Retry-After"))

	second := send()
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "2", second.Header().Get("Retry-After"))
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.RequestsRateLimited.WithLabelValues("retry")))
}

func TestRejectedRequestDoesNotConsumeToken(t *testing.T) {
	rl := New("test", Config{Rate: 10, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()

	now := time.Now()
	ok, _ := rl.take("k", now)
	require.True(t, ok)
	for i := 0; i < 5; i++ {
		ok, wait := rl.take("k", now)
		require.False(t, ok)
		assert.InDelta(t, float64(100*time.Millisecond), float64(wait), float64(time.Millisecond))
	}
	ok, _ = rl.take("k", now.Add(150*time.Millisecond))
	assert.True(t, ok)
}

func TestMiddlewareCustomKey(t *testing.T) {
	rl := New("test", Config{Rate: 1, Burst: 1, CleanupInterval: time.Hour, MaxAge: time.Hour})
	defer rl.Stop()
	rl.KeyFunc = func(c *gin.Context) string { return c.Param("id") }

	r := gin.New()
	r.Use(rl.Middleware())
	r.POST("/hook/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(id string) int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook/"+id, nil))
		return w.Code
	}
	assert.Equal(t, http.StatusOK, send("a"))
	assert.Equal(t, http.StatusTooManyRequests, send("a"))
	assert.Equal(t, http.StatusOK, send("b"))
}
