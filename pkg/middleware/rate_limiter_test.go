package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Allow(t *testing.T) {
	// 120 requests per minute (2 per second) with burst of 1
	rl := NewRateLimiter(120, 1)
	limiter := rl.GetLimiter("192.168.1.1")

	assert.True(t, limiter.Allow(), "First request should be allowed")
	assert.False(t, limiter.Allow(), "Second request should be blocked")

	// 0.5 seconds per token
	time.Sleep(600 * time.Millisecond)

	assert.True(t, limiter.Allow(), "Third request should be allowed after waiting")
}

func TestRateLimiter_DifferentIPs(t *testing.T) {
	rl := NewRateLimiter(2, 1)

	limiter1 := rl.GetLimiter("192.168.1.1")
	limiter2 := rl.GetLimiter("192.168.1.2")

	assert.True(t, limiter1.Allow())
	assert.True(t, limiter2.Allow())
	assert.False(t, limiter1.Allow())
	assert.False(t, limiter2.Allow())
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(60, 5)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.GetLimiter("10.0.0.1")
	now = now.Add(2 * time.Minute)
	rl.GetLimiter("10.0.0.2")

	assert.Equal(t, 1, rl.Cleanup(time.Minute))
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.2")
}

func TestRateLimitMiddleware(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(60, 3)
	e.POST("/api/v1/clicks", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	}, rl.RateLimitMiddleware())

	codes := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/clicks", nil)
		req.Header.Set("X-Real-IP", "203.0.113.7")
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		}
	}

	assert.Equal(t, []int{201, 201, 201, 429, 429}, codes)

	// another client has its own bucket
	req := httptest.NewRequest(http.MethodPost, "/api/v1/clicks", nil)
	req.Header.Set("X-Real-IP", "203.0.113.8")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
