package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/piece-market/internal/config"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func limiterConfig(capacity int) config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       capacity,
		RefillTokens:   1,
		RefillInterval: time.Minute, // effectively no refill within a test
		TTL:            10 * time.Minute,
		PerRoute:       true,
		Prefix:         "rl",
	}
}

// hit sends one request through the limiter as the given user.
func hit(t *testing.T, mw echo.MiddlewareFunc, userID string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/pieces/p1/reserve", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/pieces/:id/reserve")
	if userID != "" {
		c.Set("user_id", userID)
	}
	next := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	require.NoError(t, mw(next)(c))
	return rec
}

func TestTokenBucket_EnforcesCapacity(t *testing.T) {
	mw := NewTokenBucket(limiterConfig(3), testRedis(t))

	for i := 0; i < 3; i++ {
		rec := hit(t, mw, "userA")
		require.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}

	rec := hit(t, mw, "userA")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
}

func TestTokenBucket_BucketsArePerUser(t *testing.T) {
	mw := NewTokenBucket(limiterConfig(1), testRedis(t))

	require.Equal(t, http.StatusOK, hit(t, mw, "userA").Code)
	require.Equal(t, http.StatusTooManyRequests, hit(t, mw, "userA").Code)

	// A different buyer has their own bucket.
	assert.Equal(t, http.StatusOK, hit(t, mw, "userB").Code)
}

func TestTokenBucket_AnonymousFallsBackToIP(t *testing.T) {
	mw := NewTokenBucket(limiterConfig(1), testRedis(t))

	require.Equal(t, http.StatusOK, hit(t, mw, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(t, mw, "").Code)
}

func TestTokenBucket_SubSecondTTLStillLimits(t *testing.T) {
	cfg := limiterConfig(1)
	cfg.TTL = 500 * time.Millisecond // would truncate to EXPIRE 0
	mw := NewTokenBucket(cfg, testRedis(t))

	require.Equal(t, http.StatusOK, hit(t, mw, "userA").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(t, mw, "userA").Code,
		"the bucket must survive between requests")
}

func TestTokenBucket_DisabledIsPassThrough(t *testing.T) {
	cfg := limiterConfig(1)
	cfg.Enabled = false
	mw := NewTokenBucket(cfg, nil)

	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, hit(t, mw, "userA").Code)
	}
}

func TestTokenBucket_FailsOpenOnRedisError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	mw := NewTokenBucket(limiterConfig(1), rdb)

	mr.Close() // simulate Redis going away

	assert.Equal(t, http.StatusOK, hit(t, mw, "userA").Code,
		"redis trouble must not block the API")
}
