package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelierhq/piece-market/internal/config"
)

func cacheConfig() config.CacheConfig {
	return config.CacheConfig{
		Enabled:      true,
		TTL:          5 * time.Second,
		Prefix:       "cache",
		MaxBodyBytes: 1 << 20,
	}
}

// serve runs one request through the cache middleware against a counting
// handler and returns the recorder.
func serve(t *testing.T, mw echo.MiddlewareFunc, method, target, accept string, hits *atomic.Int64) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, target, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(target)
	next := func(c echo.Context) error {
		hits.Add(1)
		return c.JSON(http.StatusOK, echo.Map{"items": []string{"a", "b"}})
	}
	require.NoError(t, mw(next)(c))
	return rec
}

func TestRedisCache_ServesRepeatGETsFromCache(t *testing.T) {
	mw := NewRedisCache(cacheConfig(), testRedis(t))
	var hits atomic.Int64

	first := serve(t, mw, http.MethodGet, "/v1/collections/col-1/pieces", "", &hits)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := serve(t, mw, http.MethodGet, "/v1/collections/col-1/pieces", "", &hits)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, first.Body.String(), second.Body.String(), "a hit replays the exact body")
	assert.Equal(t, int64(1), hits.Load(), "the handler runs only on the miss")
}

func TestRedisCache_KeysIncludeTheRoute(t *testing.T) {
	mw := NewRedisCache(cacheConfig(), testRedis(t))
	var hits atomic.Int64

	serve(t, mw, http.MethodGet, "/v1/collections/col-1/pieces", "", &hits)
	serve(t, mw, http.MethodGet, "/v1/collections/col-2/pieces", "", &hits)
	assert.Equal(t, int64(2), hits.Load(), "different routes do not share entries")
}

func TestRedisCache_SkipsNonGETAndEventStreams(t *testing.T) {
	mw := NewRedisCache(cacheConfig(), testRedis(t))
	var hits atomic.Int64

	post := serve(t, mw, http.MethodPost, "/v1/pieces/p1/reserve", "", &hits)
	assert.Empty(t, post.Header().Get("X-Cache"))

	sse := serve(t, mw, http.MethodGet, "/v1/collections/col-1/events", "text/event-stream", &hits)
	assert.Empty(t, sse.Header().Get("X-Cache"))

	assert.Equal(t, int64(2), hits.Load())
}

func TestRedisCache_OnlyCachesOK(t *testing.T) {
	mw := NewRedisCache(cacheConfig(), testRedis(t))

	e := echo.New()
	fail := func(c echo.Context) error {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "piece not found"})
	}
	run := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/pieces/missing", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetPath("/v1/pieces/:id")
		require.NoError(t, mw(fail)(c))
		return rec
	}

	run()
	rec := run()
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"), "error responses are never replayed")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRedisCache_DisabledIsPassThrough(t *testing.T) {
	cfg := cacheConfig()
	cfg.Enabled = false
	mw := NewRedisCache(cfg, nil)
	var hits atomic.Int64

	serve(t, mw, http.MethodGet, "/v1/collections/col-1/pieces", "", &hits)
	serve(t, mw, http.MethodGet, "/v1/collections/col-1/pieces", "", &hits)
	assert.Equal(t, int64(2), hits.Load())
}
