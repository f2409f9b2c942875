// Package router wires HTTP routes to their handlers and middleware.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/atelierhq/piece-market/internal/config"
	"github.com/atelierhq/piece-market/internal/handler"
	"github.com/atelierhq/piece-market/internal/middleware"
)

// RegisterRoutes registers routes that require no authentication.
func RegisterRoutes(e *echo.Echo) {
	// Liveness probe for load balancers and monitoring.
	e.GET("/healthz", handler.Health)
}

// RegisterPublic registers the unauthenticated read path: collection
// listings, single pieces and the live event stream.  The listing sits
// behind the Redis response cache; the event stream never does.
func RegisterPublic(e *echo.Echo, pieces *handler.PieceHandler, events *handler.EventsHandler, rdb *redis.Client) {
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)
	e.GET("/v1/collections/:id/pieces", pieces.ListByCollection, cache)
	e.GET("/v1/pieces/:id", pieces.GetPiece)
	e.GET("/v1/collections/:id/events", events.Stream)
}

// RegisterReservations registers the mutating reservation endpoints.  All
// of them require a verified bearer token; reserve additionally sits
// behind the per-user rate limit, and finalize is open to both buyers and
// the checkout service (role semantics are enforced in the handler for the
// on-behalf-of case).
func RegisterReservations(e *echo.Echo, res *handler.ReservationHandler, jwtSecret string, rdb *redis.Client) {
	g := e.Group("/v1/pieces")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(handler.RoleCustomer, handler.RoleCheckout))

	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	g.POST("/:id/reserve", res.Reserve, limit)
	g.POST("/:id/cancel", res.Cancel)
	g.POST("/:id/finalize", res.Finalize)
	g.POST("/:id/checkout", res.Checkout)
}
