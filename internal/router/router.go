// Package router registers the HTTP routes of the reservation API.
package router

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/event-seat-reservation/internal/config"
	"github.com/iliyamo/event-seat-reservation/internal/handler"
	"github.com/iliyamo/event-seat-reservation/internal/live"
	"github.com/iliyamo/event-seat-reservation/internal/middleware"
)

// Deps bundles what the routes need.  Redis may be nil, in which case
// caching and rate limiting are off.
type Deps struct {
	Handler   *handler.Handler
	Live      *live.Server
	JWTSecret string
	Redis     *redis.Client
	Cache     config.CacheConfig
	RateLimit config.RateLimitConfig
}

// RegisterRoutes mounts every route on e.
func RegisterRoutes(e *echo.Echo, d Deps) {
	h := d.Handler
	auth := middleware.JWTAuth(d.JWTSecret)
	limit := middleware.NewTokenBucket(d.RateLimit, d.Redis)

	e.GET("/healthz", handler.Health)

	// public reads; the event list is cached briefly in Redis
	v1 := e.Group("/v1")
	v1.GET("/events", h.ListEvents, middleware.NewRedisCache(d.Cache, d.Redis))
	v1.GET("/events/:id/seats", h.GetSeats)
	v1.GET("/live", d.Live.Handle)

	owner := e.Group("/v1", auth, middleware.RequireRole(middleware.RoleOwner))
	owner.POST("/events", h.CreateEvent)

	user := e.Group("/v1", auth)
	user.POST("/events/:id/holds", h.HoldSeats, limit)
	user.DELETE("/events/:id/holds", h.ReleaseHolds, limit)
	user.POST("/events/:id/bookings", h.BookSeats, limit)
	user.GET("/me/bookings", h.MyBookings)
}
