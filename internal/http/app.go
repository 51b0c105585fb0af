// Package http wires the gin surface: the App built by cmd/api and the Module
// contract the router mounts.
package http

import (
	"context"

	"booking_sync_backend/platform/config"
	"booking_sync_backend/platform/httpkit"
	"booking_sync_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

// Pinger backs GET /api/health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// App is everything the router needs; cmd/api fills it in.
type App struct {
	Config config.HTTPConfig
	Logger *logger.Logger
	// Health may be nil, in which case the health route always answers ok.
	Health Pinger
	// IsFatal decides whether a recovered panic takes the process down.
	IsFatal func(recovered any) bool
	Modules []Module
}

// Module mounts one surface's routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// RouterContext is what a Module gets to mount on.
type RouterContext struct {
	Engine *gin.Engine
	// V1 is /api/v1.
	V1 *gin.RouterGroup
	// WebhookRateLimiter is nil when throttling is disabled.
	WebhookRateLimiter *httpkit.IPRateLimiter
	MaxBodyBytes       int64
}
