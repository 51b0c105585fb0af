package router

import (
	"context"
	"net/http"
	"time"

	apphttp "booking_sync_backend/internal/http"
	"booking_sync_backend/internal/http/middleware"
	"booking_sync_backend/platform/apperr"
	"booking_sync_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const maxWebhookBody = 1 << 20

// New builds the gin engine and mounts every module.
func New(app *apphttp.App) *gin.Engine {
	engine := gin.New()
	engine.Use(httpkit.RequestID())
	engine.Use(middleware.Recovery(app.Logger, app.IsFatal))
	engine.Use(httpkit.RequestLogger(app.Logger))
	engine.Use(httpkit.SecurityHeaders())

	engine.GET("/api/health", func(c *gin.Context) {
		if app.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := app.Health.Ping(ctx); err != nil {
				httpkit.Abort(c, apperr.Unavailable("store unavailable", err))
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	var limiter *httpkit.IPRateLimiter
	if app.Config != nil && app.Config.GetWebhookRateLimit() > 0 {
		burst := app.Config.GetWebhookRateBurst()
		if burst < 1 {
			burst = 1
		}
		limiter = httpkit.NewIPRateLimiter(rate.Limit(app.Config.GetWebhookRateLimit()), burst, app.Logger)
	}

	rc := &apphttp.RouterContext{
		Engine:             engine,
		V1:                 engine.Group("/api/v1"),
		WebhookRateLimiter: limiter,
		MaxBodyBytes:       maxWebhookBody,
	}
	for _, m := range app.Modules {
		m.RegisterRoutes(rc)
		app.Logger.Info("module registered", "module", m.Name())
	}

	return engine
}
