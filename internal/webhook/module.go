// Package webhook ingests booking platform deliveries and runs them through
// identity resolution, classification, reconciliation and the post-commit
// side effects.
package webhook

import (
	apphttp "booking_sync_backend/internal/http"
	"booking_sync_backend/platform/logger"
)

// Module mounts POST /api/v1/webhook/booking.
type Module struct {
	handler *Handler
}

func NewModule(deps Deps, opts Options, log *logger.Logger) *Module {
	return &Module{handler: NewHandler(NewService(deps, opts, log))}
}

func (m *Module) Name() string { return "webhook" }

// RegisterRoutes throttles (never rejects) per IP, then caps the body.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhook")
	if ctx.WebhookRateLimiter != nil {
		group.Use(ctx.WebhookRateLimiter.Throttle())
	}
	group.Use(CaptureBody(ctx.MaxBodyBytes))
	group.POST("/booking", m.handler.HandleBookingEvent)
}

var _ apphttp.Module = (*Module)(nil)
