package webhook

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler serves the booking webhook.
type Handler struct {
	service *Service
}

// NewHandler creates a new webhook handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// HandleBookingEvent processes one delivery from the booking platform.
// POST /api/v1/webhook/booking
//
// The response is always 200: the platform retries anything else
// aggressively, so outcomes are reported in the body only.
func (h *Handler) HandleBookingEvent(c *gin.Context) {
	raw, ok := rawBody(c)
	if !ok {
		var err error
		raw, err = io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusOK, Result{Received: true, Error: "unreadable body"})
			return
		}
	}

	c.JSON(http.StatusOK, h.service.Process(c.Request.Context(), raw))
}
