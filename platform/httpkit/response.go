// Package httpkit holds the gin middleware and response helpers shared by the
// HTTP surfaces. It contains no business logic.
package httpkit

import (
	"errors"
	"net/http"

	"booking_sync_backend/platform/apperr"

	"github.com/gin-gonic/gin"
)

// ErrorResponse is the body of non-webhook error responses.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// Error writes an ErrorResponse with the given status.
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Error: message})
}

// Abort answers err and stops the handler chain. Typed errors map through
// their kind; anything else is a 500 without detail.
func Abort(c *gin.Context, err error) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		c.AbortWithStatusJSON(appErr.HTTPStatus(), ErrorResponse{
			Error: appErr.Message,
			Kind:  appErr.Kind.String(),
		})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}
