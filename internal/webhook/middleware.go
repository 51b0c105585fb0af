package webhook

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	rawBodyKey     = "webhookRawBody"
	defaultMaxBody = 1 << 20
)

// CaptureBody reads the request body up to maxBytes and stores it on the gin
// context. Oversized or unreadable bodies are answered with 200 and an
// error, like every other webhook outcome.
func CaptureBody(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		maxBytes = defaultMaxBody
	}
	return func(c *gin.Context) {
		raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes))
		if err != nil {
			msg := "unreadable body"
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				msg = "payload too large"
			}
			c.AbortWithStatusJSON(http.StatusOK, Result{Received: true, Error: msg})
			return
		}
		c.Set(rawBodyKey, raw)
		c.Next()
	}
}

func rawBody(c *gin.Context) ([]byte, bool) {
	v, ok := c.Get(rawBodyKey)
	if !ok {
		return nil, false
	}
	raw, ok := v.([]byte)
	return raw, ok
}
