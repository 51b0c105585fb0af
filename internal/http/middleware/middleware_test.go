package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"booking_sync_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

var errFatal = errors.New("fatal")

func newEngine(fatal func(any) bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Recovery(logger.Discard(), fatal))
	r.GET("/boom", func(*gin.Context) { panic("boom") })
	r.GET("/fatal", func(*gin.Context) { panic(errFatal) })
	return r
}

func TestRecoveryAnswers500(t *testing.T) {
	r := newEngine(nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}

func TestRecoveryExitsOnFatal(t *testing.T) {
	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })

	r := newEngine(func(rec any) bool {
		err, ok := rec.(error)
		return ok && errors.Is(err, errFatal)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/fatal", nil))
	if code != 1 {
		t.Fatalf("expected exit(1), got %d", code)
	}

	code = -1
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	if code != -1 {
		t.Fatalf("non-fatal panic must not exit")
	}
}
