package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	apphttp "booking_sync_backend/internal/http"
	"booking_sync_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, maxBody int64) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	p := newPipeline(t)

	engine := gin.New()
	module := NewModule(p.deps, Options{}, logger.Discard())
	module.RegisterRoutes(&apphttp.RouterContext{
		Engine:       engine,
		V1:           engine.Group("/api/v1"),
		MaxBodyBytes: maxBody,
	})
	return engine
}

func post(t *testing.T, engine *gin.Engine, body string) (int, Result) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook/booking", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res), rec.Body.String())
	return rec.Code, res
}

func TestHandleBookingEventAlwaysAnswers200(t *testing.T) {
	engine := newTestRouter(t, 0)

	tests := []struct {
		name string
		body string
		ok   bool
	}{
		{"valid record", recordBody(StatusCreate, 0), true},
		{"malformed json", `{"resource":`, false},
		{"empty body", ``, false},
		{"unsupported resource", `{"resource": "goods_transaction", "status": "create"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, res := post(t, engine, tt.body)
			assert.Equal(t, http.StatusOK, code)
			assert.True(t, res.Received)
			assert.Equal(t, tt.ok, res.OK)
		})
	}
}

func TestHandleBookingEventOversizedBody(t *testing.T) {
	engine := newTestRouter(t, 32)

	code, res := post(t, engine, recordBody(StatusCreate, 0))
	assert.Equal(t, http.StatusOK, code)
	assert.False(t, res.OK)
	assert.Equal(t, "payload too large", res.Error)
	assert.Empty(t, res.EventID)
}
