package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourname/smartqr-redirect/internal/cache"
	"github.com/yourname/smartqr-redirect/internal/model"
	"github.com/yourname/smartqr-redirect/internal/ratelimit"
	"github.com/yourname/smartqr-redirect/internal/resolver"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, host, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Host = host
	req.RemoteAddr = ip + ":50000"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHostScope(t *testing.T) {
	r := gin.New()
	r.Use(HostScope(resolver.New(nil, "root.example", 0, zap.NewNop())))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, GetSubdomainFromContext(c))
	})

	assert.Equal(t, "acme", serve(r, "acme.root.example:8080", "203.0.113.1").Body.String())
	assert.Equal(t, "", serve(r, "root.example", "203.0.113.1").Body.String())
	assert.Equal(t, "", serve(r, "www.root.example", "203.0.113.1").Body.String())
}

func TestRateLimit_HeadersAnd429(t *testing.T) {
	limiter := ratelimit.New(cache.NewMemoryStore(), zap.NewNop())
	r := gin.New()
	r.Use(StructuredLogging(zap.NewNop()), PrometheusMetrics(), RateLimit(limiter, 2, time.Minute, zap.NewNop()))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := serve(r, "root.example", "203.0.113.1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	reset, err := time.Parse(time.RFC3339, w.Header().Get("X-RateLimit-Reset"))
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), reset, 5*time.Second)

	assert.Equal(t, http.StatusOK, serve(r, "root.example", "203.0.113.1").Code)

	w = serve(r, "root.example", "203.0.113.1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	var body model.RateLimitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Too Many Requests", body.Error)
	assert.GreaterOrEqual(t, body.RetryAfter, 1)

	// 配额按 IP 隔离
	assert.Equal(t, http.StatusOK, serve(r, "root.example", "198.51.100.2").Code)
}
