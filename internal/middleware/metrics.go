package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus 指标定义
var (
	// HTTP 请求总数
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// HTTP 请求延迟
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP 请求延迟（秒）",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 扫码结果，按渲染类型（redirect/vcard/html/wifi/video-embed）或失败原因分组
	redirectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qr_redirects_total",
			Help: "扫码请求处理结果",
		},
		[]string{"outcome"},
	)

	// 限流触发次数，按策略分组（global / redirect）
	rateLimitHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_hits_total",
			Help: "限流触发次数",
		},
		[]string{"policy"},
	)
)

// PrometheusMetrics Prometheus 指标中间件
func PrometheusMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath() // 使用路由模板路径，避免高基数（如 /abc123 → /:code）
		if path == "" {
			path = "unknown"
		}

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

// RecordRedirect 记录扫码结果
func RecordRedirect(outcome string) {
	redirectsTotal.WithLabelValues(outcome).Inc()
}

// RecordRateLimitHit 记录限流触发
func RecordRateLimitHit(policy string) {
	rateLimitHitsTotal.WithLabelValues(policy).Inc()
}
