package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourname/smartqr-redirect/internal/model"
	"github.com/yourname/smartqr-redirect/internal/ratelimit"
)

// RateLimit 按客户端 IP 的全局限流中间件
// 固定窗口计数保存在共享缓存中，多实例部署时共用同一配额
// 缓存后端故障时放行（由 Limiter 实现 fail-open）
//
// 响应头：X-RateLimit-Limit / X-RateLimit-Remaining / X-RateLimit-Reset（ISO-8601）
func RateLimit(limiter *ratelimit.Limiter, max int, window time.Duration, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		res := limiter.Check(c.Request.Context(), ratelimit.GlobalKey(ip), max, window)

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Header("X-RateLimit-Reset", res.ResetAt.UTC().Format(time.RFC3339))

		if !res.Allowed {
			logger.Warn("客户端触发全局限流",
				zap.String("ip", ip),
				zap.Int("limit", max),
				zap.Duration("window", window),
			)
			RecordRateLimitHit("global")

			retryAfter := res.RetryAfter(time.Now())
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, model.RateLimitResponse{
				Error:      "Too Many Requests",
				Message:    "请求过于频繁，请稍后重试",
				RetryAfter: retryAfter,
			})
			return
		}

		c.Next()
	}
}
