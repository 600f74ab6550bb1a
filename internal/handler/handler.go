// Package handler HTTP 请求处理器
// 职责：接收 HTTP 请求，调用 Service 层处理业务逻辑，返回 HTTP 响应
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yourname/smartqr-redirect/internal/middleware"
	"github.com/yourname/smartqr-redirect/internal/model"
	"github.com/yourname/smartqr-redirect/internal/ratelimit"
	"github.com/yourname/smartqr-redirect/internal/resolver"
	"github.com/yourname/smartqr-redirect/internal/service"
	"github.com/yourname/smartqr-redirect/internal/shortcode"
)

const (
	msgNotFound = "QR code not found or inactive"
	msgInternal = "Internal server error"
)

// Options 路由级别的策略
type Options struct {
	// GlobalRateLimit 是否启用按 IP 的全局限流（仅生产环境）
	GlobalRateLimit bool
	GlobalMax       int
	GlobalWindow    time.Duration
	// RedirectTimeout 单次扫码请求的处理时限
	RedirectTimeout time.Duration
}

// Handler HTTP 处理器
type Handler struct {
	svc     *service.Service
	limiter *ratelimit.Limiter
	opts    Options
	logger  *zap.Logger
}

// New 创建 Handler 实例
func New(svc *service.Service, limiter *ratelimit.Limiter, opts Options, logger *zap.Logger) *Handler {
	if opts.RedirectTimeout <= 0 {
		opts.RedirectTimeout = 3 * time.Second
	}
	return &Handler{
		svc:     svc,
		limiter: limiter,
		opts:    opts,
		logger:  logger,
	}
}

// RegisterRoutes 注册路由
// 1. /healthz - 存活探针
// 2. /readyz  - 就绪探针
// 3. /metrics - Prometheus 指标采集端点
// 4. /:code   - 扫码入口（与上面同名的短码由 shortcode 拒绝创建）
// 5. /api/v1/ - 版本化的只读 API
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// ==================== 基础设施端点 ====================
	r.GET("/healthz", h.HealthCheck)
	r.GET("/readyz", h.ReadinessCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 全局限流只在生产环境开启，其他环境完全跳过
	var limited []gin.HandlerFunc
	if h.opts.GlobalRateLimit {
		limited = append(limited, middleware.RateLimit(h.limiter, h.opts.GlobalMax, h.opts.GlobalWindow, h.logger))
	}

	// ==================== 扫码入口 ====================
	r.GET("/:code", append(limited, h.Redirect)...)

	// ==================== 预览 API ====================
	// 限流开启时返回 X-RateLimit-* 响应头
	api := r.Group("/api/v1")
	api.Use(limited...)
	{
		api.GET("/resolve/:code", h.Preview)
	}
}

// ==================== 健康检查处理器 ====================

// HealthCheck 存活探针
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "smartqr-redirect",
	})
}

// ReadinessCheck 就绪探针：记录库不可用时不接收流量
func (h *Handler) ReadinessCheck(c *gin.Context) {
	if err := h.svc.HealthCheck(c.Request.Context()); err != nil {
		h.logger.Error("就绪检查失败", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
	})
}

// ==================== 扫码处理器 ====================

// Redirect 扫码入口
// GET /:code
func (h *Handler) Redirect(c *gin.Context) {
	code := c.Param("code")

	// 格式不合法的路径（favicon.ico 等）不查库
	if !shortcode.ValidFormat(code) {
		middleware.RecordRedirect("not_found")
		h.notFound(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RedirectTimeout)
	defer cancel()

	resp, err := h.svc.Redirect(ctx, service.RedirectRequest{
		ShortCode: code,
		Host:      c.Request.Host,
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
	})
	if err != nil {
		h.redirectError(c, err)
		return
	}

	middleware.RecordRedirect(string(resp.Kind))
	c.Header("Cache-Control", "no-store")
	for k, v := range resp.Headers {
		c.Header(k, v)
	}

	if resp.Status == http.StatusFound {
		c.Redirect(http.StatusFound, resp.Location)
		return
	}
	c.Data(resp.Status, resp.ContentType, resp.Body)
}

func (h *Handler) redirectError(c *gin.Context, err error) {
	var limited *service.RateLimitedError
	switch {
	case errors.As(err, &limited):
		middleware.RecordRedirect("rate_limited")
		middleware.RecordRateLimitHit("redirect")
		c.Header("Retry-After", strconv.Itoa(limited.RetryAfter))
		c.JSON(http.StatusTooManyRequests, model.RateLimitResponse{
			Error:      "Too Many Requests",
			Message:    "该二维码请求过于频繁，请稍后重试",
			RetryAfter: limited.RetryAfter,
		})
	case errors.Is(err, resolver.ErrNotFound), errors.Is(err, resolver.ErrForbiddenHost):
		// 归属不符与不存在返回相同响应，不暴露租户信息
		middleware.RecordRedirect("not_found")
		h.notFound(c)
	default:
		middleware.RecordRedirect("error")
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Success: false, Error: msgInternal})
	}
}

func (h *Handler) notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, model.ErrorResponse{Success: false, Error: msgNotFound})
}

// ==================== 预览处理器 ====================

// Preview 与 Host 无关的解析结果
// GET /api/v1/resolve/:code
func (h *Handler) Preview(c *gin.Context) {
	code := c.Param("code")
	if !shortcode.ValidFormat(code) {
		h.notFound(c)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.RedirectTimeout)
	defer cancel()

	resp, err := h.svc.Preview(ctx, code)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Success: false, Error: msgInternal})
		return
	}
	if resp.Status == model.StatusNotFound {
		h.notFound(c)
		return
	}
	c.JSON(http.StatusOK, resp)
}
