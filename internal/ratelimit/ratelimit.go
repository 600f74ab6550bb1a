// Package ratelimit 固定窗口限流
//
// 第一次自增（计数为 1）时设置窗口过期时间，之后的自增不会续期。
// 窗口边界前后的突发流量可能短暂超过目标速率，这是固定窗口算法的已知性质。
// 后端故障时放行（fail-open）：扫码跳转的可用性优先于配额的严格执行。
package ratelimit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/yourname/smartqr-redirect/internal/cache"
)

const keyPrefix = "ratelimit:"

// Result 一次限流检查的结果
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// Degraded 后端不可用，本次为放行降级
	Degraded bool
}

// RetryAfter 距离窗口重置的秒数（至少 1 秒）
func (r Result) RetryAfter(now time.Time) int {
	secs := int(r.ResetAt.Sub(now).Round(time.Second) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter 固定窗口限流器
type Limiter struct {
	store  cache.Store
	logger *zap.Logger
	now    func() time.Time
}

// New 创建限流器
func New(store cache.Store, logger *zap.Logger) *Limiter {
	return &Limiter{store: store, logger: logger, now: time.Now}
}

// Allow 请求是否放行
func (l *Limiter) Allow(ctx context.Context, identifier string, maxRequests int, window time.Duration) bool {
	return l.Check(ctx, identifier, maxRequests, window).Allowed
}

// Check 与 Allow 相同，额外返回剩余配额与重置时间（用于 X-RateLimit-* 响应头）
func (l *Limiter) Check(ctx context.Context, identifier string, maxRequests int, window time.Duration) Result {
	now := l.now()
	count, ttl, err := l.store.IncrWindow(ctx, keyPrefix+identifier, window)
	if err != nil {
		l.logger.Warn("限流检查失败，放行请求",
			zap.String("identifier", identifier),
			zap.Error(err),
		)
		return Result{
			Allowed:   true,
			Limit:     maxRequests,
			Remaining: maxRequests,
			ResetAt:   now.Add(window),
			Degraded:  true,
		}
	}

	if ttl <= 0 {
		ttl = window
	}
	remaining := maxRequests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(maxRequests),
		Limit:     maxRequests,
		Remaining: remaining,
		ResetAt:   now.Add(ttl),
	}
}

// RedirectKey 单个短码 + 客户端 IP 的限流标识
func RedirectKey(shortCode, ip string) string {
	return "redirect:" + shortCode + ":" + ip
}

// GlobalKey 全局单 IP 限流标识
func GlobalKey(ip string) string {
	return "global:" + ip
}
