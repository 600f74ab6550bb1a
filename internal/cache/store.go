// Package cache 实现旁路缓存（Cache-Aside）
// Store 是后端存储原语（Redis 或进程内缓存），Layer 在其上实现业务 key 的命名空间、TTL 与失效策略
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss key 不存在
var ErrMiss = errors.New("cache: miss")

// Store 缓存后端原语
type Store interface {
	Get(ctx context.Context, key string) (string, error)

	// GetEx 读取并把 TTL 重置为 ttl；key 不存在时返回 ErrMiss
	GetEx(ctx context.Context, key string, ttl time.Duration) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// Incr 原子自增，每次调用都刷新 TTL
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// IncrWindow 原子自增，只在计数器刚创建（结果为 1）时设置过期时间
	// 返回当前计数与剩余过期时间
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	// Keys 按通配符模式列出 key（仅管理工具使用，不在热路径）
	Keys(ctx context.Context, pattern string) ([]string, error)

	Ping(ctx context.Context) error
}
