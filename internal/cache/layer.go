package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// key 前缀，按用途隔离命名空间
const (
	destinationPrefix = "destination:"
	clicksPrefix      = "clicks:"
)

// DefaultDestinationTTL destination:{code} 默认 TTL
const DefaultDestinationTTL = time.Hour

var cacheLookupsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "destination_cache_lookups_total",
		Help: "目标地址缓存查询次数",
	},
	[]string{"result"}, // hit / miss / error
)

// Layer 缓存层
// 尽力而为：后端故障时读降级为未命中、写降级为空操作，只记录日志，不向调用方返回错误
type Layer struct {
	store          Store
	destinationTTL time.Duration
	counterTTL     time.Duration
	logger         *zap.Logger
}

// NewLayer 创建缓存层，ttl <= 0 时使用默认值
func NewLayer(store Store, destinationTTL, counterTTL time.Duration, logger *zap.Logger) *Layer {
	if destinationTTL <= 0 {
		destinationTTL = DefaultDestinationTTL
	}
	if counterTTL <= 0 {
		counterTTL = 24 * time.Hour
	}
	return &Layer{
		store:          store,
		destinationTTL: destinationTTL,
		counterTTL:     counterTTL,
		logger:         logger,
	}
}

// Store 返回底层后端（限流器直接使用其原子自增原语）
func (l *Layer) Store() Store {
	return l.store
}

// ==================== 目标地址 ====================

// GetDestination 读取缓存的目标地址
func (l *Layer) GetDestination(ctx context.Context, shortCode string) (string, bool) {
	val, err := l.store.Get(ctx, destinationPrefix+shortCode)
	if err != nil {
		if errors.Is(err, ErrMiss) {
			cacheLookupsTotal.WithLabelValues("miss").Inc()
		} else {
			cacheLookupsTotal.WithLabelValues("error").Inc()
			l.logger.Warn("读取目标地址缓存失败，按未命中处理",
				zap.String("short_code", shortCode),
				zap.Error(err),
			)
		}
		return "", false
	}
	cacheLookupsTotal.WithLabelValues("hit").Inc()
	return val, true
}

// SetDestination 写入目标地址，ttl <= 0 使用默认 TTL
func (l *Layer) SetDestination(ctx context.Context, shortCode, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = l.destinationTTL
	}
	if err := l.store.Set(ctx, destinationPrefix+shortCode, value, ttl); err != nil {
		l.logger.Warn("写入目标地址缓存失败",
			zap.String("short_code", shortCode),
			zap.Error(err),
		)
	}
}

// InvalidateDestination 目标地址被改写后由管理端调用
func (l *Layer) InvalidateDestination(ctx context.Context, shortCode string) {
	if err := l.store.Delete(ctx, destinationPrefix+shortCode); err != nil {
		l.logger.Warn("删除目标地址缓存失败",
			zap.String("short_code", shortCode),
			zap.Error(err),
		)
	}
}

// ==================== 计数器 ====================

// IncrementCounter 自增计数器并刷新 TTL，失败返回 0
func (l *Layer) IncrementCounter(ctx context.Context, key string) int64 {
	n, err := l.store.Incr(ctx, key, l.counterTTL)
	if err != nil {
		l.logger.Warn("计数器自增失败", zap.String("key", key), zap.Error(err))
		return 0
	}
	return n
}

// GetCounter 读取计数器并刷新 TTL，不存在或失败返回 0
func (l *Layer) GetCounter(ctx context.Context, key string) int64 {
	val, err := l.store.GetEx(ctx, key, l.counterTTL)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			l.logger.Warn("读取计数器失败", zap.String("key", key), zap.Error(err))
		}
		return 0
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ClicksKey clicks:{code}
func ClicksKey(shortCode string) string {
	return clicksPrefix + shortCode
}

// ==================== 管理操作 ====================

// Clear 删除匹配 pattern 的全部 key，返回删除数量
// 与其他方法不同，这里返回错误：管理工具需要知道清理是否成功
func (l *Layer) Clear(ctx context.Context, pattern string) (int, error) {
	keys, err := l.store.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}

	const batch = 500
	for start := 0; start < len(keys); start += batch {
		end := start + batch
		if end > len(keys) {
			end = len(keys)
		}
		if err := l.store.Delete(ctx, keys[start:end]...); err != nil {
			return start, err
		}
	}

	l.logger.Info("缓存已清理", zap.String("pattern", pattern), zap.Int("deleted", len(keys)))
	return len(keys), nil
}

// Ping 就绪探针使用
func (l *Layer) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}
