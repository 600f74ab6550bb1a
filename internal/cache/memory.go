package cache

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore 进程内缓存后端，未配置 Redis 时使用（单实例开发环境）
// 多实例部署时计数器不共享，限流会按实例数放大
type MemoryStore struct {
	mu sync.Mutex // 保护 Incr 的读-改-写
	c  *gocache.Cache
}

// NewMemoryStore 创建 MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	v, ok := s.c.Get(key)
	if !ok {
		return "", ErrMiss
	}
	switch val := v.(type) {
	case string:
		return val, nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	}
	return "", ErrMiss
}

func (s *MemoryStore) GetEx(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.c.Get(key)
	if !ok {
		return "", ErrMiss
	}
	s.c.Set(key, v, ttlOrForever(ttl))
	return s.Get(ctx, key)
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.c.Set(key, value, ttlOrForever(ttl))
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.c.Delete(k)
	}
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if v, ok := s.c.Get(key); ok {
		n = toInt64(v)
	}
	n++
	s.c.Set(key, n, ttlOrForever(ttl))
	return n, nil
}

func (s *MemoryStore) IncrWindow(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.c.Add(key, int64(1), ttlOrForever(window)); err == nil {
		return 1, window, nil
	}

	v, exp, ok := s.c.GetWithExpiration(key)
	if !ok {
		// 刚好在 Add 与读取之间过期
		s.c.Set(key, int64(1), ttlOrForever(window))
		return 1, window, nil
	}
	n := toInt64(v) + 1
	var remaining time.Duration
	if !exp.IsZero() {
		remaining = time.Until(exp)
		if remaining <= 0 {
			s.c.Set(key, int64(1), ttlOrForever(window))
			return 1, window, nil
		}
		s.c.Set(key, n, remaining)
	} else {
		s.c.Set(key, n, gocache.NoExpiration)
	}
	return n, remaining, nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	var keys []string
	for k := range s.c.Items() {
		if ok, _ := path.Match(pattern, k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func ttlOrForever(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func toInt64(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	}
	return 0
}
