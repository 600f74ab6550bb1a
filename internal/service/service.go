// Package service 业务逻辑层
// 职责：编排扫码跳转流程（限流 → 归属校验 → 缓存 → 解析 → 渲染 → 点击记录），不直接操作数据库
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourname/smartqr-redirect/internal/analytics"
	"github.com/yourname/smartqr-redirect/internal/cache"
	"github.com/yourname/smartqr-redirect/internal/config"
	"github.com/yourname/smartqr-redirect/internal/model"
	"github.com/yourname/smartqr-redirect/internal/ratelimit"
	"github.com/yourname/smartqr-redirect/internal/render"
	"github.com/yourname/smartqr-redirect/internal/repository"
	"github.com/yourname/smartqr-redirect/internal/resolver"
	"github.com/yourname/smartqr-redirect/internal/shortcode"
)

// ErrInvalidKind 创建时指定了未知的目标类型
var ErrInvalidKind = errors.New("未知的目标类型")

// RateLimitedError 单码限流触发
type RateLimitedError struct {
	Limit      int
	RetryAfter int // 秒
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("请求频率超限，%d 秒后重试", e.RetryAfter)
}

// Service 业务逻辑服务
type Service struct {
	repo      *repository.Repository
	resolver  *resolver.Resolver
	cache     *cache.Layer
	limiter   *ratelimit.Limiter
	renderer  *render.Renderer
	clicks    *analytics.Dispatcher
	generator *shortcode.Generator
	logger    *zap.Logger
	now       func() time.Time
}

// New 创建 Service 实例
func New(
	repo *repository.Repository,
	res *resolver.Resolver,
	layer *cache.Layer,
	limiter *ratelimit.Limiter,
	renderer *render.Renderer,
	clicks *analytics.Dispatcher,
	logger *zap.Logger,
) *Service {
	return &Service{
		repo:      repo,
		resolver:  res,
		cache:     layer,
		limiter:   limiter,
		renderer:  renderer,
		clicks:    clicks,
		generator: shortcode.NewGenerator(repo),
		logger:    logger,
		now:       time.Now,
	}
}

// ==================== 扫码跳转 ====================

// RedirectRequest 一次扫码请求
type RedirectRequest struct {
	ShortCode string
	Host      string
	IP        string
	UserAgent string
	Referer   string
}

// Redirect 处理扫码请求，返回渲染好的响应
//
// 错误：
//   - *RateLimitedError 单码限流
//   - resolver.ErrNotFound / resolver.ErrForbiddenHost 对外统一为 404
//   - 其他错误为记录库故障或超时，对外为 500
func (s *Service) Redirect(ctx context.Context, req RedirectRequest) (*render.Response, error) {
	// 1. 单码 + IP 限流，抑制对单个短码的刮取
	rl := s.limiter.Check(ctx,
		ratelimit.RedirectKey(req.ShortCode, req.IP),
		config.RedirectRateLimitMax,
		config.RedirectRateLimitWindow,
	)
	if !rl.Allowed {
		s.logger.Warn("短码触发限流",
			zap.String("short_code", req.ShortCode),
			zap.String("ip", req.IP),
		)
		return nil, &RateLimitedError{Limit: rl.Limit, RetryAfter: rl.RetryAfter(s.now())}
	}

	// 2. 子域名归属校验，缓存命中也要做
	if err := s.resolver.Authorize(ctx, req.ShortCode, req.Host); err != nil {
		return nil, s.resolveError(req.ShortCode, err)
	}

	// 3. 缓存优先，未命中时回源并回填
	target, err := s.lookup(ctx, req.ShortCode)
	if err != nil {
		return nil, s.resolveError(req.ShortCode, err)
	}

	// 4. 渲染
	resp, err := s.renderer.Render(*target)
	if err != nil {
		return nil, fmt.Errorf("渲染目标失败: %w", err)
	}

	// 5. 点击记录不阻塞响应
	s.clicks.Dispatch(model.ClickEvent{
		ShortCode:       req.ShortCode,
		DestinationKind: resp.Kind,
		Host:            req.Host,
		IP:              req.IP,
		UserAgent:       req.UserAgent,
		Referer:         req.Referer,
	})

	return resp, nil
}

// lookup cache-aside 读取目标
func (s *Service) lookup(ctx context.Context, code string) (*model.Target, error) {
	if url, ok := s.cache.GetDestination(ctx, code); ok {
		return &model.Target{URL: url}, nil
	}

	target, err := s.resolver.Eligible(ctx, code)
	if err != nil {
		return nil, err
	}

	// 缓存只保存字符串，显式类型与内容识别结果不一致时不能缓存
	if target.Kind == model.KindUntyped || target.Kind == render.Sniff(target.URL) {
		s.cache.SetDestination(ctx, code, target.URL, 0)
	}
	return target, nil
}

func (s *Service) resolveError(code string, err error) error {
	if errors.Is(err, resolver.ErrNotFound) || errors.Is(err, resolver.ErrForbiddenHost) {
		return err
	}
	s.logger.Error("解析短码失败",
		zap.String("short_code", code),
		zap.Error(err),
	)
	return err
}

// ==================== 预览 ====================

// Preview 与 Host 无关的解析结果，附带近似点击数
func (s *Service) Preview(ctx context.Context, code string) (*model.PreviewResponse, error) {
	res, err := s.resolver.ResolveShortCode(ctx, code)
	if err != nil {
		s.logger.Error("预览解析失败", zap.String("short_code", code), zap.Error(err))
		return nil, err
	}

	resp := &model.PreviewResponse{
		Success:        true,
		ShortCode:      code,
		Status:         res.Status,
		DestinationURL: res.DestinationURL,
	}
	if res.Status != model.StatusNotFound {
		resp.Clicks = s.cache.GetCounter(ctx, cache.ClicksKey(code))
	}
	return resp, nil
}

// ==================== 短链接管理（管理工具使用） ====================

// CreateLinkRequest 创建短链接参数
type CreateLinkRequest struct {
	URL        string
	CustomCode string
	Subdomain  string
	Kind       model.Kind
	Priority   int
}

// CreateLink 生成短码、写入短链接与首个目标，并清除缓存
func (s *Service) CreateLink(ctx context.Context, req CreateLinkRequest) (*model.ShortLink, error) {
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, req.Kind)
	}

	code, err := s.generator.Generate(ctx, req.CustomCode)
	if err != nil {
		return nil, err
	}

	link := &model.ShortLink{ShortCode: code, IsActive: true}
	if sub := strings.ToLower(strings.TrimSpace(req.Subdomain)); sub != "" {
		link.LockedSubdomain = &sub
	}
	if err := s.repo.CreateShortLink(ctx, link); err != nil {
		return nil, fmt.Errorf("创建短链接失败: %w", err)
	}

	dest := &model.Destination{
		DestinationURL: req.URL,
		Kind:           req.Kind,
		Priority:       req.Priority,
		ActiveFrom:     s.now(),
	}
	if err := s.repo.AddDestination(ctx, link.ID, dest); err != nil {
		return nil, fmt.Errorf("写入目标失败: %w", err)
	}
	s.cache.InvalidateDestination(ctx, code)

	s.logger.Info("短链接创建成功",
		zap.String("short_code", code),
		zap.String("kind", string(req.Kind)),
	)
	return link, nil
}

// SetLinkActive 启用/停用短链接，并清除缓存
func (s *Service) SetLinkActive(ctx context.Context, code string, active bool) error {
	if err := s.repo.SetShortLinkActive(ctx, code, active); err != nil {
		if repository.IsNotFound(err) {
			return resolver.ErrNotFound
		}
		return fmt.Errorf("更新短链接状态失败: %w", err)
	}
	s.cache.InvalidateDestination(ctx, code)
	return nil
}

// InvalidateDestination 目标被改写后清除缓存
func (s *Service) InvalidateDestination(ctx context.Context, code string) {
	s.cache.InvalidateDestination(ctx, code)
}

// ClearCache 按模式批量清理缓存
func (s *Service) ClearCache(ctx context.Context, pattern string) (int, error) {
	return s.cache.Clear(ctx, pattern)
}

// ==================== 健康检查 ====================

// HealthCheck 就绪检查：记录库必须可用；缓存故障只记日志（缓存是尽力而为的）
func (s *Service) HealthCheck(ctx context.Context) error {
	if err := s.repo.HealthCheck(ctx); err != nil {
		return err
	}
	if err := s.cache.Ping(ctx); err != nil {
		s.logger.Warn("缓存后端不可用，以降级模式运行", zap.Error(err))
	}
	return nil
}

// WaitForClicks 等待后台点击记录写完
func (s *Service) WaitForClicks(ctx context.Context) error {
	return s.clicks.Wait(ctx)
}
