// Package resolver 把短码解析为当前生效的目标地址
//
// 解析分两步：
//  1. 子域名归属校验（请求带租户子域名时）
//  2. 按时间窗口与优先级选出唯一的生效目标
//
// 记录库故障原样向上返回（调用方渲染 500），不会被当成“不存在”
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yourname/smartqr-redirect/internal/model"
	"github.com/yourname/smartqr-redirect/internal/repository"
)

var (
	ErrNotFound      = errors.New("短链接不存在或没有生效的目标")
	ErrForbiddenHost = errors.New("子域名与短链接归属不符")
)

// Store 解析所需的只读查询
type Store interface {
	GetShortLinkByCode(ctx context.Context, code string) (*model.ShortLink, error)
	GetTenantByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error)
	HasSubdomainAlias(ctx context.Context, tenantID uuid.UUID, subdomain string, supersededAfter time.Time) (bool, error)
	TopEligibleDestination(ctx context.Context, code string, now time.Time) (*model.Destination, error)
}

// Resolver DestinationResolver
type Resolver struct {
	store      Store
	rootDomain string
	aliasGrace time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// New 创建 Resolver
// aliasGrace 为 0 时旧子域名永久有效
func New(store Store, rootDomain string, aliasGrace time.Duration, logger *zap.Logger) *Resolver {
	return &Resolver{
		store:      store,
		rootDomain: strings.ToLower(strings.TrimSuffix(rootDomain, ".")),
		aliasGrace: aliasGrace,
		logger:     logger,
		now:        time.Now,
	}
}

// SubdomainLabel 从 Host 中提取租户子域名标签
// 返回空串表示根域名请求（或与根域名无关的 Host）
func (r *Resolver) SubdomainLabel(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")

	if r.rootDomain == "" || host == r.rootDomain {
		return ""
	}
	suffix := "." + r.rootDomain
	if !strings.HasSuffix(host, suffix) {
		return ""
	}
	prefix := strings.TrimSuffix(host, suffix)
	// 多级前缀取最左侧的标签，如 a.b.root → a
	label := prefix
	if i := strings.IndexByte(prefix, '.'); i >= 0 {
		label = prefix[:i]
	}
	if label == "www" {
		return ""
	}
	return label
}

// Resolve 按请求 Host 解析短码
// 归属不符返回 ErrForbiddenHost，没有生效目标返回 ErrNotFound，其他错误为记录库故障
func (r *Resolver) Resolve(ctx context.Context, shortCode, requestHost string) (*model.Target, error) {
	if err := r.Authorize(ctx, shortCode, requestHost); err != nil {
		return nil, err
	}
	return r.Eligible(ctx, shortCode)
}

// Eligible 当前生效的目标，不做 Host 校验
// 调用方需已通过 Authorize
func (r *Resolver) Eligible(ctx context.Context, shortCode string) (*model.Target, error) {
	dest, err := r.store.TopEligibleDestination(ctx, shortCode, r.now())
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("查询生效目标失败: %w", err)
	}
	return &model.Target{URL: dest.DestinationURL, Kind: dest.Kind}, nil
}

// Authorize 子域名归属校验；根域名请求直接通过
// 缓存命中时也必须走这一步：缓存不是归属关系与启用状态的权威来源
// 子域名请求已读出短链接行，停用的短链接在这里直接返回 ErrNotFound
func (r *Resolver) Authorize(ctx context.Context, shortCode, requestHost string) error {
	label := r.SubdomainLabel(requestHost)
	if label == "" {
		return nil
	}

	link, err := r.store.GetShortLinkByCode(ctx, shortCode)
	if err != nil {
		if repository.IsNotFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("查询短链接失败: %w", err)
	}
	if !link.IsActive {
		return ErrNotFound
	}

	ok, err := r.ownsLabel(ctx, link, label)
	if err != nil {
		return err
	}
	if !ok {
		r.logger.Warn("子域名归属校验失败",
			zap.String("short_code", shortCode),
			zap.String("subdomain", label),
		)
		return ErrForbiddenHost
	}
	return nil
}

// ownsLabel label 是否属于该短链接
// 允许：锁定的子域名；所属租户的当前子域名；所属租户宽限期内的旧子域名
func (r *Resolver) ownsLabel(ctx context.Context, link *model.ShortLink, label string) (bool, error) {
	if link.LockedSubdomain != nil && strings.EqualFold(*link.LockedSubdomain, label) {
		return true, nil
	}
	if link.TenantID == nil {
		return false, nil
	}

	tenant, err := r.store.GetTenantByID(ctx, *link.TenantID)
	if err != nil {
		if repository.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("查询租户失败: %w", err)
	}
	if strings.EqualFold(tenant.Subdomain, label) {
		return true, nil
	}

	supersededAfter := time.Time{}
	if r.aliasGrace > 0 {
		supersededAfter = r.now().Add(-r.aliasGrace)
	}
	ok, err := r.store.HasSubdomainAlias(ctx, tenant.ID, label, supersededAfter)
	if err != nil {
		return false, fmt.Errorf("查询子域名别名失败: %w", err)
	}
	return ok, nil
}

// ResolveShortCode 与 Host 无关的解析（预览 API 使用）
func (r *Resolver) ResolveShortCode(ctx context.Context, shortCode string) (*model.ResolveResult, error) {
	link, err := r.store.GetShortLinkByCode(ctx, shortCode)
	if err != nil {
		if repository.IsNotFound(err) {
			return &model.ResolveResult{Status: model.StatusNotFound}, nil
		}
		return nil, fmt.Errorf("查询短链接失败: %w", err)
	}
	if !link.IsActive {
		return &model.ResolveResult{Status: model.StatusInactive}, nil
	}

	dest, err := r.store.TopEligibleDestination(ctx, shortCode, r.now())
	if err != nil {
		if repository.IsNotFound(err) {
			return &model.ResolveResult{Status: model.StatusInactive}, nil
		}
		return nil, fmt.Errorf("查询生效目标失败: %w", err)
	}
	return &model.ResolveResult{Status: model.StatusActive, DestinationURL: dest.DestinationURL}, nil
}
