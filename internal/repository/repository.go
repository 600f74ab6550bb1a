// Package repository 数据访问层
// 记录库是短链接归属与激活状态的唯一权威来源；缓存只存目标地址字符串，由 cache 包负责
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourname/smartqr-redirect/internal/model"
)

// Repository 基于 GORM 的记录库访问
type Repository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New 创建 Repository 实例
func New(db *gorm.DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// AutoMigrate 自动迁移数据库表结构
// 生产环境中建议使用专门的迁移工具（如 golang-migrate）
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&model.Tenant{},
		&model.SubdomainAlias{},
		&model.ShortLink{},
		&model.Destination{},
		&model.ClickEvent{},
	)
}

// ==================== 读：重定向热路径 ====================

// ShortCodeExists 短码是否已被使用
func (r *Repository) ShortCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ShortLink{}).
		Where("short_code = ?", code).
		Count(&count).Error
	return count > 0, err
}

// GetShortLinkByCode 按短码查询短链接（不论是否激活）
// 不存在时返回 gorm.ErrRecordNotFound
func (r *Repository) GetShortLinkByCode(ctx context.Context, code string) (*model.ShortLink, error) {
	var link model.ShortLink
	if err := r.db.WithContext(ctx).Where("short_code = ?", code).First(&link).Error; err != nil {
		return nil, err
	}
	return &link, nil
}

// GetTenantByID 通过 ID 查询租户
func (r *Repository) GetTenantByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &tenant, nil
}

// HasSubdomainAlias 租户在 supersededAfter 之后是否仍拥有该旧子域名
// 走 (subdomain) 索引，而不是扫描整段历史；已被其他租户占用的子域名不再作为别名生效
func (r *Repository) HasSubdomainAlias(ctx context.Context, tenantID uuid.UUID, subdomain string, supersededAfter time.Time) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.SubdomainAlias{}).
		Where("subdomain = ? AND tenant_id = ? AND superseded_at > ?", subdomain, tenantID, supersededAfter.UTC()).
		Where("NOT EXISTS (SELECT 1 FROM tenants WHERE tenants.subdomain = subdomain_aliases.subdomain)").
		Count(&count).Error
	return count > 0, err
}

// TopEligibleDestination 返回当前生效的最高优先级目标
// 条件：短链接激活、目标激活、active_from <= now、expires_at 为空或晚于 now
// 同优先级时取 active_from 较晚的那条，再按创建时间
// 没有符合条件的目标时返回 gorm.ErrRecordNotFound
func (r *Repository) TopEligibleDestination(ctx context.Context, code string, now time.Time) (*model.Destination, error) {
	now = now.UTC()
	var dests []model.Destination
	err := r.db.WithContext(ctx).
		Joins("JOIN short_links ON short_links.id = destinations.short_link_id").
		Where("short_links.short_code = ? AND short_links.is_active = ?", code, true).
		Where("destinations.is_active = ? AND destinations.active_from <= ?", true, now).
		Where("(destinations.expires_at IS NULL OR destinations.expires_at > ?)", now).
		Order("destinations.priority DESC").
		Order("destinations.active_from DESC").
		Order("destinations.created_at DESC").
		Limit(1).
		Find(&dests).Error
	if err != nil {
		return nil, err
	}
	if len(dests) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &dests[0], nil
}

// ==================== 写：管理端 / 运维工具 ====================

// CreateTenant 创建租户
func (r *Repository) CreateTenant(ctx context.Context, tenant *model.Tenant) error {
	if tenant.ID == uuid.Nil {
		tenant.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(tenant).Error
}

// RenameTenantSubdomain 修改租户子域名，旧子域名记为别名
func (r *Repository) RenameTenantSubdomain(ctx context.Context, tenantID uuid.UUID, subdomain string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var tenant model.Tenant
		if err := tx.First(&tenant, "id = ?", tenantID).Error; err != nil {
			return err
		}
		if tenant.Subdomain == subdomain {
			return nil
		}
		alias := &model.SubdomainAlias{
			ID:           uuid.New(),
			TenantID:     tenantID,
			Subdomain:    tenant.Subdomain,
			SupersededAt: time.Now().UTC(),
		}
		if err := tx.Create(alias).Error; err != nil {
			return err
		}
		return tx.Model(&tenant).Update("subdomain", subdomain).Error
	})
}

// CreateShortLink 创建短链接
func (r *Repository) CreateShortLink(ctx context.Context, link *model.ShortLink) error {
	if link.ID == uuid.Nil {
		link.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Omit("Destinations").Create(link).Error
}

// AddDestination 追加一条目标地址，并停用此前所有激活的目标
// 两步在同一事务中；并发写入仍可能留下多条激活记录，读取侧按优先级与时间窗口消歧
func (r *Repository) AddDestination(ctx context.Context, linkID uuid.UUID, dest *model.Destination) error {
	if dest.ID == uuid.Nil {
		dest.ID = uuid.New()
	}
	dest.ShortLinkID = linkID
	dest.IsActive = true
	if dest.ActiveFrom.IsZero() {
		dest.ActiveFrom = time.Now()
	}
	dest.ActiveFrom = dest.ActiveFrom.UTC()
	if dest.ExpiresAt != nil {
		exp := dest.ExpiresAt.UTC()
		dest.ExpiresAt = &exp
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Destination{}).
			Where("short_link_id = ? AND is_active = ?", linkID, true).
			Update("is_active", false).Error; err != nil {
			return err
		}
		return tx.Create(dest).Error
	})
}

// InsertDestination 原样插入一条目标记录，不停用其他记录（数据导入与测试使用）
func (r *Repository) InsertDestination(ctx context.Context, dest *model.Destination) error {
	if dest.ID == uuid.Nil {
		dest.ID = uuid.New()
	}
	dest.ActiveFrom = dest.ActiveFrom.UTC()
	if dest.ExpiresAt != nil {
		exp := dest.ExpiresAt.UTC()
		dest.ExpiresAt = &exp
	}
	return r.db.WithContext(ctx).Create(dest).Error
}

// SetShortLinkActive 启用或停用短链接
func (r *Repository) SetShortLinkActive(ctx context.Context, code string, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&model.ShortLink{}).
		Where("short_code = ?", code).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ==================== 点击事件 ====================

// RecordClick 记录点击事件
// 扫码热路径只带短码，短链接与租户 ID 在这里（后台写入时）补齐
// 短链接已被删除时照常记录，ID 留空
func (r *Repository) RecordClick(ctx context.Context, event *model.ClickEvent) error {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.ShortLinkID == nil {
		var link model.ShortLink
		err := r.db.WithContext(ctx).
			Select("id", "tenant_id").
			Where("short_code = ?", event.ShortCode).
			First(&link).Error
		switch {
		case err == nil:
			event.ShortLinkID = &link.ID
			event.TenantID = link.TenantID
		case !IsNotFound(err):
			return fmt.Errorf("查询短链接失败: %w", err)
		}
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// CountClicks 统计某短码的点击事件数
func (r *Repository) CountClicks(ctx context.Context, code string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ClickEvent{}).
		Where("short_code = ?", code).
		Count(&count).Error
	return count, err
}

// HealthCheck 健康检查
func (r *Repository) HealthCheck(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("获取数据库连接失败: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("数据库 ping 失败: %w", err)
	}
	return nil
}

// IsNotFound 是否为记录不存在
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
