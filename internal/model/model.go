// Package model 定义了数据模型
// 本服务只读取管理端 API 写入的记录：租户、短链接、目标地址
// 多租户隔离依赖短链接上的 LockedSubdomain 与 TenantID
package model

import (
	"time"

	"github.com/google/uuid"
)

// Tenant 租户模型
type Tenant struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Subdomain string    `gorm:"size:63;uniqueIndex;not null" json:"subdomain"` // 当前子域名
	IsActive  bool      `gorm:"not null" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// SubdomainAlias 租户改名前使用过的子域名
// 在宽限期内，旧子域名上的扫码仍然可以解析到该租户的短链接
type SubdomainAlias struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	TenantID     uuid.UUID `gorm:"type:uuid;index;not null" json:"tenant_id"`
	Subdomain    string    `gorm:"size:63;index;not null" json:"subdomain"`
	SupersededAt time.Time `gorm:"not null" json:"superseded_at"`
}

// ShortLink 二维码对应的短链接
type ShortLink struct {
	ID              uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	TenantID        *uuid.UUID `gorm:"type:uuid;index" json:"tenant_id,omitempty"`
	ShortCode       string     `gorm:"size:20;uniqueIndex;not null" json:"short_code"`
	IsActive        bool       `gorm:"not null" json:"is_active"`
	LockedSubdomain *string    `gorm:"size:63" json:"locked_subdomain,omitempty"` // 创建时绑定，之后不可变
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	Destinations []Destination `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Kind 目标内容类型
type Kind string

const (
	KindUntyped    Kind = ""
	KindRedirect   Kind = "redirect"
	KindVCard      Kind = "vcard"
	KindHTML       Kind = "html"
	KindWifi       Kind = "wifi"
	KindVideoEmbed Kind = "video-embed"
)

// Valid 是否为已知类型（空值表示历史数据，需要嗅探）
func (k Kind) Valid() bool {
	switch k {
	case KindUntyped, KindRedirect, KindVCard, KindHTML, KindWifi, KindVideoEmbed:
		return true
	}
	return false
}

// Destination 短链接的一个目标地址（追加式历史）
type Destination struct {
	ID             uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	ShortLinkID    uuid.UUID  `gorm:"type:uuid;index;not null" json:"short_link_id"`
	DestinationURL string     `gorm:"type:text;not null" json:"destination_url"`
	Kind           Kind       `gorm:"size:16;not null;default:''" json:"kind,omitempty"`
	IsActive       bool       `gorm:"not null" json:"is_active"`
	Priority       int        `gorm:"not null;default:0" json:"priority"`
	ActiveFrom     time.Time  `gorm:"not null;index" json:"active_from"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// Target 解析结果：目标字符串及其声明的类型
type Target struct {
	URL  string
	Kind Kind
}

// ClickEvent 点击事件（交给分析服务）
type ClickEvent struct {
	ID              string     `gorm:"size:26;primary_key" json:"id"` // ULID
	ShortLinkID     *uuid.UUID `gorm:"type:uuid;index" json:"short_link_id,omitempty"`
	TenantID        *uuid.UUID `gorm:"type:uuid;index" json:"tenant_id,omitempty"`
	ShortCode       string     `gorm:"size:20;index;not null" json:"short_code"`
	DestinationKind Kind       `gorm:"size:16" json:"destination_kind"`
	Host            string     `gorm:"size:255" json:"host"`
	IP              string     `gorm:"size:45" json:"ip"`
	UserAgent       string     `gorm:"type:text" json:"user_agent"`
	Referer         string     `gorm:"type:text" json:"referer"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// --- 响应 DTO ---

// ResolveStatus resolveShortCode 的三种结果
type ResolveStatus string

const (
	StatusActive   ResolveStatus = "active"
	StatusInactive ResolveStatus = "inactive"
	StatusNotFound ResolveStatus = "not_found"
)

// ResolveResult 与宿主无关的解析结果（预览 API 使用）
type ResolveResult struct {
	Status         ResolveStatus `json:"status"`
	DestinationURL string        `json:"destinationUrl,omitempty"`
}

// PreviewResponse 预览接口响应
type PreviewResponse struct {
	Success        bool          `json:"success"`
	ShortCode      string        `json:"shortCode"`
	Status         ResolveStatus `json:"status"`
	DestinationURL string        `json:"destinationUrl,omitempty"`
	Clicks         int64         `json:"clicks"`
}

// ErrorResponse 404 / 500 响应体
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// RateLimitResponse 429 响应体
type RateLimitResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"` // 秒
}
