// Package middleware 实现 HTTP 中间件
// 负责：
// 1. 请求作用域识别（从 Host 中提取租户子域名）
// 2. 限流（按客户端 IP 的全局固定窗口限流）
// 3. 可观测性（记录指标、日志）
package middleware

import (
	"github.com/gin-gonic/gin"
)

// 上下文 key 常量
const (
	SubdomainKey = "subdomain" // Gin Context 中存储请求子域名标签的 key
)

// LabelExtractor 从 Host 中提取子域名标签，根域名返回空串
type LabelExtractor interface {
	SubdomainLabel(host string) string
}

// HostScope 识别请求所属的子域名并注入 Context
// 只用于日志与指标；归属校验由解析层负责
func HostScope(extractor LabelExtractor) gin.HandlerFunc {
	return func(c *gin.Context) {
		if label := extractor.SubdomainLabel(c.Request.Host); label != "" {
			c.Set(SubdomainKey, label)
		}
		c.Next()
	}
}

// GetSubdomainFromContext 获取请求的子域名标签，根域名请求返回空串
func GetSubdomainFromContext(c *gin.Context) string {
	return c.GetString(SubdomainKey)
}
