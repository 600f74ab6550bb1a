// Package config 实现了 12-Factor App 的配置管理
// 所有配置通过环境变量注入；本地开发时可额外放一个 .env 文件
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 重定向限流策略是固定的，不开放配置
const (
	RedirectRateLimitMax    = 30
	RedirectRateLimitWindow = 60 * time.Second
)

// Config 应用全局配置
type Config struct {
	// 运行环境: production / development / test
	Env string

	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Domain    DomainConfig
	Analytics AnalyticsConfig
}

type ServerConfig struct {
	Port            string        // 服务监听端口
	ReadTimeout     time.Duration // 读取超时
	WriteTimeout    time.Duration // 写入超时
	ShutdownTimeout time.Duration // 优雅关闭超时
	RedirectTimeout time.Duration // 单次扫码请求的整体处理时限
}

type DatabaseConfig struct {
	Driver     string // postgres / sqlite
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

// DSN 返回 PostgreSQL 连接字符串
func (d DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

// RedisConfig Addr 为空时使用进程内缓存
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	DestinationTTL time.Duration // destination:{code} 的默认 TTL
	CounterTTL     time.Duration // clicks:{code} 计数器 TTL
}

type RateLimitConfig struct {
	GlobalMax    int           // 单 IP 在窗口内的最大请求数
	GlobalWindow time.Duration // 全局限流窗口
}

type DomainConfig struct {
	RootDomain       string        // 如 qr.example.com，租户子域名为 {tenant}.qr.example.com
	AliasGracePeriod time.Duration // 旧子域名在改名后仍然有效的时间，0 表示永久有效
}

type AnalyticsConfig struct {
	WriteTimeout time.Duration // 点击事件异步写入超时
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Load 从环境变量加载配置
func Load() *Config {
	_ = godotenv.Load() // .env 不存在时忽略（生产环境由 ConfigMap/Secret 注入）

	env := getEnv("APP_ENV", "development")

	defaultDriver := "sqlite"
	if env == "production" {
		defaultDriver = "postgres"
	}

	return &Config{
		Env: env,
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			RedirectTimeout: getDurationEnv("SERVER_REDIRECT_TIMEOUT", 3*time.Second),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", defaultDriver),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", "postgres"),
			DBName:     getEnv("DB_NAME", "smartqr"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "smartqr.db"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			DestinationTTL: getDurationEnv("CACHE_DESTINATION_TTL", time.Hour),
			CounterTTL:     getDurationEnv("CACHE_COUNTER_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			GlobalMax:    getIntEnv("RATE_LIMIT_MAX", 100),
			GlobalWindow: getDurationEnv("RATE_LIMIT_WINDOW", 15*time.Minute),
		},
		Domain: DomainConfig{
			RootDomain:       strings.ToLower(getEnv("ROOT_DOMAIN", "localhost")),
			AliasGracePeriod: getDurationEnv("SUBDOMAIN_ALIAS_GRACE_PERIOD", 90*24*time.Hour),
		},
		Analytics: AnalyticsConfig{
			WriteTimeout: getDurationEnv("ANALYTICS_WRITE_TIMEOUT", 5*time.Second),
		},
	}
}

// --- 辅助函数 ---

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
