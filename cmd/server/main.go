// 扫码跳转服务 - 主入口
//
// 每一次扫码都从这里进入：
// 1. 按 Host 识别租户子域名并校验短码归属
// 2. 缓存优先解析当前生效的目标（cache-aside）
// 3. 渲染为 302 跳转或页面（vCard 下载、Wi-Fi、视频、名片页）
// 4. 点击事件异步记录，不阻塞响应
// 5. 可观测性：Prometheus 指标 + 结构化日志 + 健康检查
// 6. 优雅关闭：等待进行中的请求与点击写入完成
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yourname/smartqr-redirect/internal/analytics"
	"github.com/yourname/smartqr-redirect/internal/cache"
	"github.com/yourname/smartqr-redirect/internal/config"
	"github.com/yourname/smartqr-redirect/internal/database"
	"github.com/yourname/smartqr-redirect/internal/handler"
	"github.com/yourname/smartqr-redirect/internal/middleware"
	"github.com/yourname/smartqr-redirect/internal/ratelimit"
	"github.com/yourname/smartqr-redirect/internal/render"
	"github.com/yourname/smartqr-redirect/internal/repository"
	"github.com/yourname/smartqr-redirect/internal/resolver"
	"github.com/yourname/smartqr-redirect/internal/service"
)

func main() {
	// ==================== 1. 加载配置 ====================
	cfg := config.Load()

	// ==================== 2. 初始化日志 ====================
	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("=== 扫码跳转服务启动中 ===",
		zap.String("env", cfg.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.String("redis_addr", cfg.Redis.Addr),
		zap.String("root_domain", cfg.Domain.RootDomain),
	)

	// ==================== 3. 初始化数据库连接 ====================
	db, err := database.Open(cfg.Database)
	if err != nil {
		logger.Fatal("数据库连接失败", zap.Error(err))
	}
	logger.Info("数据库连接成功")

	repo := repository.New(db, logger)
	if err := repo.AutoMigrate(); err != nil {
		logger.Fatal("数据库迁移失败", zap.Error(err))
	}
	logger.Info("数据库迁移完成")

	// ==================== 4. 初始化缓存后端 ====================
	// 未配置 Redis 时使用进程内缓存（单实例开发环境）
	var (
		store cache.Store
		rdb   *redis.Client
	)
	if cfg.Redis.Addr != "" {
		rdb = initRedis(cfg)
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			// 缓存是尽力而为的，启动时不可用也继续运行
			logger.Warn("Redis 连接失败，缓存与限流将降级运行", zap.Error(err))
		} else {
			logger.Info("Redis 连接成功")
		}
		store = cache.NewRedisStore(rdb)
	} else {
		logger.Warn("未配置 REDIS_ADDR，使用进程内缓存")
		store = cache.NewMemoryStore()
	}

	// ==================== 5. 初始化各层组件 ====================
	layer := cache.NewLayer(store, cfg.Cache.DestinationTTL, cfg.Cache.CounterTTL, logger)
	limiter := ratelimit.New(store, logger)
	res := resolver.New(repo, cfg.Domain.RootDomain, cfg.Domain.AliasGracePeriod, logger)
	clicks := analytics.NewDispatcher(repo, layer, cfg.Analytics.WriteTimeout, logger)
	svc := service.New(repo, res, layer, limiter, render.New(logger), clicks, logger)
	h := handler.New(svc, limiter, handler.Options{
		GlobalRateLimit: cfg.IsProduction(),
		GlobalMax:       cfg.RateLimit.GlobalMax,
		GlobalWindow:    cfg.RateLimit.GlobalWindow,
		RedirectTimeout: cfg.Server.RedirectTimeout,
	}, logger)

	// ==================== 6. 配置 HTTP 服务 ====================
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(
		gin.Recovery(),                       // Panic 恢复
		middleware.HostScope(res),            // 子域名识别
		middleware.StructuredLogging(logger), // 结构化日志
		middleware.PrometheusMetrics(),       // Prometheus 指标
	)

	h.RegisterRoutes(router)

	// ==================== 7. 启动 HTTP 服务 ====================
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("HTTP 服务已启动", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP 服务启动失败", zap.Error(err))
		}
	}()

	// ==================== 8. 优雅关闭 ====================
	// 收到 SIGTERM 后：
	// 1. 停止接收新请求，等待进行中的请求完成
	// 2. 等待后台点击事件写完
	// 3. 关闭 Redis 与数据库连接
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("收到退出信号，开始优雅关闭...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("HTTP 服务关闭异常", zap.Error(err))
	}

	if err := svc.WaitForClicks(ctx); err != nil {
		logger.Warn("部分点击事件未写完", zap.Error(err))
	}

	if rdb != nil {
		if err := rdb.Close(); err != nil {
			logger.Error("Redis 连接关闭异常", zap.Error(err))
		}
	}

	sqlDB, _ := db.DB()
	if err := sqlDB.Close(); err != nil {
		logger.Error("数据库连接关闭异常", zap.Error(err))
	}

	logger.Info("=== 服务已安全关闭 ===")
}

// initLogger 初始化结构化日志
// 生产环境使用 JSON，开发环境使用可读格式
func initLogger(cfg *config.Config) *zap.Logger {
	var loggerConfig zap.Config
	if cfg.IsProduction() {
		loggerConfig = zap.NewProductionConfig()
	} else {
		loggerConfig = zap.NewDevelopmentConfig()
		loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := loggerConfig.Build()
	if err != nil {
		panic(fmt.Sprintf("日志初始化失败: %v", err))
	}
	return logger
}

// initRedis 初始化 Redis 连接
func initRedis(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: 20,
	})
}
