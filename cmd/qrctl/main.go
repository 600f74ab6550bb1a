// qrctl 运维命令行工具
//
//	qrctl cache-clear [--pattern destination:*]
//	qrctl invalidate CODE
//	qrctl create --url URL [--code CODE] [--subdomain S] [--kind K]
//	qrctl deactivate CODE / qrctl activate CODE
//
// 与服务共用同一套环境变量配置（.env / APP_ENV / DB_* / REDIS_*）
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/yourname/smartqr-redirect/internal/analytics"
	"github.com/yourname/smartqr-redirect/internal/cache"
	"github.com/yourname/smartqr-redirect/internal/config"
	"github.com/yourname/smartqr-redirect/internal/database"
	"github.com/yourname/smartqr-redirect/internal/model"
	"github.com/yourname/smartqr-redirect/internal/ratelimit"
	"github.com/yourname/smartqr-redirect/internal/render"
	"github.com/yourname/smartqr-redirect/internal/repository"
	"github.com/yourname/smartqr-redirect/internal/resolver"
	"github.com/yourname/smartqr-redirect/internal/service"
)

var opts struct {
	Timeout time.Duration `short:"t" long:"timeout" description:"单条命令的超时时间" default:"30s"`
	Verbose bool          `short:"v" long:"verbose" description:"输出调试日志"`
}

type cacheClearCommand struct {
	Pattern string `short:"p" long:"pattern" description:"要删除的 key 模式" default:"destination:*"`
}

type codeArgs struct {
	Code string `positional-arg-name:"CODE" required:"yes"`
}

type invalidateCommand struct {
	Args codeArgs `positional-args:"yes" required:"yes"`
}

type activateCommand struct {
	Args   codeArgs `positional-args:"yes" required:"yes"`
	active bool
}

type createCommand struct {
	URL       string `short:"u" long:"url" description:"目标地址（URL、WIFI: 配置串或 data: URI）" required:"true"`
	Code      string `short:"c" long:"code" description:"自定义短码，留空则随机生成"`
	Subdomain string `short:"s" long:"subdomain" description:"锁定的租户子域名"`
	Kind      string `short:"k" long:"kind" description:"目标类型" choice:"redirect" choice:"vcard" choice:"html" choice:"wifi" choice:"video-embed"`
	Priority  int    `long:"priority" description:"优先级，越大越优先" default:"0"`
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	parser.AddCommand("cache-clear", "清理缓存", "按模式批量删除缓存 key（SCAN + DEL）", &cacheClearCommand{})
	parser.AddCommand("invalidate", "清除单个短码的目标缓存", "目标被改写后调用", &invalidateCommand{})
	parser.AddCommand("create", "创建短链接", "生成或校验短码，写入短链接与首个目标", &createCommand{})
	parser.AddCommand("activate", "启用短链接", "", &activateCommand{active: true})
	parser.AddCommand("deactivate", "停用短链接", "", &activateCommand{active: false})

	if _, err := parser.Parse(); err != nil {
		var ferr *flags.Error
		if errors.As(err, &ferr) && ferr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// ==================== 命令实现 ====================

func (c *cacheClearCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *app) error {
		n, err := a.svc.ClearCache(ctx, c.Pattern)
		if err != nil {
			return fmt.Errorf("清理缓存失败（已删除 %d 个）: %w", n, err)
		}
		fmt.Printf("已删除 %d 个 key（%s）\n", n, c.Pattern)
		return nil
	})
}

func (c *invalidateCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *app) error {
		a.svc.InvalidateDestination(ctx, c.Args.Code)
		fmt.Printf("已清除 %s 的目标缓存\n", c.Args.Code)
		return nil
	})
}

func (c *activateCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *app) error {
		if err := a.svc.SetLinkActive(ctx, c.Args.Code, c.active); err != nil {
			return err
		}
		fmt.Printf("%s is_active=%t\n", c.Args.Code, c.active)
		return nil
	})
}

func (c *createCommand) Execute([]string) error {
	return withApp(func(ctx context.Context, a *app) error {
		link, err := a.svc.CreateLink(ctx, service.CreateLinkRequest{
			URL:        c.URL,
			CustomCode: c.Code,
			Subdomain:  c.Subdomain,
			Kind:       model.Kind(c.Kind),
			Priority:   c.Priority,
		})
		if err != nil {
			return err
		}

		host := a.cfg.Domain.RootDomain
		if link.LockedSubdomain != nil {
			host = *link.LockedSubdomain + "." + host
		}
		fmt.Printf("%s\thttps://%s/%s\n", link.ShortCode, host, link.ShortCode)
		return nil
	})
}

// ==================== 依赖装配 ====================

type app struct {
	cfg *config.Config
	svc *service.Service
}

// withApp 装配依赖、执行命令并释放连接
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg := config.Load()

	logger := zap.NewNop()
	if opts.Verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	defer logger.Sync()

	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	sqlDB, _ := db.DB()
	defer sqlDB.Close()

	repo := repository.New(db, logger)
	if err := repo.AutoMigrate(); err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}

	var store cache.Store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		store = cache.NewRedisStore(rdb)
	} else {
		// 进程内缓存随进程退出，缓存类命令在这种模式下没有实际效果
		fmt.Fprintln(os.Stderr, "警告: 未配置 REDIS_ADDR，缓存操作只作用于本进程")
		store = cache.NewMemoryStore()
	}

	layer := cache.NewLayer(store, cfg.Cache.DestinationTTL, cfg.Cache.CounterTTL, logger)
	svc := service.New(
		repo,
		resolver.New(repo, cfg.Domain.RootDomain, cfg.Domain.AliasGracePeriod, logger),
		layer,
		ratelimit.New(store, logger),
		render.New(logger),
		analytics.NewDispatcher(repo, layer, cfg.Analytics.WriteTimeout, logger),
		logger,
	)

	ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
	defer cancel()
	return fn(ctx, &app{cfg: cfg, svc: svc})
}
