package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/yourname/smartqr-redirect/internal/analytics"
	"github.com/yourname/smartqr-redirect/internal/cache"
	"github.com/yourname/smartqr-redirect/internal/database"
	"github.com/yourname/smartqr-redirect/internal/model"
	"github.com/yourname/smartqr-redirect/internal/ratelimit"
	"github.com/yourname/smartqr-redirect/internal/render"
	"github.com/yourname/smartqr-redirect/internal/repository"
	"github.com/yourname/smartqr-redirect/internal/resolver"
	"github.com/yourname/smartqr-redirect/internal/shortcode"
)

const root = "root.example"

type testEnv struct {
	svc   *Service
	repo  *repository.Repository
	layer *cache.Layer
	db    *gorm.DB
	mr    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	db, err := database.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
	repo := repository.New(db, logger)
	require.NoError(t, repo.AutoMigrate())

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	store := cache.NewRedisStore(rdb)
	layer := cache.NewLayer(store, time.Hour, 24*time.Hour, logger)

	svc := New(
		repo,
		resolver.New(repo, root, 24*time.Hour, logger),
		layer,
		ratelimit.New(store, logger),
		render.New(logger),
		analytics.NewDispatcher(repo, layer, time.Second, logger),
		logger,
	)
	t.Cleanup(func() { _ = svc.WaitForClicks(context.Background()) })
	return &testEnv{svc: svc, repo: repo, layer: layer, db: db, mr: mr}
}

func (e *testEnv) create(t *testing.T, req CreateLinkRequest) *model.ShortLink {
	t.Helper()
	link, err := e.svc.CreateLink(context.Background(), req)
	require.NoError(t, err)
	return link
}

func scan(code, host string) RedirectRequest {
	return RedirectRequest{ShortCode: code, Host: host, IP: "203.0.113.7", UserAgent: "test"}
}

func TestRedirect_EndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.create(t, CreateLinkRequest{URL: "https://example.com", CustomCode: "abc123"})

	resp, err := e.svc.Redirect(ctx, scan("abc123", root))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status)
	assert.Equal(t, "https://example.com", resp.Location)

	require.NoError(t, e.svc.SetLinkActive(ctx, "abc123", false))
	_, err = e.svc.Redirect(ctx, scan("abc123", root))
	assert.ErrorIs(t, err, resolver.ErrNotFound)
}

func TestRedirect_CacheAsideAndBoundedStaleness(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	link := e.create(t, CreateLinkRequest{URL: "https://one.example", CustomCode: "menu"})

	_, err := e.svc.Redirect(ctx, scan("menu", ""))
	require.NoError(t, err)
	cached, ok := e.layer.GetDestination(ctx, "menu")
	require.True(t, ok)
	assert.Equal(t, "https://one.example", cached)

	// 写入新目标但未清缓存：在 TTL 内仍返回旧值
	require.NoError(t, e.repo.AddDestination(ctx, link.ID, &model.Destination{DestinationURL: "https://two.example"}))
	resp, err := e.svc.Redirect(ctx, scan("menu", ""))
	require.NoError(t, err)
	assert.Equal(t, "https://one.example", resp.Location)

	// TTL 到期后回源
	e.mr.FastForward(time.Hour + time.Second)
	resp, err = e.svc.Redirect(ctx, scan("menu", ""))
	require.NoError(t, err)
	assert.Equal(t, "https://two.example", resp.Location)

	// 显式清除后立即生效
	require.NoError(t, e.repo.AddDestination(ctx, link.ID, &model.Destination{DestinationURL: "https://three.example"}))
	e.svc.InvalidateDestination(ctx, "menu")
	resp, err = e.svc.Redirect(ctx, scan("menu", ""))
	require.NoError(t, err)
	assert.Equal(t, "https://three.example", resp.Location)
}

func TestRedirect_OwnershipCheckedOnCacheHit(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.create(t, CreateLinkRequest{URL: "https://acme.example", CustomCode: "menu", Subdomain: "acme"})

	_, err := e.svc.Redirect(ctx, scan("menu", "acme.root.example"))
	require.NoError(t, err)
	_, ok := e.layer.GetDestination(ctx, "menu")
	require.True(t, ok)

	_, err = e.svc.Redirect(ctx, scan("menu", "other.root.example"))
	assert.ErrorIs(t, err, resolver.ErrForbiddenHost)
}

func TestRedirect_DeactivatedLinkIgnoresCachedDestination(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.create(t, CreateLinkRequest{URL: "https://acme.example", CustomCode: "menu", Subdomain: "acme"})

	_, err := e.svc.Redirect(ctx, scan("menu", "acme.root.example"))
	require.NoError(t, err)

	// 直接改库，不清缓存
	require.NoError(t, e.db.Model(&model.ShortLink{}).
		Where("short_code = ?", "menu").
		Update("is_active", false).Error)
	_, ok := e.layer.GetDestination(ctx, "menu")
	require.True(t, ok, "cache entry is still present")

	_, err = e.svc.Redirect(ctx, scan("menu", "acme.root.example"))
	assert.ErrorIs(t, err, resolver.ErrNotFound)
}

func TestRedirect_TypedDestinationNotCachedWhenKindDiffers(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.create(t, CreateLinkRequest{URL: "https://youtu.be/abc123", CustomCode: "vid", Kind: model.KindRedirect})
	e.create(t, CreateLinkRequest{URL: "https://youtu.be/abc123", CustomCode: "emb", Kind: model.KindVideoEmbed})

	resp, err := e.svc.Redirect(ctx, scan("vid", ""))
	require.NoError(t, err)
	assert.Equal(t, http.StatusFound, resp.Status)
	_, ok := e.layer.GetDestination(ctx, "vid")
	assert.False(t, ok)

	resp, err = e.svc.Redirect(ctx, scan("emb", ""))
	require.NoError(t, err)
	assert.Equal(t, model.KindVideoEmbed, resp.Kind)
	_, ok = e.layer.GetDestination(ctx, "emb")
	assert.True(t, ok)
}

func TestRedirect_PerCodeRateLimit(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.create(t, CreateLinkRequest{URL: "https://example.com", CustomCode: "hot"})

	for i := 0; i < 30; i++ {
		_, err := e.svc.Redirect(ctx, scan("hot", ""))
		require.NoError(t, err, "request %d", i+1)
	}
	_, err := e.svc.Redirect(ctx, scan("hot", ""))
	var rl *RateLimitedError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, 30, rl.Limit)
	assert.GreaterOrEqual(t, rl.RetryAfter, 1)

	// 其他 IP 不受影响
	other := scan("hot", "")
	other.IP = "198.51.100.1"
	_, err = e.svc.Redirect(ctx, other)
	assert.NoError(t, err)
}

func TestRedirect_CacheDownStillResolves(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.create(t, CreateLinkRequest{URL: "https://example.com", CustomCode: "abc123"})

	e.mr.Close()
	resp, err := e.svc.Redirect(ctx, scan("abc123", ""))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", resp.Location)
}

func TestRedirect_StoreFailureIsNotNotFound(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	sqlDB, err := e.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = e.svc.Redirect(ctx, scan("abc123", ""))
	require.Error(t, err)
	assert.NotErrorIs(t, err, resolver.ErrNotFound)
	assert.Error(t, e.svc.HealthCheck(ctx))
}

func TestRedirect_RecordsClicks(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	link := e.create(t, CreateLinkRequest{URL: "https://example.com", CustomCode: "abc123"})

	for i := 0; i < 2; i++ {
		_, err := e.svc.Redirect(ctx, scan("abc123", ""))
		require.NoError(t, err)
	}
	require.NoError(t, e.svc.WaitForClicks(ctx))

	n, err := e.repo.CountClicks(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var ev model.ClickEvent
	require.NoError(t, e.db.Where("short_code = ?", "abc123").First(&ev).Error)
	require.NotNil(t, ev.ShortLinkID)
	assert.Equal(t, link.ID, *ev.ShortLinkID)

	preview, err := e.svc.Preview(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, preview.Status)
	assert.Equal(t, "https://example.com", preview.DestinationURL)
	assert.Equal(t, int64(2), preview.Clicks)

	preview, err = e.svc.Preview(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, model.StatusNotFound, preview.Status)
}

func TestCreateLink_Validation(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	e.create(t, CreateLinkRequest{URL: "https://example.com", CustomCode: "taken"})

	_, err := e.svc.CreateLink(ctx, CreateLinkRequest{URL: "https://example.com", CustomCode: "taken"})
	assert.ErrorIs(t, err, shortcode.ErrDuplicateCode)

	_, err = e.svc.CreateLink(ctx, CreateLinkRequest{URL: "https://example.com", CustomCode: "a b"})
	assert.ErrorIs(t, err, shortcode.ErrInvalidFormat)

	_, err = e.svc.CreateLink(ctx, CreateLinkRequest{URL: "https://example.com", Kind: "hologram"})
	assert.ErrorIs(t, err, ErrInvalidKind)

	link := e.create(t, CreateLinkRequest{URL: "https://example.com", Subdomain: " ACME "})
	assert.Len(t, link.ShortCode, shortcode.Length)
	require.NotNil(t, link.LockedSubdomain)
	assert.Equal(t, "acme", *link.LockedSubdomain)

	assert.ErrorIs(t, e.svc.SetLinkActive(ctx, "missing", false), resolver.ErrNotFound)
}
