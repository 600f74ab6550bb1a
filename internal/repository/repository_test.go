package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourname/smartqr-redirect/internal/database"
	"github.com/yourname/smartqr-redirect/internal/model"
	"github.com/yourname/smartqr-redirect/internal/repository"
)

func newRepo(t *testing.T) *repository.Repository {
	t.Helper()
	db, err := database.OpenMemory(uuid.NewString())
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		_ = sqlDB.Close()
	})
	repo := repository.New(db, zap.NewNop())
	require.NoError(t, repo.AutoMigrate())
	return repo
}

func createLink(t *testing.T, repo *repository.Repository, code string) *model.ShortLink {
	t.Helper()
	link := &model.ShortLink{ShortCode: code, IsActive: true}
	require.NoError(t, repo.CreateShortLink(context.Background(), link))
	return link
}

func TestShortCodeExists(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	createLink(t, repo, "abc123")

	ok, err := repo.ShortCodeExists(ctx, "abc123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ShortCodeExists(ctx, "zzz999")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTopEligibleDestination_PriorityAndWindow(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	link := createLink(t, repo, "abc123")
	now := time.Now().UTC()
	past := now.Add(-48 * time.Hour)
	expired := now.Add(-time.Hour)
	future := now.Add(24 * time.Hour)

	// priority=1 但已过期
	require.NoError(t, repo.InsertDestination(ctx, &model.Destination{
		ShortLinkID: link.ID, DestinationURL: "https://old.example", IsActive: true,
		Priority: 1, ActiveFrom: past, ExpiresAt: &expired,
	}))
	// priority=5，永不过期
	require.NoError(t, repo.InsertDestination(ctx, &model.Destination{
		ShortLinkID: link.ID, DestinationURL: "https://current.example", IsActive: true,
		Priority: 5, ActiveFrom: past,
	}))
	// 优先级更高但尚未生效
	require.NoError(t, repo.InsertDestination(ctx, &model.Destination{
		ShortLinkID: link.ID, DestinationURL: "https://scheduled.example", IsActive: true,
		Priority: 9, ActiveFrom: future,
	}))
	// 优先级更高但已停用
	require.NoError(t, repo.InsertDestination(ctx, &model.Destination{
		ShortLinkID: link.ID, DestinationURL: "https://disabled.example", IsActive: false,
		Priority: 10, ActiveFrom: past,
	}))

	dest, err := repo.TopEligibleDestination(ctx, "abc123", now)
	require.NoError(t, err)
	assert.Equal(t, "https://current.example", dest.DestinationURL)

	// 到了计划时间后，高优先级目标生效
	dest, err = repo.TopEligibleDestination(ctx, "abc123", future.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "https://scheduled.example", dest.DestinationURL)
}

func TestTopEligibleDestination_TieBreakPrefersLatestActiveFrom(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	link := createLink(t, repo, "tie")
	now := time.Now().UTC()

	require.NoError(t, repo.InsertDestination(ctx, &model.Destination{
		ShortLinkID: link.ID, DestinationURL: "https://first.example", IsActive: true, ActiveFrom: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, repo.InsertDestination(ctx, &model.Destination{
		ShortLinkID: link.ID, DestinationURL: "https://second.example", IsActive: true, ActiveFrom: now.Add(-time.Hour),
	}))

	dest, err := repo.TopEligibleDestination(ctx, "tie", now)
	require.NoError(t, err)
	assert.Equal(t, "https://second.example", dest.DestinationURL)
}

func TestTopEligibleDestination_InactiveLinkAndMissing(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	link := createLink(t, repo, "abc123")
	require.NoError(t, repo.AddDestination(ctx, link.ID, &model.Destination{DestinationURL: "https://example.com"}))

	require.NoError(t, repo.SetShortLinkActive(ctx, "abc123", false))
	_, err := repo.TopEligibleDestination(ctx, "abc123", time.Now())
	assert.True(t, repository.IsNotFound(err))

	_, err = repo.TopEligibleDestination(ctx, "missing", time.Now())
	assert.True(t, repository.IsNotFound(err))

	assert.True(t, repository.IsNotFound(repo.SetShortLinkActive(ctx, "missing", true)))
}

func TestAddDestination_DeactivatesPrevious(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	link := createLink(t, repo, "abc123")

	require.NoError(t, repo.AddDestination(ctx, link.ID, &model.Destination{
		DestinationURL: "https://one.example", Priority: 100, ActiveFrom: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, repo.AddDestination(ctx, link.ID, &model.Destination{
		DestinationURL: "https://two.example", ActiveFrom: time.Now().Add(-time.Minute),
	}))

	dest, err := repo.TopEligibleDestination(ctx, "abc123", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "https://two.example", dest.DestinationURL, "older row was deactivated despite higher priority")
}

func TestHasSubdomainAlias(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	tenant := &model.Tenant{Name: "Acme", Subdomain: "acme", IsActive: true}
	require.NoError(t, repo.CreateTenant(ctx, tenant))
	require.NoError(t, repo.RenameTenantSubdomain(ctx, tenant.ID, "acme-corp"))

	got, err := repo.GetTenantByID(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme-corp", got.Subdomain)

	ok, err := repo.HasSubdomainAlias(ctx, tenant.ID, "acme", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.HasSubdomainAlias(ctx, tenant.ID, "acme", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "alias superseded before the cutoff is expired")

	// 旧子域名被其他租户占用后不再生效
	require.NoError(t, repo.CreateTenant(ctx, &model.Tenant{Name: "Other", Subdomain: "acme", IsActive: true}))
	ok, err = repo.HasSubdomainAlias(ctx, tenant.ID, "acme", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRecordClick(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	ev := &model.ClickEvent{ShortCode: "abc123", IP: "203.0.113.1", DestinationKind: model.KindRedirect}
	require.NoError(t, repo.RecordClick(ctx, ev))
	assert.Len(t, ev.ID, 26, "ULID assigned")

	assert.Nil(t, ev.ShortLinkID, "unknown code is still recorded")

	n, err := repo.CountClicks(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.HealthCheck(ctx))
}

func TestRecordClick_FillsLinkAndTenant(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	tenant := &model.Tenant{Name: "Acme", Subdomain: "acme", IsActive: true}
	require.NoError(t, repo.CreateTenant(ctx, tenant))
	link := &model.ShortLink{ShortCode: "menu", IsActive: true, TenantID: &tenant.ID}
	require.NoError(t, repo.CreateShortLink(ctx, link))

	ev := &model.ClickEvent{ShortCode: "menu", DestinationKind: model.KindRedirect}
	require.NoError(t, repo.RecordClick(ctx, ev))
	require.NotNil(t, ev.ShortLinkID)
	assert.Equal(t, link.ID, *ev.ShortLinkID)
	require.NotNil(t, ev.TenantID)
	assert.Equal(t, tenant.ID, *ev.TenantID)
}
