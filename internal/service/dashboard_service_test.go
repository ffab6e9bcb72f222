package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	"github.com/noah-isme/lesson-plan-api/internal/models"
)

type planCounterStub struct {
	counts     []models.PlanStatusCount
	lastFilter models.PlanFilter
	calls      int
}

func (p *planCounterStub) CountByStatus(ctx context.Context, filter models.PlanFilter) ([]models.PlanStatusCount, error) {
	p.calls++
	p.lastFilter = filter
	return p.counts, nil
}

type cacheStub struct {
	entries map[string][]byte
	hits    int
	sets    int
}

func newCacheStub() *cacheStub {
	return &cacheStub{entries: make(map[string][]byte)}
}

func (c *cacheStub) Enabled() bool { return true }

func (c *cacheStub) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	raw, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(raw, dest)
}

func (c *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	c.sets++
	return nil
}

func sampleCounts() []models.PlanStatusCount {
	return []models.PlanStatusCount{
		{Status: models.PlanStatusDraft, Count: 3},
		{Status: models.PlanStatusPendingAnalyst, Count: 2},
		{Status: models.PlanStatusAnalystReview, Count: 1},
		{Status: models.PlanStatusReturnedByAnalyst, Count: 2},
		{Status: models.PlanStatusPendingCoordinator, Count: 1},
		{Status: models.PlanStatusReturnedByCoordinator, Count: 1},
		{Status: models.PlanStatusApproved, Count: 5},
	}
}

func TestDashboardOverviewFoldsBuckets(t *testing.T) {
	counter := &planCounterStub{counts: sampleCounts()}
	svc := NewDashboardService(counter, nil, time.Minute, nil)

	overview, cacheHit, err := svc.Overview(context.Background(), dto.DashboardQuery{PeriodID: "p-1"}, coordinatorClaims())
	require.NoError(t, err)
	require.False(t, cacheHit)
	require.Equal(t, 15, overview.Total)
	require.Equal(t, 5, overview.Approved)
	require.Equal(t, 4, overview.InReview)
	require.Equal(t, 3, overview.Returned)
	require.Equal(t, 3, overview.Draft)
	require.Len(t, overview.ByStatus, 7)
	require.Equal(t, "p-1", overview.PeriodID)
	require.False(t, overview.GeneratedAt.IsZero())
}

func TestDashboardTeacherScopedToOwnPlans(t *testing.T) {
	counter := &planCounterStub{counts: nil}
	svc := NewDashboardService(counter, nil, time.Minute, nil)

	_, _, err := svc.Overview(context.Background(), dto.DashboardQuery{AuthorID: "someone-else"}, teacherClaims("author-1"))
	require.NoError(t, err)
	require.Equal(t, "author-1", counter.lastFilter.AuthorID)
}

func TestDashboardCachesProjection(t *testing.T) {
	counter := &planCounterStub{counts: sampleCounts()}
	cache := newCacheStub()
	svc := NewDashboardService(counter, cache, time.Minute, nil)

	first, cacheHit, err := svc.Overview(context.Background(), dto.DashboardQuery{ClassID: "class-1"}, coordinatorClaims())
	require.NoError(t, err)
	require.False(t, cacheHit)
	require.Equal(t, 1, counter.calls)
	require.Equal(t, 1, cache.sets)

	second, cacheHit, err := svc.Overview(context.Background(), dto.DashboardQuery{ClassID: "class-1"}, coordinatorClaims())
	require.NoError(t, err)
	require.True(t, cacheHit)
	require.Equal(t, 1, counter.calls, "second read served from cache")
	require.Equal(t, 1, cache.hits)
	require.Equal(t, first.Total, second.Total)
}

func TestDashboardDistinctScopesDistinctCacheKeys(t *testing.T) {
	counter := &planCounterStub{counts: sampleCounts()}
	cache := newCacheStub()
	svc := NewDashboardService(counter, cache, time.Minute, nil)

	_, _, err := svc.Overview(context.Background(), dto.DashboardQuery{ClassID: "class-1"}, coordinatorClaims())
	require.NoError(t, err)
	_, _, err = svc.Overview(context.Background(), dto.DashboardQuery{ClassID: "class-2"}, coordinatorClaims())
	require.NoError(t, err)
	require.Equal(t, 2, counter.calls)
	require.Len(t, cache.entries, 2)
}
