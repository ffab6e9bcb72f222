package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	"github.com/noah-isme/lesson-plan-api/internal/models"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
)

type dashboardPlanCounter interface {
	CountByStatus(ctx context.Context, filter models.PlanFilter) ([]models.PlanStatusCount, error)
}

type dashboardCache interface {
	Enabled() bool
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// DashboardService projects plan rows into status distributions for
// the review dashboards. Projections are cheap aggregate reads and are
// cached briefly, so a burst of dashboard refreshes hits the database
// once.
type DashboardService struct {
	plans    dashboardPlanCounter
	cache    dashboardCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewDashboardService constructs the service.
func NewDashboardService(plans dashboardPlanCounter, cache dashboardCache, cacheTTL time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	return &DashboardService{plans: plans, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// Overview folds the scoped plans into a status distribution. Teachers
// only see their own plans regardless of the requested scope. The bool
// reports whether the projection came from cache.
func (s *DashboardService) Overview(ctx context.Context, query dto.DashboardQuery, actor *models.JWTClaims) (*dto.PlanDashboardResponse, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RoleTeacher {
		query.AuthorID = actor.UserID
	}

	cacheKey := s.cacheKey(query)
	if s.cache != nil && s.cache.Enabled() {
		var cached dto.PlanDashboardResponse
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	counts, err := s.plans.CountByStatus(ctx, models.PlanFilter{
		AuthorID: query.AuthorID,
		ClassID:  query.ClassID,
		PeriodID: query.PeriodID,
	})
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate plans")
	}

	resp := fold(counts)
	resp.PeriodID = query.PeriodID
	resp.ClassID = query.ClassID
	resp.GeneratedAt = time.Now().UTC()

	if s.cache != nil && s.cache.Enabled() {
		if err := s.cache.Set(ctx, cacheKey, resp, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache dashboard projection", zap.Error(err))
		}
	}
	return resp, false, nil
}

func fold(counts []models.PlanStatusCount) *dto.PlanDashboardResponse {
	resp := &dto.PlanDashboardResponse{ByStatus: counts}
	for _, c := range counts {
		resp.Total += c.Count
		switch c.Status {
		case models.PlanStatusDraft:
			resp.Draft += c.Count
		case models.PlanStatusApproved:
			resp.Approved += c.Count
		case models.PlanStatusReturnedByAnalyst, models.PlanStatusReturnedByCoordinator:
			resp.Returned += c.Count
		case models.PlanStatusPendingAnalyst, models.PlanStatusAnalystReview, models.PlanStatusPendingCoordinator:
			resp.InReview += c.Count
		}
	}
	return resp
}

func (s *DashboardService) cacheKey(query dto.DashboardQuery) string {
	return fmt.Sprintf("dashboard:plans:%s:%s:%s", query.PeriodID, query.ClassID, query.AuthorID)
}
