package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-plan-api/internal/models"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
)

type periodStore interface {
	GetByID(ctx context.Context, id string) (*models.Period, error)
	GetPredecessor(ctx context.Context, id string) (*models.Period, error)
	List(ctx context.Context) ([]models.Period, error)
}

type periodPlanLookup interface {
	GetByClassAndPeriod(ctx context.Context, classID, periodID string) (*models.Plan, error)
}

// PeriodService resolves planning periods and the sequential unlock
// rule: a period opens for a class once the class's plan for the
// preceding period is approved. The first period is always open.
type PeriodService struct {
	repo   periodStore
	plans  periodPlanLookup
	logger *zap.Logger
}

// NewPeriodService constructs the service.
func NewPeriodService(repo periodStore, plans periodPlanLookup, logger *zap.Logger) *PeriodService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PeriodService{repo: repo, plans: plans, logger: logger}
}

// Get returns a single period.
func (s *PeriodService) Get(ctx context.Context, id string) (*models.Period, error) {
	period, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load period")
	}
	return period, nil
}

// ListForClass returns all periods annotated with the class's unlock
// state, in sequence order.
func (s *PeriodService) ListForClass(ctx context.Context, classID string) ([]models.PeriodView, error) {
	periods, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list periods")
	}
	views := make([]models.PeriodView, 0, len(periods))
	priorApproved := true
	for _, p := range periods {
		unlocked := priorApproved
		views = append(views, models.PeriodView{Period: p, Unlocked: unlocked})
		priorApproved, err = s.planApproved(ctx, classID, p.ID)
		if err != nil {
			return nil, err
		}
	}
	return views, nil
}

// Unlocked reports whether the class may open a plan in the period.
func (s *PeriodService) Unlocked(ctx context.Context, classID, periodID string) (bool, error) {
	period, err := s.Get(ctx, periodID)
	if err != nil {
		return false, err
	}
	if period.Sequence <= 1 {
		return true, nil
	}
	prev, err := s.repo.GetPredecessor(ctx, periodID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load preceding period")
	}
	return s.planApproved(ctx, classID, prev.ID)
}

func (s *PeriodService) planApproved(ctx context.Context, classID, periodID string) (bool, error) {
	plan, err := s.plans.GetByClassAndPeriod(ctx, classID, periodID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	return plan.Status == models.PlanStatusApproved, nil
}
