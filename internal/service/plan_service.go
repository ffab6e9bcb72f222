package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	"github.com/noah-isme/lesson-plan-api/internal/models"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
)

type planStore interface {
	Create(ctx context.Context, plan *models.Plan) error
	GetByID(ctx context.Context, id string) (*models.Plan, error)
	GetByClassAndPeriod(ctx context.Context, classID, periodID string) (*models.Plan, error)
	List(ctx context.Context, filter models.PlanFilter) ([]models.Plan, error)
}

type planDocumentLister interface {
	ListByPlan(ctx context.Context, planID string) ([]models.Document, error)
}

type planCommentLister interface {
	ListByDocument(ctx context.Context, documentID string) ([]models.Comment, error)
}

type planHistoryAppender interface {
	Append(ctx context.Context, entry *models.PlanHistoryEntry) error
}

type periodUnlockChecker interface {
	Unlocked(ctx context.Context, classID, periodID string) (bool, error)
}

// PlanService reads and opens plan aggregates. Status mutation lives in
// the workflow service exclusively.
type PlanService struct {
	repo      planStore
	documents planDocumentLister
	comments  planCommentLister
	history   planHistoryAppender
	periods   periodUnlockChecker
	audit     auditLogger
	logger    *zap.Logger
}

// NewPlanService constructs the service.
func NewPlanService(repo planStore, documents planDocumentLister, comments planCommentLister, history planHistoryAppender, periods periodUnlockChecker, audit auditLogger, logger *zap.Logger) *PlanService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlanService{
		repo:      repo,
		documents: documents,
		comments:  comments,
		history:   history,
		periods:   periods,
		audit:     audit,
		logger:    logger,
	}
}

// Open returns the author's plan for the class/period pair, creating a
// DRAFT one on first open. Opening requires the period to be unlocked
// for the class.
func (s *PlanService) Open(ctx context.Context, req dto.OpenPlanRequest, actor *models.JWTClaims) (*models.Plan, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only authors open plans")
	}

	existing, err := s.repo.GetByClassAndPeriod(ctx, req.ClassID, req.PeriodID)
	if err == nil {
		if existing.AuthorID != actor.UserID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "plan belongs to another author")
		}
		return s.attachDocuments(ctx, existing)
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}

	if s.periods != nil {
		unlocked, err := s.periods.Unlocked(ctx, req.ClassID, req.PeriodID)
		if err != nil {
			return nil, err
		}
		if !unlocked {
			return nil, appErrors.Clone(appErrors.ErrValidation, "period is locked until the prior period is approved")
		}
	}

	plan := &models.Plan{
		AuthorID: actor.UserID,
		ClassID:  req.ClassID,
		PeriodID: req.PeriodID,
		Status:   models.PlanStatusDraft,
	}
	if err := s.repo.Create(ctx, plan); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create plan")
	}
	if s.history != nil {
		entry := &models.PlanHistoryEntry{
			PlanID:     plan.ID,
			Action:     models.PlanActionCreated,
			ActorID:    actor.UserID,
			ActorName:  actor.FullName,
			ActorRole:  actor.Role,
			FromStatus: models.PlanStatusDraft,
			ToStatus:   models.PlanStatusDraft,
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.history.Append(ctx, entry); err != nil {
			s.logger.Warn("failed to record plan creation", zap.Error(err))
		}
	}
	s.emitAudit(ctx, actor, plan)
	return plan, nil
}

// Get returns the plan aggregate with documents and their comments.
func (s *PlanService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.Plan, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	plan, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if actor.Role == models.RoleTeacher && plan.AuthorID != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	return s.attachDocuments(ctx, plan)
}

// List returns plans visible to the actor. Authors see their own plans;
// reviewer and admin roles see every plan matching the filter.
func (s *PlanService) List(ctx context.Context, query dto.PlanQuery, actor *models.JWTClaims) ([]models.Plan, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.PlanFilter{
		Status:   query.Status,
		ClassID:  query.ClassID,
		PeriodID: query.PeriodID,
		AuthorID: query.AuthorID,
		Limit:    query.Limit,
		Offset:   query.Offset,
	}
	switch actor.Role {
	case models.RoleTeacher:
		filter.AuthorID = actor.UserID
	case models.RoleAnalyst, models.RoleCoordinator, models.RoleAdmin, models.RoleSuperAdmin:
		// full visibility
	default:
		return nil, appErrors.ErrForbidden
	}
	plans, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list plans")
	}
	return plans, nil
}

func (s *PlanService) attachDocuments(ctx context.Context, plan *models.Plan) (*models.Plan, error) {
	if s.documents == nil {
		return plan, nil
	}
	docs, err := s.documents.ListByPlan(ctx, plan.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	if s.comments != nil {
		for i := range docs {
			comments, err := s.comments.ListByDocument(ctx, docs[i].ID)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list comments")
			}
			docs[i].Comments = comments
		}
	}
	plan.Documents = docs
	return plan, nil
}

func (s *PlanService) emitAudit(ctx context.Context, actor *models.JWTClaims, plan *models.Plan) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"classId": plan.ClassID, "periodId": plan.PeriodID})
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionPlanOpen,
		Resource:   "plan",
		ResourceID: &plan.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "plan-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
