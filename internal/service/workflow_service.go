package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	"github.com/noah-isme/lesson-plan-api/internal/models"
	"github.com/noah-isme/lesson-plan-api/internal/repository"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
)

// WorkflowCommand names one role-scoped transition request.
type WorkflowCommand string

const (
	CommandSubmit             WorkflowCommand = "submit"
	CommandStartAnalysis      WorkflowCommand = "startAnalysis"
	CommandApproveAnalyst     WorkflowCommand = "approveAsAnalyst"
	CommandReturnAnalyst      WorkflowCommand = "returnAsAnalyst"
	CommandApproveCoordinator WorkflowCommand = "approveAsCoordinator"
	CommandReturnCoordinator  WorkflowCommand = "returnAsCoordinator"
)

// WorkflowInput carries the optional payload of a transition command.
type WorkflowInput struct {
	Destination models.ReturnDestination
	Reason      string
	Comments    []dto.DocumentCommentInput
}

// TransitionRule is one row of the legal-transition table. The set of
// rules fully enumerates which {status, role, command} triples are
// accepted and what each commits.
type TransitionRule struct {
	Command        WorkflowCommand
	Role           models.UserRole
	From           []models.PlanStatus
	To             models.PlanStatus
	Action         models.PlanAction
	AuthorOnly     bool
	SetSubmittedAt bool
	SetApprovedAt  bool
}

var transitionRules = []TransitionRule{
	{
		Command: CommandSubmit,
		Role:    models.RoleTeacher,
		From: []models.PlanStatus{
			models.PlanStatusDraft,
			models.PlanStatusReturnedByAnalyst,
			models.PlanStatusReturnedByCoordinator,
		},
		To:             models.PlanStatusPendingAnalyst,
		Action:         models.PlanActionSubmitted,
		AuthorOnly:     true,
		SetSubmittedAt: true,
	},
	{
		Command: CommandStartAnalysis,
		Role:    models.RoleAnalyst,
		From:    []models.PlanStatus{models.PlanStatusPendingAnalyst},
		To:      models.PlanStatusAnalystReview,
		Action:  models.PlanActionAnalysisStarted,
	},
	{
		Command: CommandApproveAnalyst,
		Role:    models.RoleAnalyst,
		From: []models.PlanStatus{
			models.PlanStatusPendingAnalyst,
			models.PlanStatusAnalystReview,
		},
		To:     models.PlanStatusPendingCoordinator,
		Action: models.PlanActionApprovedAnalyst,
	},
	{
		Command: CommandReturnAnalyst,
		Role:    models.RoleAnalyst,
		From: []models.PlanStatus{
			models.PlanStatusPendingAnalyst,
			models.PlanStatusAnalystReview,
		},
		To:     models.PlanStatusReturnedByAnalyst,
		Action: models.PlanActionReturnedAnalyst,
	},
	{
		Command:       CommandApproveCoordinator,
		Role:          models.RoleCoordinator,
		From:          []models.PlanStatus{models.PlanStatusPendingCoordinator},
		To:            models.PlanStatusApproved,
		Action:        models.PlanActionApprovedCoordinator,
		SetApprovedAt: true,
	},
	{
		// To is resolved per destination: AUTHOR lands on
		// RETURNED_BY_COORDINATOR, ANALYST re-enters PENDING_ANALYST.
		Command: CommandReturnCoordinator,
		Role:    models.RoleCoordinator,
		From:    []models.PlanStatus{models.PlanStatusPendingCoordinator},
		To:      models.PlanStatusReturnedByCoordinator,
		Action:  models.PlanActionReturnedCoordinator,
	},
}

// Rules exposes the transition table for enumeration in tests and docs.
func Rules() []TransitionRule {
	out := make([]TransitionRule, len(transitionRules))
	copy(out, transitionRules)
	return out
}

func findRule(command WorkflowCommand) *TransitionRule {
	for i := range transitionRules {
		if transitionRules[i].Command == command {
			return &transitionRules[i]
		}
	}
	return nil
}

type workflowPlanStore interface {
	GetByID(ctx context.Context, id string) (*models.Plan, error)
	Transition(ctx context.Context, params repository.TransitionParams) error
}

type workflowDocumentStore interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
	CountByPlan(ctx context.Context, planID string) (int, error)
}

type workflowCommentStore interface {
	Create(ctx context.Context, comment *models.Comment) error
	CountUnresolvedByPlan(ctx context.Context, planID string) (int, error)
}

type historyStore interface {
	Append(ctx context.Context, entry *models.PlanHistoryEntry) error
	ListByPlan(ctx context.Context, planID string) ([]models.PlanHistoryEntry, error)
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// WorkflowService is the state machine over plan statuses. Every command
// is a read-validate-write cycle ending in a conditional status write;
// concurrent writers lose with a conflict, never a silent overwrite.
type WorkflowService struct {
	plans     workflowPlanStore
	documents workflowDocumentStore
	comments  workflowCommentStore
	history   historyStore
	audit     auditLogger
	logger    *zap.Logger
	now       func() time.Time
}

// NewWorkflowService constructs the service.
func NewWorkflowService(plans workflowPlanStore, documents workflowDocumentStore, comments workflowCommentStore, history historyStore, audit auditLogger, logger *zap.Logger) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowService{
		plans:     plans,
		documents: documents,
		comments:  comments,
		history:   history,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// Execute runs one workflow command against a plan.
func (s *WorkflowService) Execute(ctx context.Context, planID string, command WorkflowCommand, input WorkflowInput, actor *models.JWTClaims) (*models.Plan, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	rule := findRule(command)
	if rule == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown workflow command")
	}
	if actor.Role != rule.Role {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role not allowed to run this command")
	}

	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if rule.AuthorOnly && plan.AuthorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the plan author may run this command")
	}
	if !statusIn(plan.Status, rule.From) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "plan is not in a state accepting this command")
	}

	target := rule.To
	if command == CommandReturnCoordinator {
		switch input.Destination {
		case models.ReturnToAuthor:
			target = models.PlanStatusReturnedByCoordinator
		case models.ReturnToAnalyst:
			target = models.PlanStatusPendingAnalyst
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, "destination must be AUTHOR or ANALYST")
		}
	}

	if err := s.checkGuard(ctx, plan, command, input, actor); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	params := repository.TransitionParams{
		ID:             plan.ID,
		FromStatus:     plan.Status,
		ToStatus:       target,
		Now:            now,
		SetSubmittedAt: rule.SetSubmittedAt,
		SetApprovedAt:  rule.SetApprovedAt,
	}
	if err := s.plans.Transition(ctx, params); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "plan status changed concurrently, refetch and retry")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit transition")
	}

	// The status write is committed; history and audit failures below are
	// logged, never rolled back.
	entry := &models.PlanHistoryEntry{
		PlanID:     plan.ID,
		Action:     rule.Action,
		ActorID:    actor.UserID,
		ActorName:  actor.FullName,
		ActorRole:  actor.Role,
		FromStatus: plan.Status,
		ToStatus:   target,
		Detail:     buildDetail(command, input),
		CreatedAt:  now,
	}
	if err := s.history.Append(ctx, entry); err != nil {
		s.logger.Warn("history append failed after committed transition",
			zap.String("plan_id", plan.ID),
			zap.String("action", string(rule.Action)),
			zap.Error(err))
	}
	s.emitAudit(ctx, actor, plan.ID, plan.Status, target)

	fromStatus := plan.Status
	plan.Status = target
	plan.UpdatedAt = now
	if rule.SetSubmittedAt {
		plan.SubmittedAt = &now
	}
	if rule.SetApprovedAt {
		plan.ApprovedAt = &now
	}
	s.logger.Info("plan transition committed",
		zap.String("plan_id", plan.ID),
		zap.String("command", string(command)),
		zap.String("from", string(fromStatus)),
		zap.String("to", string(target)))
	return plan, nil
}

// History returns the ordered trail of committed actions for a plan.
func (s *WorkflowService) History(ctx context.Context, planID string) ([]models.PlanHistoryEntry, error) {
	entries, err := s.history.ListByPlan(ctx, planID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list history")
	}
	return entries, nil
}

func (s *WorkflowService) checkGuard(ctx context.Context, plan *models.Plan, command WorkflowCommand, input WorkflowInput, actor *models.JWTClaims) error {
	switch command {
	case CommandSubmit:
		count, err := s.documents.CountByPlan(ctx, plan.ID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count documents")
		}
		if count == 0 {
			return appErrors.Clone(appErrors.ErrValidation, "plan has no documents attached")
		}
	case CommandReturnAnalyst:
		added, err := s.attachReturnComments(ctx, plan, input.Comments, actor)
		if err != nil {
			return err
		}
		if added == 0 {
			existing, err := s.comments.CountUnresolvedByPlan(ctx, plan.ID)
			if err != nil {
				return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count comments")
			}
			if existing == 0 {
				return appErrors.Clone(appErrors.ErrValidation, "returning a plan requires at least one comment")
			}
		}
	case CommandReturnCoordinator:
		added, err := s.attachReturnComments(ctx, plan, input.Comments, actor)
		if err != nil {
			return err
		}
		if added == 0 && strings.TrimSpace(input.Reason) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "returning a plan requires a reason or at least one comment")
		}
	}
	return nil
}

// attachReturnComments persists the comments supplied with a return
// action, after checking each target document belongs to the plan.
func (s *WorkflowService) attachReturnComments(ctx context.Context, plan *models.Plan, inputs []dto.DocumentCommentInput, actor *models.JWTClaims) (int, error) {
	added := 0
	for _, in := range inputs {
		text := strings.TrimSpace(in.Text)
		if text == "" {
			continue
		}
		if len([]rune(text)) > maxCommentLength {
			return added, appErrors.Clone(appErrors.ErrValidation, "comment exceeds maximum length")
		}
		doc, err := s.documents.GetByID(ctx, in.DocumentID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return added, appErrors.Clone(appErrors.ErrValidation, "comment references an unknown document")
			}
			return added, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
		}
		if doc.PlanID != plan.ID {
			return added, appErrors.Clone(appErrors.ErrValidation, "comment references a document of another plan")
		}
		comment := &models.Comment{
			DocumentID: doc.ID,
			AuthorID:   actor.UserID,
			AuthorName: actor.FullName,
			Text:       text,
		}
		if err := s.comments.Create(ctx, comment); err != nil {
			return added, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create return comment")
		}
		added++
	}
	return added, nil
}

func (s *WorkflowService) emitAudit(ctx context.Context, actor *models.JWTClaims, planID string, from, to models.PlanStatus) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"from": string(from), "to": string(to)})
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionPlanTransition,
		Resource:   "plan",
		ResourceID: &planID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "workflow-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func buildDetail(command WorkflowCommand, input WorkflowInput) *string {
	if command != CommandReturnCoordinator {
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"destination": string(input.Destination),
		"reason":      strings.TrimSpace(input.Reason),
	})
	if err != nil {
		return nil
	}
	detail := string(payload)
	return &detail
}

func statusIn(status models.PlanStatus, set []models.PlanStatus) bool {
	for _, candidate := range set {
		if status == candidate {
			return true
		}
	}
	return false
}
