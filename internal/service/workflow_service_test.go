package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	"github.com/noah-isme/lesson-plan-api/internal/models"
	"github.com/noah-isme/lesson-plan-api/internal/repository"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
)

type planRepoStub struct {
	plans       map[string]*models.Plan
	transitions []repository.TransitionParams
	staleOn     map[string]bool
}

func newPlanRepoStub() *planRepoStub {
	return &planRepoStub{plans: make(map[string]*models.Plan), staleOn: make(map[string]bool)}
}

func (p *planRepoStub) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	if plan, ok := p.plans[id]; ok {
		copy := *plan
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (p *planRepoStub) Transition(ctx context.Context, params repository.TransitionParams) error {
	p.transitions = append(p.transitions, params)
	plan, ok := p.plans[params.ID]
	if !ok || plan.Status != params.FromStatus || p.staleOn[params.ID] {
		return sql.ErrNoRows
	}
	plan.Status = params.ToStatus
	plan.UpdatedAt = params.Now
	if params.SetSubmittedAt {
		now := params.Now
		plan.SubmittedAt = &now
	}
	if params.SetApprovedAt {
		now := params.Now
		plan.ApprovedAt = &now
	}
	return nil
}

type documentRepoStub struct {
	documents map[string]*models.Document
	byPlan    map[string]int
}

func newDocumentRepoStub() *documentRepoStub {
	return &documentRepoStub{documents: make(map[string]*models.Document), byPlan: make(map[string]int)}
}

func (d *documentRepoStub) GetByID(ctx context.Context, id string) (*models.Document, error) {
	if doc, ok := d.documents[id]; ok {
		copy := *doc
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (d *documentRepoStub) CountByPlan(ctx context.Context, planID string) (int, error) {
	return d.byPlan[planID], nil
}

type commentRepoStub struct {
	created    []*models.Comment
	unresolved map[string]int
}

func newCommentRepoStub() *commentRepoStub {
	return &commentRepoStub{unresolved: make(map[string]int)}
}

func (c *commentRepoStub) Create(ctx context.Context, comment *models.Comment) error {
	c.created = append(c.created, comment)
	return nil
}

func (c *commentRepoStub) CountUnresolvedByPlan(ctx context.Context, planID string) (int, error) {
	return c.unresolved[planID] + len(c.created), nil
}

type historyRepoStub struct {
	entries []*models.PlanHistoryEntry
	failing bool
}

func (h *historyRepoStub) Append(ctx context.Context, entry *models.PlanHistoryEntry) error {
	if h.failing {
		return sql.ErrConnDone
	}
	h.entries = append(h.entries, entry)
	return nil
}

func (h *historyRepoStub) ListByPlan(ctx context.Context, planID string) ([]models.PlanHistoryEntry, error) {
	out := make([]models.PlanHistoryEntry, 0, len(h.entries))
	for _, e := range h.entries {
		if e.PlanID == planID {
			out = append(out, *e)
		}
	}
	return out, nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func teacherClaims(userID string) *models.JWTClaims {
	return &models.JWTClaims{UserID: userID, Role: models.RoleTeacher, FullName: "Teacher One"}
}

func analystClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "analyst-1", Role: models.RoleAnalyst, FullName: "Analyst One"}
}

func coordinatorClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "coord-1", Role: models.RoleCoordinator, FullName: "Coordinator One"}
}

func newWorkflowFixture(status models.PlanStatus) (*WorkflowService, *planRepoStub, *documentRepoStub, *commentRepoStub, *historyRepoStub) {
	plans := newPlanRepoStub()
	plans.plans["plan-1"] = &models.Plan{ID: "plan-1", AuthorID: "author-1", ClassID: "class-1", PeriodID: "period-1", Status: status}
	docs := newDocumentRepoStub()
	comments := newCommentRepoStub()
	history := &historyRepoStub{}
	svc := NewWorkflowService(plans, docs, comments, history, &auditStub{}, nil)
	return svc, plans, docs, comments, history
}

func TestWorkflowSubmitHappyPath(t *testing.T) {
	svc, _, docs, _, history := newWorkflowFixture(models.PlanStatusDraft)
	docs.byPlan["plan-1"] = 2

	plan, err := svc.Execute(context.Background(), "plan-1", CommandSubmit, WorkflowInput{}, teacherClaims("author-1"))
	require.NoError(t, err)
	require.Equal(t, models.PlanStatusPendingAnalyst, plan.Status)
	require.NotNil(t, plan.SubmittedAt)
	require.Len(t, history.entries, 1)
	require.Equal(t, models.PlanActionSubmitted, history.entries[0].Action)
	require.Equal(t, models.PlanStatusDraft, history.entries[0].FromStatus)
}

func TestWorkflowSubmitRequiresDocuments(t *testing.T) {
	svc, _, _, _, history := newWorkflowFixture(models.PlanStatusDraft)

	_, err := svc.Execute(context.Background(), "plan-1", CommandSubmit, WorkflowInput{}, teacherClaims("author-1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
	require.Empty(t, history.entries)
}

func TestWorkflowSubmitOnlyAuthor(t *testing.T) {
	svc, _, docs, _, _ := newWorkflowFixture(models.PlanStatusDraft)
	docs.byPlan["plan-1"] = 1

	_, err := svc.Execute(context.Background(), "plan-1", CommandSubmit, WorkflowInput{}, teacherClaims("someone-else"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestWorkflowRoleMismatchIsForbidden(t *testing.T) {
	svc, _, _, _, _ := newWorkflowFixture(models.PlanStatusPendingAnalyst)

	_, err := svc.Execute(context.Background(), "plan-1", CommandApproveAnalyst, WorkflowInput{}, coordinatorClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestWorkflowWrongStateIsConflict(t *testing.T) {
	svc, _, _, _, _ := newWorkflowFixture(models.PlanStatusDraft)

	_, err := svc.Execute(context.Background(), "plan-1", CommandApproveAnalyst, WorkflowInput{}, analystClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestWorkflowConcurrentWriterLoses(t *testing.T) {
	svc, plans, docs, _, history := newWorkflowFixture(models.PlanStatusDraft)
	docs.byPlan["plan-1"] = 1
	plans.staleOn["plan-1"] = true

	_, err := svc.Execute(context.Background(), "plan-1", CommandSubmit, WorkflowInput{}, teacherClaims("author-1"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.Empty(t, history.entries)
}

func TestWorkflowStartAnalysisClaimsPlan(t *testing.T) {
	svc, _, _, _, _ := newWorkflowFixture(models.PlanStatusPendingAnalyst)

	plan, err := svc.Execute(context.Background(), "plan-1", CommandStartAnalysis, WorkflowInput{}, analystClaims())
	require.NoError(t, err)
	require.Equal(t, models.PlanStatusAnalystReview, plan.Status)
}

func TestWorkflowAnalystApproveFromBothStates(t *testing.T) {
	for _, status := range []models.PlanStatus{models.PlanStatusPendingAnalyst, models.PlanStatusAnalystReview} {
		svc, _, _, _, _ := newWorkflowFixture(status)
		plan, err := svc.Execute(context.Background(), "plan-1", CommandApproveAnalyst, WorkflowInput{}, analystClaims())
		require.NoError(t, err)
		require.Equal(t, models.PlanStatusPendingCoordinator, plan.Status)
	}
}

func TestWorkflowReturnAnalystRequiresComment(t *testing.T) {
	svc, _, _, _, _ := newWorkflowFixture(models.PlanStatusAnalystReview)

	_, err := svc.Execute(context.Background(), "plan-1", CommandReturnAnalyst, WorkflowInput{}, analystClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestWorkflowReturnAnalystAttachesComments(t *testing.T) {
	svc, _, docs, comments, history := newWorkflowFixture(models.PlanStatusAnalystReview)
	docs.documents["doc-1"] = &models.Document{ID: "doc-1", PlanID: "plan-1"}

	plan, err := svc.Execute(context.Background(), "plan-1", CommandReturnAnalyst, WorkflowInput{
		Comments: []dto.DocumentCommentInput{{DocumentID: "doc-1", Text: "objectives are missing"}},
	}, analystClaims())
	require.NoError(t, err)
	require.Equal(t, models.PlanStatusReturnedByAnalyst, plan.Status)
	require.Len(t, comments.created, 1)
	require.Equal(t, "analyst-1", comments.created[0].AuthorID)
	require.Len(t, history.entries, 1)
	require.Equal(t, models.PlanActionReturnedAnalyst, history.entries[0].Action)
}

func TestWorkflowReturnAnalystRejectsForeignDocument(t *testing.T) {
	svc, _, docs, _, _ := newWorkflowFixture(models.PlanStatusAnalystReview)
	docs.documents["doc-9"] = &models.Document{ID: "doc-9", PlanID: "other-plan"}

	_, err := svc.Execute(context.Background(), "plan-1", CommandReturnAnalyst, WorkflowInput{
		Comments: []dto.DocumentCommentInput{{DocumentID: "doc-9", Text: "wrong plan"}},
	}, analystClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestWorkflowApproveCoordinatorSetsApprovedAt(t *testing.T) {
	svc, _, _, _, _ := newWorkflowFixture(models.PlanStatusPendingCoordinator)

	plan, err := svc.Execute(context.Background(), "plan-1", CommandApproveCoordinator, WorkflowInput{}, coordinatorClaims())
	require.NoError(t, err)
	require.Equal(t, models.PlanStatusApproved, plan.Status)
	require.NotNil(t, plan.ApprovedAt)
}

func TestWorkflowReturnCoordinatorToAuthor(t *testing.T) {
	svc, _, _, _, history := newWorkflowFixture(models.PlanStatusPendingCoordinator)

	plan, err := svc.Execute(context.Background(), "plan-1", CommandReturnCoordinator, WorkflowInput{
		Destination: models.ReturnToAuthor,
		Reason:      "budget section incomplete",
	}, coordinatorClaims())
	require.NoError(t, err)
	require.Equal(t, models.PlanStatusReturnedByCoordinator, plan.Status)
	require.Len(t, history.entries, 1)
	require.NotNil(t, history.entries[0].Detail)
	require.Contains(t, *history.entries[0].Detail, "AUTHOR")
}

func TestWorkflowReturnCoordinatorToAnalyst(t *testing.T) {
	svc, _, _, _, history := newWorkflowFixture(models.PlanStatusPendingCoordinator)

	plan, err := svc.Execute(context.Background(), "plan-1", CommandReturnCoordinator, WorkflowInput{
		Destination: models.ReturnToAnalyst,
		Reason:      "re-check compliance",
	}, coordinatorClaims())
	require.NoError(t, err)
	require.Equal(t, models.PlanStatusPendingAnalyst, plan.Status)
	require.Contains(t, *history.entries[0].Detail, "ANALYST")
}

func TestWorkflowReturnCoordinatorNeedsReasonOrComment(t *testing.T) {
	svc, _, _, _, _ := newWorkflowFixture(models.PlanStatusPendingCoordinator)

	_, err := svc.Execute(context.Background(), "plan-1", CommandReturnCoordinator, WorkflowInput{
		Destination: models.ReturnToAuthor,
	}, coordinatorClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestWorkflowReturnCoordinatorUnknownDestination(t *testing.T) {
	svc, _, _, _, _ := newWorkflowFixture(models.PlanStatusPendingCoordinator)

	_, err := svc.Execute(context.Background(), "plan-1", CommandReturnCoordinator, WorkflowInput{
		Destination: "ELSEWHERE",
		Reason:      "nope",
	}, coordinatorClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestWorkflowApprovedIsTerminal(t *testing.T) {
	svc, _, docs, _, _ := newWorkflowFixture(models.PlanStatusApproved)
	docs.byPlan["plan-1"] = 1

	for _, tc := range []struct {
		command WorkflowCommand
		actor   *models.JWTClaims
	}{
		{CommandSubmit, teacherClaims("author-1")},
		{CommandApproveAnalyst, analystClaims()},
		{CommandApproveCoordinator, coordinatorClaims()},
	} {
		_, err := svc.Execute(context.Background(), "plan-1", tc.command, WorkflowInput{}, tc.actor)
		require.Error(t, err, string(tc.command))
		require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	}
}

func TestWorkflowHistorySurvivesAppendFailure(t *testing.T) {
	svc, plans, docs, _, history := newWorkflowFixture(models.PlanStatusDraft)
	docs.byPlan["plan-1"] = 1
	history.failing = true

	plan, err := svc.Execute(context.Background(), "plan-1", CommandSubmit, WorkflowInput{}, teacherClaims("author-1"))
	require.NoError(t, err)
	require.Equal(t, models.PlanStatusPendingAnalyst, plan.Status)
	require.Equal(t, models.PlanStatusPendingAnalyst, plans.plans["plan-1"].Status)
}

func TestWorkflowFullLifecycleHistory(t *testing.T) {
	svc, plans, docs, _, history := newWorkflowFixture(models.PlanStatusDraft)
	docs.byPlan["plan-1"] = 1
	docs.documents["doc-1"] = &models.Document{ID: "doc-1", PlanID: "plan-1"}

	steps := []struct {
		command WorkflowCommand
		input   WorkflowInput
		actor   *models.JWTClaims
		want    models.PlanStatus
	}{
		{CommandSubmit, WorkflowInput{}, teacherClaims("author-1"), models.PlanStatusPendingAnalyst},
		{CommandStartAnalysis, WorkflowInput{}, analystClaims(), models.PlanStatusAnalystReview},
		{CommandReturnAnalyst, WorkflowInput{Comments: []dto.DocumentCommentInput{{DocumentID: "doc-1", Text: "revise"}}}, analystClaims(), models.PlanStatusReturnedByAnalyst},
		{CommandSubmit, WorkflowInput{}, teacherClaims("author-1"), models.PlanStatusPendingAnalyst},
		{CommandApproveAnalyst, WorkflowInput{}, analystClaims(), models.PlanStatusPendingCoordinator},
		{CommandApproveCoordinator, WorkflowInput{}, coordinatorClaims(), models.PlanStatusApproved},
	}
	for i, step := range steps {
		plan, err := svc.Execute(context.Background(), "plan-1", step.command, step.input, step.actor)
		require.NoError(t, err, "step %d", i)
		require.Equal(t, step.want, plan.Status, "step %d", i)
	}
	require.Len(t, history.entries, len(steps))
	require.True(t, plans.plans["plan-1"].Status.Terminal())
}

func TestWorkflowRulesCoverEveryCommand(t *testing.T) {
	commands := map[WorkflowCommand]bool{}
	for _, rule := range Rules() {
		commands[rule.Command] = true
		require.True(t, rule.To.Valid())
		for _, from := range rule.From {
			require.True(t, from.Valid())
			require.False(t, from.Terminal(), "no command may leave a terminal state")
		}
	}
	require.Len(t, commands, 6)
}
