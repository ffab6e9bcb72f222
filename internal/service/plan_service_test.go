package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	"github.com/noah-isme/lesson-plan-api/internal/models"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
)

type planStoreStub struct {
	plans      map[string]*models.Plan
	lastFilter models.PlanFilter
}

func newPlanStoreStub() *planStoreStub {
	return &planStoreStub{plans: make(map[string]*models.Plan)}
}

func (p *planStoreStub) Create(ctx context.Context, plan *models.Plan) error {
	if plan.ID == "" {
		plan.ID = "plan-created"
	}
	p.plans[plan.ID] = plan
	return nil
}

func (p *planStoreStub) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	if plan, ok := p.plans[id]; ok {
		copy := *plan
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (p *planStoreStub) GetByClassAndPeriod(ctx context.Context, classID, periodID string) (*models.Plan, error) {
	for _, plan := range p.plans {
		if plan.ClassID == classID && plan.PeriodID == periodID {
			copy := *plan
			return &copy, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (p *planStoreStub) List(ctx context.Context, filter models.PlanFilter) ([]models.Plan, error) {
	p.lastFilter = filter
	out := make([]models.Plan, 0, len(p.plans))
	for _, plan := range p.plans {
		if filter.AuthorID != "" && plan.AuthorID != filter.AuthorID {
			continue
		}
		out = append(out, *plan)
	}
	return out, nil
}

type documentListerStub struct {
	docs map[string][]models.Document
}

func (d *documentListerStub) ListByPlan(ctx context.Context, planID string) ([]models.Document, error) {
	return d.docs[planID], nil
}

type commentListerStub struct {
	comments map[string][]models.Comment
}

func (c *commentListerStub) ListByDocument(ctx context.Context, documentID string) ([]models.Comment, error) {
	return c.comments[documentID], nil
}

type unlockStub struct {
	unlocked bool
}

func (u *unlockStub) Unlocked(ctx context.Context, classID, periodID string) (bool, error) {
	return u.unlocked, nil
}

func newPlanServiceFixture(unlocked bool) (*PlanService, *planStoreStub, *historyRepoStub) {
	store := newPlanStoreStub()
	history := &historyRepoStub{}
	docs := &documentListerStub{docs: map[string][]models.Document{}}
	comments := &commentListerStub{comments: map[string][]models.Comment{}}
	svc := NewPlanService(store, docs, comments, history, &unlockStub{unlocked: unlocked}, &auditStub{}, nil)
	return svc, store, history
}

func TestPlanOpenCreatesDraft(t *testing.T) {
	svc, store, history := newPlanServiceFixture(true)

	plan, err := svc.Open(context.Background(), dto.OpenPlanRequest{ClassID: "class-1", PeriodID: "period-1"}, teacherClaims("author-1"))
	require.NoError(t, err)
	require.Equal(t, models.PlanStatusDraft, plan.Status)
	require.Equal(t, "author-1", plan.AuthorID)
	require.Len(t, store.plans, 1)
	require.Len(t, history.entries, 1)
	require.Equal(t, models.PlanActionCreated, history.entries[0].Action)
}

func TestPlanOpenIsIdempotentForAuthor(t *testing.T) {
	svc, store, _ := newPlanServiceFixture(true)
	store.plans["plan-1"] = &models.Plan{ID: "plan-1", AuthorID: "author-1", ClassID: "class-1", PeriodID: "period-1", Status: models.PlanStatusReturnedByAnalyst}

	plan, err := svc.Open(context.Background(), dto.OpenPlanRequest{ClassID: "class-1", PeriodID: "period-1"}, teacherClaims("author-1"))
	require.NoError(t, err)
	require.Equal(t, "plan-1", plan.ID)
	require.Equal(t, models.PlanStatusReturnedByAnalyst, plan.Status)
	require.Len(t, store.plans, 1)
}

func TestPlanOpenRejectsForeignPlan(t *testing.T) {
	svc, store, _ := newPlanServiceFixture(true)
	store.plans["plan-1"] = &models.Plan{ID: "plan-1", AuthorID: "someone-else", ClassID: "class-1", PeriodID: "period-1", Status: models.PlanStatusDraft}

	_, err := svc.Open(context.Background(), dto.OpenPlanRequest{ClassID: "class-1", PeriodID: "period-1"}, teacherClaims("author-1"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestPlanOpenLockedPeriod(t *testing.T) {
	svc, _, _ := newPlanServiceFixture(false)

	_, err := svc.Open(context.Background(), dto.OpenPlanRequest{ClassID: "class-1", PeriodID: "period-2"}, teacherClaims("author-1"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestPlanOpenTeachersOnly(t *testing.T) {
	svc, _, _ := newPlanServiceFixture(true)

	_, err := svc.Open(context.Background(), dto.OpenPlanRequest{ClassID: "class-1", PeriodID: "period-1"}, analystClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestPlanGetAttachesDocumentsAndComments(t *testing.T) {
	svc, store, _ := newPlanServiceFixture(true)
	store.plans["plan-1"] = &models.Plan{ID: "plan-1", AuthorID: "author-1", Status: models.PlanStatusDraft}
	svc.documents = &documentListerStub{docs: map[string][]models.Document{
		"plan-1": {{ID: "doc-1", PlanID: "plan-1"}},
	}}
	svc.comments = &commentListerStub{comments: map[string][]models.Comment{
		"doc-1": {{ID: "c-1", DocumentID: "doc-1", Text: "note"}},
	}}

	plan, err := svc.Get(context.Background(), "plan-1", teacherClaims("author-1"))
	require.NoError(t, err)
	require.Len(t, plan.Documents, 1)
	require.Len(t, plan.Documents[0].Comments, 1)
}

func TestPlanGetScopesTeachersToOwnPlans(t *testing.T) {
	svc, store, _ := newPlanServiceFixture(true)
	store.plans["plan-1"] = &models.Plan{ID: "plan-1", AuthorID: "someone-else", Status: models.PlanStatusDraft}

	_, err := svc.Get(context.Background(), "plan-1", teacherClaims("author-1"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Get(context.Background(), "plan-1", analystClaims())
	require.NoError(t, err)
}

func TestPlanListForcesAuthorScopeForTeachers(t *testing.T) {
	svc, store, _ := newPlanServiceFixture(true)
	store.plans["plan-1"] = &models.Plan{ID: "plan-1", AuthorID: "author-1"}
	store.plans["plan-2"] = &models.Plan{ID: "plan-2", AuthorID: "other"}

	plans, err := svc.List(context.Background(), dto.PlanQuery{AuthorID: "other"}, teacherClaims("author-1"))
	require.NoError(t, err)
	require.Len(t, plans, 1)
	require.Equal(t, "author-1", store.lastFilter.AuthorID)

	plans, err = svc.List(context.Background(), dto.PlanQuery{}, coordinatorClaims())
	require.NoError(t, err)
	require.Len(t, plans, 2)
}
