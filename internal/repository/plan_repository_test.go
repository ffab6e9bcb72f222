package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-plan-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func planRows(plan *models.Plan) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "author_id", "class_id", "period_id", "status", "submitted_at", "approved_at", "created_at", "updated_at"}).
		AddRow(plan.ID, plan.AuthorID, plan.ClassID, plan.PeriodID, string(plan.Status), nil, nil, time.Now(), time.Now())
}

func TestPlanRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewPlanRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO plans")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	plan := &models.Plan{AuthorID: "author-1", ClassID: "class-1", PeriodID: "period-1"}
	require.NoError(t, repo.Create(context.Background(), plan))
	require.NotEmpty(t, plan.ID)
	require.Equal(t, models.PlanStatusDraft, plan.Status)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, author_id, class_id, period_id, status")).
		WithArgs(plan.ID).
		WillReturnRows(planRows(plan))

	found, err := repo.GetByID(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Equal(t, plan.ID, found.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepositoryGetByClassAndPeriodMissing(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewPlanRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("FROM plans WHERE class_id = $1 AND period_id = $2")).
		WithArgs("class-1", "period-9").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByClassAndPeriod(context.Background(), "class-1", "period-9")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewPlanRepository(db)
	plan := &models.Plan{ID: "plan-1", AuthorID: "author-1", ClassID: "class-1", PeriodID: "period-1", Status: models.PlanStatusPendingAnalyst}
	mock.ExpectQuery(regexp.QuoteMeta("status IN ($1)")).
		WithArgs("PENDING_ANALYST", "author-1").
		WillReturnRows(planRows(plan))

	list, err := repo.List(context.Background(), models.PlanFilter{
		Status:   []models.PlanStatus{models.PlanStatusPendingAnalyst},
		AuthorID: "author-1",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "plan-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepositoryTransitionCommits(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewPlanRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE plans SET status =")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Transition(context.Background(), TransitionParams{
		ID:             "plan-1",
		FromStatus:     models.PlanStatusDraft,
		ToStatus:       models.PlanStatusPendingAnalyst,
		Now:            time.Now().UTC(),
		SetSubmittedAt: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepositoryTransitionStaleStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewPlanRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE plans SET status =")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Transition(context.Background(), TransitionParams{
		ID:         "plan-1",
		FromStatus: models.PlanStatusPendingCoordinator,
		ToStatus:   models.PlanStatusApproved,
		Now:        time.Now().UTC(),
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlanRepositoryCountByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewPlanRepository(db)
	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("APPROVED", 7).
		AddRow("DRAFT", 3)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM plans")).
		WithArgs("period-1").
		WillReturnRows(rows)

	counts, err := repo.CountByStatus(context.Background(), models.PlanFilter{PeriodID: "period-1"})
	require.NoError(t, err)
	require.Len(t, counts, 2)
	require.Equal(t, models.PlanStatusApproved, counts[0].Status)
	require.Equal(t, 7, counts[0].Count)
	require.NoError(t, mock.ExpectationsWereMet())
}
