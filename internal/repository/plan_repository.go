package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lesson-plan-api/internal/models"
)

// PlanRepository persists lesson plan aggregates.
type PlanRepository struct {
	db *sqlx.DB
}

// NewPlanRepository constructs the repository.
func NewPlanRepository(db *sqlx.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, author_id, class_id, period_id, status, submitted_at, approved_at, created_at, updated_at`

// Create inserts a new plan row in DRAFT state.
func (r *PlanRepository) Create(ctx context.Context, plan *models.Plan) error {
	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Status == "" {
		plan.Status = models.PlanStatusDraft
	}
	now := time.Now().UTC()
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
	const query = `INSERT INTO plans
	(id, author_id, class_id, period_id, status, submitted_at, approved_at, created_at, updated_at)
	VALUES (:id, :author_id, :class_id, :period_id, :status, :submitted_at, :approved_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		return fmt.Errorf("create plan: %w", err)
	}
	return nil
}

// GetByID fetches a plan by identifier.
func (r *PlanRepository) GetByID(ctx context.Context, id string) (*models.Plan, error) {
	query := fmt.Sprintf(`SELECT %s FROM plans WHERE id = $1`, planColumns)
	var plan models.Plan
	if err := r.db.GetContext(ctx, &plan, query, id); err != nil {
		return nil, err
	}
	return &plan, nil
}

// GetByClassAndPeriod fetches the plan for a class/period pair, if any.
func (r *PlanRepository) GetByClassAndPeriod(ctx context.Context, classID, periodID string) (*models.Plan, error) {
	query := fmt.Sprintf(`SELECT %s FROM plans WHERE class_id = $1 AND period_id = $2`, planColumns)
	var plan models.Plan
	if err := r.db.GetContext(ctx, &plan, query, classID, periodID); err != nil {
		return nil, err
	}
	return &plan, nil
}

// List returns plans matching the filter (newest first).
func (r *PlanRepository) List(ctx context.Context, filter models.PlanFilter) ([]models.Plan, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM plans", planColumns))

	conditions := make([]string, 0, 4)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.AuthorID != "" {
		args = append(args, filter.AuthorID)
		conditions = append(conditions, fmt.Sprintf("author_id = $%d", len(args)))
	}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)))
	}
	if filter.PeriodID != "" {
		args = append(args, filter.PeriodID)
		conditions = append(conditions, fmt.Sprintf("period_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY updated_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var plans []models.Plan
	if err := r.db.SelectContext(ctx, &plans, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

// TransitionParams groups the columns written by a workflow transition.
// FromStatus is the optimistic-concurrency precondition: the UPDATE only
// matches while the row still carries it.
type TransitionParams struct {
	ID             string
	FromStatus     models.PlanStatus
	ToStatus       models.PlanStatus
	Now            time.Time
	SetSubmittedAt bool
	SetApprovedAt  bool
}

// Transition performs the compare-and-swap status write. It returns
// sql.ErrNoRows when the plan no longer carries FromStatus, which the
// service layer surfaces as a conflict.
func (r *PlanRepository) Transition(ctx context.Context, params TransitionParams) error {
	setParts := []string{
		"status = :to_status",
		"updated_at = :now",
	}
	if params.SetSubmittedAt {
		// submitted_at is set on every submit; returns never clear it.
		setParts = append(setParts, "submitted_at = :now")
	}
	if params.SetApprovedAt {
		setParts = append(setParts, "approved_at = :now")
	}
	query := fmt.Sprintf("UPDATE plans SET %s WHERE id = :id AND status = :from_status",
		strings.Join(setParts, ", "))
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":          params.ID,
		"from_status": params.FromStatus,
		"to_status":   params.ToStatus,
		"now":         params.Now,
	})
	if err != nil {
		return fmt.Errorf("transition plan status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByStatus folds plans into status buckets for the dashboard.
func (r *PlanRepository) CountByStatus(ctx context.Context, filter models.PlanFilter) ([]models.PlanStatusCount, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 3)
	builder.WriteString("SELECT status, COUNT(*) AS count FROM plans")

	conditions := make([]string, 0, 3)
	if filter.PeriodID != "" {
		args = append(args, filter.PeriodID)
		conditions = append(conditions, fmt.Sprintf("period_id = $%d", len(args)))
	}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)))
	}
	if filter.AuthorID != "" {
		args = append(args, filter.AuthorID)
		conditions = append(conditions, fmt.Sprintf("author_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" GROUP BY status ORDER BY status")

	var counts []models.PlanStatusCount
	if err := r.db.SelectContext(ctx, &counts, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("count plans by status: %w", err)
	}
	return counts, nil
}
