package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lesson-plan-api/internal/models"
)

// HistoryRepository appends and reads the immutable workflow trail.
// There is deliberately no update or delete surface.
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository constructs the repository.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const historyColumns = `id, plan_id, action, actor_id, actor_name, actor_role, from_status, to_status, detail, created_at`

// Append inserts one history entry.
func (r *HistoryRepository) Append(ctx context.Context, entry *models.PlanHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO plan_history
	(id, plan_id, action, actor_id, actor_name, actor_role, from_status, to_status, detail, created_at)
	VALUES (:id, :plan_id, :action, :actor_id, :actor_name, :actor_role, :from_status, :to_status, :detail, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append history entry: %w", err)
	}
	return nil
}

// ListByPlan returns a plan's history in commit order.
func (r *HistoryRepository) ListByPlan(ctx context.Context, planID string) ([]models.PlanHistoryEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM plan_history WHERE plan_id = $1 ORDER BY created_at ASC, id ASC`, historyColumns)
	var entries []models.PlanHistoryEntry
	if err := r.db.SelectContext(ctx, &entries, query, planID); err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}
