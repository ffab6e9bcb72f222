package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lesson-plan-api/internal/models"
)

// PeriodRepository reads scheduling periods. Period administration is an
// external concern; this service only consumes them.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs the repository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

const periodColumns = `id, name, starts_at, ends_at, deadline, sequence, created_at`

// GetByID fetches a period by identifier.
func (r *PeriodRepository) GetByID(ctx context.Context, id string) (*models.Period, error) {
	query := fmt.Sprintf(`SELECT %s FROM periods WHERE id = $1`, periodColumns)
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// GetPredecessor returns the period immediately before the given one in
// sequence order, or sql.ErrNoRows for the first period.
func (r *PeriodRepository) GetPredecessor(ctx context.Context, id string) (*models.Period, error) {
	query := fmt.Sprintf(`SELECT %s FROM periods
	WHERE sequence = (SELECT sequence - 1 FROM periods WHERE id = $1)`, periodColumns)
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// List returns all periods in sequence order.
func (r *PeriodRepository) List(ctx context.Context) ([]models.Period, error) {
	query := fmt.Sprintf(`SELECT %s FROM periods ORDER BY sequence ASC`, periodColumns)
	var periods []models.Period
	if err := r.db.SelectContext(ctx, &periods, query); err != nil {
		return nil, fmt.Errorf("list periods: %w", err)
	}
	return periods, nil
}
