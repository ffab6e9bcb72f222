package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lesson-plan-api/internal/models"
)

// DocumentRepository persists plan attachments.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, plan_id, kind, file_name, file_path, mime_type, size_bytes, external_url, preview_status, preview_path, preview_error, uploaded_by, created_at`

// Create inserts a new document row.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO documents
	(id, plan_id, kind, file_name, file_path, mime_type, size_bytes, external_url, preview_status, preview_path, preview_error, uploaded_by, created_at)
	VALUES (:id, :plan_id, :kind, :file_name, :file_path, :mime_type, :size_bytes, :external_url, :preview_status, :preview_path, :preview_error, :uploaded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID fetches a document by identifier.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns)
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListByPlan returns all attachments of one plan, oldest first.
func (r *DocumentRepository) ListByPlan(ctx context.Context, planID string) ([]models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE plan_id = $1 ORDER BY created_at ASC`, documentColumns)
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, planID); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// CountByPlan returns the number of attachments a plan carries.
func (r *DocumentRepository) CountByPlan(ctx context.Context, planID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM documents WHERE plan_id = $1`, planID); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return count, nil
}

// ListPendingByPlan returns documents of a plan still awaiting conversion.
func (r *DocumentRepository) ListPendingByPlan(ctx context.Context, planID string) ([]models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE plan_id = $1 AND preview_status = $2 ORDER BY created_at ASC`, documentColumns)
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, planID, models.PreviewStatusPending); err != nil {
		return nil, fmt.Errorf("list pending documents: %w", err)
	}
	return docs, nil
}

// ListPendingOlderThan returns documents stuck in PENDING since before the
// cutoff, used by the startup requeue.
func (r *DocumentRepository) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE preview_status = $1 AND created_at < $2 ORDER BY created_at ASC LIMIT %d`, documentColumns, limit)
	var docs []models.Document
	if err := r.db.SelectContext(ctx, &docs, query, models.PreviewStatusPending, cutoff); err != nil {
		return nil, fmt.Errorf("list stale pending documents: %w", err)
	}
	return docs, nil
}

// SettlePreviewParams carries the terminal preview outcome.
type SettlePreviewParams struct {
	ID           string
	Status       models.PreviewStatus
	PreviewPath  *string
	PreviewError *string
}

// SettlePreview moves a document out of PENDING exactly once. The status
// predicate guarantees a document never settles twice and never returns
// to PENDING; a second settle attempt gets sql.ErrNoRows.
func (r *DocumentRepository) SettlePreview(ctx context.Context, params SettlePreviewParams) error {
	const query = `UPDATE documents
	SET preview_status = :status, preview_path = :preview_path, preview_error = :preview_error
	WHERE id = :id AND preview_status = :pending`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":            params.ID,
		"status":        params.Status,
		"preview_path":  params.PreviewPath,
		"preview_error": params.PreviewError,
		"pending":       models.PreviewStatusPending,
	})
	if err != nil {
		return fmt.Errorf("settle preview: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check settle rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
