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

// CommentRepository persists per-document review comments.
type CommentRepository struct {
	db *sqlx.DB
}

// NewCommentRepository constructs the repository.
func NewCommentRepository(db *sqlx.DB) *CommentRepository {
	return &CommentRepository{db: db}
}

const commentColumns = `id, document_id, author_id, author_name, text, resolved, created_at, updated_at`

// Create inserts a new comment.
func (r *CommentRepository) Create(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO comments
	(id, document_id, author_id, author_name, text, resolved, created_at, updated_at)
	VALUES (:id, :document_id, :author_id, :author_name, :text, :resolved, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("create comment: %w", err)
	}
	return nil
}

// GetByID fetches a comment by identifier.
func (r *CommentRepository) GetByID(ctx context.Context, id string) (*models.Comment, error) {
	query := fmt.Sprintf(`SELECT %s FROM comments WHERE id = $1`, commentColumns)
	var comment models.Comment
	if err := r.db.GetContext(ctx, &comment, query, id); err != nil {
		return nil, err
	}
	return &comment, nil
}

// ListByDocument returns a document's comments, oldest first.
func (r *CommentRepository) ListByDocument(ctx context.Context, documentID string) ([]models.Comment, error) {
	query := fmt.Sprintf(`SELECT %s FROM comments WHERE document_id = $1 ORDER BY created_at ASC`, commentColumns)
	var comments []models.Comment
	if err := r.db.SelectContext(ctx, &comments, query, documentID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// CountUnresolvedByPlan counts open comments across all documents of a
// plan; the workflow return guards consult this.
func (r *CommentRepository) CountUnresolvedByPlan(ctx context.Context, planID string) (int, error) {
	const query = `SELECT COUNT(*) FROM comments c
	JOIN documents d ON d.id = c.document_id
	WHERE d.plan_id = $1 AND c.resolved = FALSE`
	var count int
	if err := r.db.GetContext(ctx, &count, query, planID); err != nil {
		return 0, fmt.Errorf("count unresolved comments: %w", err)
	}
	return count, nil
}

// UpdateText replaces the comment body. The author predicate keeps
// edits owner-scoped at the storage layer as well.
func (r *CommentRepository) UpdateText(ctx context.Context, id, authorID, text string, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE comments SET text = $1, updated_at = $2 WHERE id = $3 AND author_id = $4`,
		text, updatedAt, id, authorID)
	if err != nil {
		return fmt.Errorf("update comment: %w", err)
	}
	return requireRow(result)
}

// SetResolved flips the resolved flag.
func (r *CommentRepository) SetResolved(ctx context.Context, id string, resolved bool, updatedAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE comments SET resolved = $1, updated_at = $2 WHERE id = $3`,
		resolved, updatedAt, id)
	if err != nil {
		return fmt.Errorf("resolve comment: %w", err)
	}
	return requireRow(result)
}

// Delete removes a comment owned by the given author.
func (r *CommentRepository) Delete(ctx context.Context, id, authorID string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM comments WHERE id = $1 AND author_id = $2`, id, authorID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check affected rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
