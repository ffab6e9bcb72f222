package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-plan-api/internal/models"
)

func TestCommentRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCommentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO comments")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	comment := &models.Comment{DocumentID: "doc-1", AuthorID: "analyst-1", Text: "cite the workbook edition"}
	require.NoError(t, repo.Create(context.Background(), comment))
	require.NotEmpty(t, comment.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommentRepositoryCountUnresolvedByPlan(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCommentRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("JOIN documents d ON d.id = c.document_id")).
		WithArgs("plan-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	count, err := repo.CountUnresolvedByPlan(context.Background(), "plan-1")
	require.NoError(t, err)
	require.Equal(t, 4, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommentRepositoryUpdateTextOwnerScoped(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCommentRepository(db)
	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE comments SET text = $1, updated_at = $2 WHERE id = $3 AND author_id = $4")).
		WithArgs("revised", now, "comment-1", "intruder").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateText(context.Background(), "comment-1", "intruder", "revised", now)
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommentRepositoryDeleteOwnerScoped(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCommentRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM comments WHERE id = $1 AND author_id = $2")).
		WithArgs("comment-1", "analyst-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), "comment-1", "analyst-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommentRepositorySetResolved(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewCommentRepository(db)
	now := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE comments SET resolved = $1, updated_at = $2 WHERE id = $3")).
		WithArgs(true, now, "comment-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetResolved(context.Background(), "comment-1", true, now))
	require.NoError(t, mock.ExpectationsWereMet())
}
