package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-plan-api/internal/models"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
)

const maxCommentLength = 1000

type commentStore interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id string) (*models.Comment, error)
	ListByDocument(ctx context.Context, documentID string) ([]models.Comment, error)
	UpdateText(ctx context.Context, id, authorID, text string, updatedAt time.Time) error
	SetResolved(ctx context.Context, id string, resolved bool, updatedAt time.Time) error
	Delete(ctx context.Context, id, authorID string) error
}

type commentDocumentResolver interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
}

// CommentService is the comment ledger: any authenticated reviewer or
// the plan author may comment on a document, but only a comment's
// author may edit or delete it. The ledger knows nothing about workflow
// state.
type CommentService struct {
	repo      commentStore
	documents commentDocumentResolver
	audit     auditLogger
	logger    *zap.Logger
}

// NewCommentService constructs the service.
func NewCommentService(repo commentStore, documents commentDocumentResolver, audit auditLogger, logger *zap.Logger) *CommentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommentService{repo: repo, documents: documents, audit: audit, logger: logger}
}

// Add appends a comment to a document.
func (s *CommentService) Add(ctx context.Context, documentID, text string, actor *models.JWTClaims) (*models.Comment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	trimmed, err := validateCommentText(text)
	if err != nil {
		return nil, err
	}
	if _, err := s.documents.GetByID(ctx, documentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	comment := &models.Comment{
		DocumentID: documentID,
		AuthorID:   actor.UserID,
		AuthorName: actor.FullName,
		Text:       trimmed,
	}
	if err := s.repo.Create(ctx, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create comment")
	}
	s.emitAudit(ctx, actor, models.AuditActionCommentCreate, comment.ID)
	return comment, nil
}

// Edit replaces a comment's text; only its author may do so.
func (s *CommentService) Edit(ctx context.Context, commentID, text string, actor *models.JWTClaims) (*models.Comment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	trimmed, err := validateCommentText(text)
	if err != nil {
		return nil, err
	}
	comment, err := s.load(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if comment.AuthorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the comment author may edit it")
	}
	now := time.Now().UTC()
	if err := s.repo.UpdateText(ctx, commentID, actor.UserID, trimmed, now); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update comment")
	}
	comment.Text = trimmed
	comment.UpdatedAt = &now
	s.emitAudit(ctx, actor, models.AuditActionCommentUpdate, commentID)
	return comment, nil
}

// Delete removes a comment; only its author may do so.
func (s *CommentService) Delete(ctx context.Context, commentID string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	comment, err := s.load(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.AuthorID != actor.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "only the comment author may delete it")
	}
	if err := s.repo.Delete(ctx, commentID, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete comment")
	}
	s.emitAudit(ctx, actor, models.AuditActionCommentDelete, commentID)
	return nil
}

// Resolve marks a comment as addressed. Reviewer roles only; resolution
// is review tooling, the workflow never resolves comments on its own.
func (s *CommentService) Resolve(ctx context.Context, commentID string, resolved bool, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	switch actor.Role {
	case models.RoleAnalyst, models.RoleCoordinator:
	default:
		return appErrors.Clone(appErrors.ErrForbidden, "only reviewers resolve comments")
	}
	if err := s.repo.SetResolved(ctx, commentID, resolved, time.Now().UTC()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve comment")
	}
	return nil
}

// ListByDocument returns a document's comments in creation order.
func (s *CommentService) ListByDocument(ctx context.Context, documentID string) ([]models.Comment, error) {
	comments, err := s.repo.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list comments")
	}
	return comments, nil
}

func (s *CommentService) load(ctx context.Context, id string) (*models.Comment, error) {
	comment, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load comment")
	}
	return comment, nil
}

func (s *CommentService) emitAudit(ctx context.Context, actor *models.JWTClaims, action, commentID string) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "comment",
		ResourceID: &commentID,
		IPAddress:  "system",
		UserAgent:  "comment-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func validateCommentText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, "comment text is required")
	}
	if len([]rune(trimmed)) > maxCommentLength {
		return "", appErrors.Clone(appErrors.ErrValidation, "comment exceeds maximum length")
	}
	return trimmed, nil
}
