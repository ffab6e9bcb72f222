package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-plan-api/internal/models"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
	"github.com/noah-isme/lesson-plan-api/pkg/jobs"
)

// PreviewJobType tags conversion jobs on the queue.
const PreviewJobType = "preview_conversion"

type documentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	ListByPlan(ctx context.Context, planID string) ([]models.Document, error)
}

type documentPlanResolver interface {
	GetByID(ctx context.Context, id string) (*models.Plan, error)
}

type documentFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type documentSignedURLSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, relPath string, expiresAt time.Time, err error)
}

type conversionEnqueuer interface {
	Enqueue(job jobs.Job) error
}

// DocumentUpload carries upload metadata and the stream reader.
type DocumentUpload struct {
	Filename string
	Size     int64
	MimeType string
	Content  io.ReadSeeker
}

// DocumentDownload bundles file reader metadata for streaming.
type DocumentDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// DocumentServiceConfig holds validation parameters.
type DocumentServiceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	VideoHosts   []string
	APIPrefix    string
}

// DocumentService manages plan attachments: uploaded files, external
// video references, signed downloads and the handoff into the preview
// conversion queue.
type DocumentService struct {
	repo    documentStore
	plans   documentPlanResolver
	storage documentFileStorage
	signer  documentSignedURLSigner
	queue   conversionEnqueuer
	audit   auditLogger
	logger  *zap.Logger
	cfg     DocumentServiceConfig
	mimeSet map[string]struct{}
	hostSet map[string]struct{}
}

// NewDocumentService constructs the service with defaults.
func NewDocumentService(repo documentStore, plans documentPlanResolver, storage documentFileStorage, signer documentSignedURLSigner, queue conversionEnqueuer, audit auditLogger, logger *zap.Logger, cfg DocumentServiceConfig) *DocumentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{
			"application/pdf",
			"application/msword",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			"application/vnd.ms-excel",
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
			"image/png",
			"image/jpeg",
		}
	}
	if len(cfg.VideoHosts) == 0 {
		cfg.VideoHosts = []string{"youtube.com", "youtu.be", "vimeo.com"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(mt)] = struct{}{}
	}
	hostSet := make(map[string]struct{}, len(cfg.VideoHosts))
	for _, h := range cfg.VideoHosts {
		hostSet[strings.ToLower(h)] = struct{}{}
	}
	return &DocumentService{
		repo:    repo,
		plans:   plans,
		storage: storage,
		signer:  signer,
		queue:   queue,
		audit:   audit,
		logger:  logger,
		cfg:     cfg,
		mimeSet: mimeSet,
		hostSet: hostSet,
	}
}

// convertibleMimes are formats needing server-side conversion before
// they can be shown in the preview pane. PDF and images render directly.
var convertibleMimes = map[string]struct{}{
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       {},
}

// Upload validates and stores a file attachment on the plan. All
// validation failures are rejected before any storage write.
func (s *DocumentService) Upload(ctx context.Context, planID string, upload DocumentUpload, actor *models.JWTClaims) (*models.Document, error) {
	plan, err := s.resolveWritablePlan(ctx, planID, actor)
	if err != nil {
		return nil, err
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	mimeType, err := s.detectMime(upload)
	if err != nil {
		return nil, err
	}
	if _, allowed := s.mimeSet[strings.ToLower(mimeType)]; !allowed {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file type not allowed")
	}

	filename := s.generateFilename(plan.ID, upload.Filename, mimeType)
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	path, err := s.storage.SaveStream(filename, upload.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist file")
	}

	doc := &models.Document{
		PlanID:     plan.ID,
		Kind:       models.DocumentKindFile,
		FileName:   upload.Filename,
		FilePath:   path,
		MimeType:   mimeType,
		SizeBytes:  upload.Size,
		UploadedBy: actor.UserID,
	}
	if _, convertible := convertibleMimes[strings.ToLower(mimeType)]; convertible {
		pending := models.PreviewStatusPending
		doc.PreviewStatus = &pending
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		_ = s.storage.Delete(path)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create document")
	}

	if doc.PreviewPending() && s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{ID: doc.ID, Type: PreviewJobType}); err != nil {
			// The watcher requeues stale PENDING documents, so a failed
			// enqueue delays the preview without losing it.
			s.logger.Warn("failed to enqueue preview conversion", zap.String("document_id", doc.ID), zap.Error(err))
		}
	}
	s.emitAudit(ctx, actor, models.AuditActionDocumentUpload, doc)
	return doc, nil
}

// AddVideoLink registers an external video reference on the plan.
// Video links have no preview lifecycle.
func (s *DocumentService) AddVideoLink(ctx context.Context, planID, rawURL string, actor *models.JWTClaims) (*models.Document, error) {
	plan, err := s.resolveWritablePlan(ctx, planID, actor)
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "malformed video link")
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "video link must use http or https")
	}
	if !s.allowedVideoHost(parsed.Hostname()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "video host not recognized")
	}

	doc := &models.Document{
		PlanID:      plan.ID,
		Kind:        models.DocumentKindVideoLink,
		ExternalURL: parsed.String(),
		UploadedBy:  actor.UserID,
	}
	if err := s.repo.Create(ctx, doc); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create document")
	}
	s.emitAudit(ctx, actor, models.AuditActionDocumentLink, doc)
	return doc, nil
}

// DownloadURL generates a signed URL for the original file.
func (s *DocumentService) DownloadURL(doc *models.Document) (string, error) {
	if doc.Kind != models.DocumentKindFile || doc.FilePath == "" {
		return "", nil
	}
	token, _, err := s.signer.Generate(doc.ID, doc.FilePath)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download url")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return fmt.Sprintf("%s/documents/%s/download?token=%s", base, doc.ID, token), nil
}

// PreviewURL generates a signed URL for the converted preview, when one
// exists. A directly renderable file reuses its original.
func (s *DocumentService) PreviewURL(doc *models.Document) (string, error) {
	if doc.Kind != models.DocumentKindFile {
		return "", nil
	}
	path := doc.FilePath
	if doc.PreviewStatus != nil {
		if *doc.PreviewStatus != models.PreviewStatusReady || doc.PreviewPath == nil {
			return "", nil
		}
		path = *doc.PreviewPath
	}
	token, _, err := s.signer.Generate(doc.ID, path)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign preview url")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return fmt.Sprintf("%s/documents/%s/preview?token=%s", base, doc.ID, token), nil
}

// Download validates a token against the document's original file and
// opens it. Originals stay downloadable even when conversion failed.
func (s *DocumentService) Download(ctx context.Context, id, token string) (*DocumentDownload, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.openSigned(doc, token, doc.FilePath, doc.MimeType)
}

// DownloadPreview validates a token against the converted preview file
// and opens it.
func (s *DocumentService) DownloadPreview(ctx context.Context, id, token string) (*DocumentDownload, error) {
	doc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	path := doc.FilePath
	mime := doc.MimeType
	if doc.PreviewStatus != nil {
		if *doc.PreviewStatus != models.PreviewStatusReady || doc.PreviewPath == nil {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "preview not available")
		}
		path = *doc.PreviewPath
		mime = "application/pdf"
	}
	return s.openSigned(doc, token, path, mime)
}

// ListByPlan returns a plan's documents.
func (s *DocumentService) ListByPlan(ctx context.Context, planID string) ([]models.Document, error) {
	docs, err := s.repo.ListByPlan(ctx, planID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list documents")
	}
	return docs, nil
}

func (s *DocumentService) openSigned(doc *models.Document, token, path, mime string) (*DocumentDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	docID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if docID != doc.ID || relPath != path {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read file metadata")
	}
	return &DocumentDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		MimeType:  mime,
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

func (s *DocumentService) load(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load document")
	}
	return doc, nil
}

func (s *DocumentService) resolveWritablePlan(ctx context.Context, planID string, actor *models.JWTClaims) (*models.Plan, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load plan")
	}
	if actor.Role != models.RoleTeacher || plan.AuthorID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the plan author attaches documents")
	}
	if plan.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrConflict, "approved plans no longer accept documents")
	}
	return plan, nil
}

func (s *DocumentService) allowedVideoHost(host string) bool {
	host = strings.ToLower(host)
	for allowed := range s.hostSet {
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

func (s *DocumentService) detectMime(upload DocumentUpload) (string, error) {
	if upload.Content == nil {
		return "", appErrors.Clone(appErrors.ErrValidation, "file reader missing")
	}
	if upload.MimeType != "" {
		return upload.MimeType, nil
	}
	header := make([]byte, 512)
	n, err := upload.Content.Read(header)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if n == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	return http.DetectContentType(header[:n]), nil
}

func (s *DocumentService) generateFilename(planID, original, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		ext = mimeExtension(mimeType)
	}
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("plan_%s/%d_%s%s", planID, time.Now().Unix(), randomSuffix(), ext)
}

func mimeExtension(mime string) string {
	switch strings.ToLower(mime) {
	case "application/pdf":
		return ".pdf"
	case "application/msword":
		return ".doc"
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return ".docx"
	case "application/vnd.ms-excel":
		return ".xls"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	default:
		return ""
	}
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func (s *DocumentService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, doc *models.Document) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "document",
		ResourceID: &doc.ID,
		IPAddress:  "system",
		UserAgent:  "document-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
