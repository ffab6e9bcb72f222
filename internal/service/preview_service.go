package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/lesson-plan-api/internal/models"
	"github.com/noah-isme/lesson-plan-api/internal/repository"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
	"github.com/noah-isme/lesson-plan-api/pkg/jobs"
)

type previewDocumentStore interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
	ListPendingByPlan(ctx context.Context, planID string) ([]models.Document, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Document, error)
	SettlePreview(ctx context.Context, params repository.SettlePreviewParams) error
}

type previewFileStorage interface {
	Open(filename string) (*os.File, error)
	SaveStream(filename string, r io.Reader) (string, error)
}

// Converter renders an office document into PDF bytes.
type Converter interface {
	Convert(ctx context.Context, filename, mimeType string, content io.Reader) ([]byte, error)
}

type conversionObserver interface {
	ObserveConversion(success bool, duration time.Duration)
}

// PreviewServiceConfig tunes the settle poll and the stale requeue.
type PreviewServiceConfig struct {
	PollInterval    time.Duration
	MaxPollDuration time.Duration
	RequeueAfter    time.Duration
	RequeueBatch    int
}

// PreviewService settles document previews. Each pending document
// settles exactly once: a successful conversion stores the rendered PDF
// and flips the status to READY, a failed one records the diagnostic
// and flips it to ERROR. The settle write is conditional on the row
// still being PENDING, so a duplicate job is a no-op.
type PreviewService struct {
	docs      previewDocumentStore
	storage   previewFileStorage
	converter Converter
	metrics   conversionObserver
	queue     conversionEnqueuer
	logger    *zap.Logger
	cfg       PreviewServiceConfig
}

// NewPreviewService constructs the service with defaults.
func NewPreviewService(docs previewDocumentStore, storage previewFileStorage, converter Converter, metrics conversionObserver, queue conversionEnqueuer, logger *zap.Logger, cfg PreviewServiceConfig) *PreviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxPollDuration <= 0 {
		cfg.MaxPollDuration = 2 * time.Minute
	}
	if cfg.RequeueAfter <= 0 {
		cfg.RequeueAfter = 10 * time.Minute
	}
	if cfg.RequeueBatch <= 0 {
		cfg.RequeueBatch = 50
	}
	return &PreviewService{
		docs:      docs,
		storage:   storage,
		converter: converter,
		metrics:   metrics,
		queue:     queue,
		logger:    logger,
		cfg:       cfg,
	}
}

// SetQueue attaches the requeue target. The queue's handler is this
// service, so the two are constructed in sequence and linked here.
func (s *PreviewService) SetQueue(queue conversionEnqueuer) {
	s.queue = queue
}

// HandleJob is the queue handler for conversion jobs. Transport
// failures reaching the converter are returned so the queue retries;
// a converter rejection settles the document as ERROR and does not.
func (s *PreviewService) HandleJob(ctx context.Context, job jobs.Job) error {
	doc, err := s.docs.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("conversion job for missing document", zap.String("document_id", job.ID))
			return nil
		}
		return fmt.Errorf("load document %s: %w", job.ID, err)
	}
	if !doc.PreviewPending() {
		return nil
	}

	start := time.Now()
	pdf, convErr := s.convert(ctx, doc)
	duration := time.Since(start)

	if convErr != nil {
		var transportErr *ConverterTransportError
		if errors.As(convErr, &transportErr) && job.Attempt < 3 {
			return convErr
		}
		s.observe(false, duration)
		s.settleError(ctx, doc, convErr)
		return nil
	}

	relPath := previewPath(doc)
	if _, err := s.storage.SaveStream(relPath, bytes.NewReader(pdf)); err != nil {
		s.observe(false, duration)
		s.settleError(ctx, doc, fmt.Errorf("store preview: %w", err))
		return nil
	}

	ready := models.PreviewStatusReady
	if err := s.docs.SettlePreview(ctx, repository.SettlePreviewParams{
		ID:          doc.ID,
		Status:      ready,
		PreviewPath: &relPath,
	}); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Lost the settle race; the other writer's outcome stands.
			return nil
		}
		return fmt.Errorf("settle preview %s: %w", doc.ID, err)
	}
	s.observe(true, duration)
	s.logger.Info("preview ready",
		zap.String("document_id", doc.ID),
		zap.String("plan_id", doc.PlanID),
		zap.Duration("duration", duration),
	)
	return nil
}

// AwaitSettled blocks until the plan has no PENDING documents, the poll
// budget elapses or the caller's context is done. It returns the
// documents still pending at the time it gave up. The poll only runs
// while something is pending, an idle plan returns immediately.
func (s *PreviewService) AwaitSettled(ctx context.Context, planID string) ([]models.Document, error) {
	pending, err := s.docs.ListPendingByPlan(ctx, planID)
	if err != nil {
		return nil, fmt.Errorf("list pending documents: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	deadline := time.NewTimer(s.cfg.MaxPollDuration)
	defer deadline.Stop()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return pending, nil
		case <-deadline.C:
			return pending, nil
		case <-ticker.C:
			pending, err = s.docs.ListPendingByPlan(ctx, planID)
			if err != nil {
				return nil, fmt.Errorf("list pending documents: %w", err)
			}
			if len(pending) == 0 {
				return nil, nil
			}
		}
	}
}

// RecoverPending requeues documents stuck in PENDING longer than the
// configured threshold. Called once at startup so conversions survive
// a restart that emptied the in-memory queue.
func (s *PreviewService) RecoverPending(ctx context.Context) (int, error) {
	if s.queue == nil {
		return 0, nil
	}
	cutoff := time.Now().Add(-s.cfg.RequeueAfter)
	stale, err := s.docs.ListPendingOlderThan(ctx, cutoff, s.cfg.RequeueBatch)
	if err != nil {
		return 0, fmt.Errorf("list stale pending documents: %w", err)
	}
	requeued := 0
	for _, doc := range stale {
		if err := s.queue.Enqueue(jobs.Job{ID: doc.ID, Type: PreviewJobType}); err != nil {
			s.logger.Warn("failed to requeue stale conversion", zap.String("document_id", doc.ID), zap.Error(err))
			continue
		}
		requeued++
	}
	if requeued > 0 {
		s.logger.Info("requeued stale preview conversions", zap.Int("count", requeued))
	}
	return requeued, nil
}

func (s *PreviewService) convert(ctx context.Context, doc *models.Document) ([]byte, error) {
	file, err := s.storage.Open(doc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("open original: %w", err)
	}
	defer file.Close() //nolint:errcheck
	return s.converter.Convert(ctx, doc.FileName, doc.MimeType, file)
}

func (s *PreviewService) settleError(ctx context.Context, doc *models.Document, cause error) {
	msg := cause.Error()
	var appErr *appErrors.Error
	if errors.As(cause, &appErr) {
		msg = fmt.Sprintf("%s: %s", appErr.Code, msg)
	}
	if len(msg) > 500 {
		msg = msg[:500]
	}
	errStatus := models.PreviewStatusError
	if err := s.docs.SettlePreview(ctx, repository.SettlePreviewParams{
		ID:           doc.ID,
		Status:       errStatus,
		PreviewError: &msg,
	}); err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.Error("failed to settle preview error", zap.String("document_id", doc.ID), zap.Error(err))
		return
	}
	s.logger.Warn("preview conversion failed",
		zap.String("document_id", doc.ID),
		zap.String("plan_id", doc.PlanID),
		zap.String("reason", msg),
	)
}

func (s *PreviewService) observe(success bool, duration time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveConversion(success, duration)
	}
}

func previewPath(doc *models.Document) string {
	return fmt.Sprintf("plan_%s/previews/%s.pdf", doc.PlanID, doc.ID)
}

// ConverterTransportError marks failures reaching the converter, as
// opposed to the converter rejecting the document.
type ConverterTransportError struct {
	Err error
}

func (e *ConverterTransportError) Error() string { return e.Err.Error() }
func (e *ConverterTransportError) Unwrap() error { return e.Err }

func transportError(err error) *ConverterTransportError {
	return &ConverterTransportError{
		Err: appErrors.Wrap(err, appErrors.ErrTransport.Code, appErrors.ErrTransport.Status, appErrors.ErrTransport.Message),
	}
}

// HTTPConverter calls an external document conversion endpoint over
// multipart POST and expects PDF bytes back.
type HTTPConverter struct {
	url    string
	client *http.Client
}

// NewHTTPConverter builds a converter client against the given endpoint.
func NewHTTPConverter(endpoint string, timeout time.Duration) *HTTPConverter {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPConverter{
		url:    endpoint,
		client: &http.Client{Timeout: timeout},
	}
}

// Convert sends the document to the converter and returns the PDF.
func (c *HTTPConverter) Convert(ctx context.Context, filename, mimeType string, content io.Reader) ([]byte, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("build converter request: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, fmt.Errorf("build converter request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("build converter request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, fmt.Errorf("build converter request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/pdf")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, transportError(fmt.Errorf("call converter: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, transportError(fmt.Errorf("converter returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, appErrors.Clone(appErrors.ErrConversion,
			fmt.Sprintf("converter rejected %s: %d %s", filename, resp.StatusCode, strings.TrimSpace(string(detail))))
	}
	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(fmt.Errorf("read converter response: %w", err))
	}
	if len(pdf) == 0 {
		return nil, appErrors.Clone(appErrors.ErrConversion,
			fmt.Sprintf("converter returned empty document for %s", filename))
	}
	return pdf, nil
}
