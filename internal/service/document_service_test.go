package service

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-plan-api/internal/models"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
	"github.com/noah-isme/lesson-plan-api/pkg/jobs"
	"github.com/noah-isme/lesson-plan-api/pkg/storage"
)

type documentCreateStub struct {
	documents map[string]*models.Document
}

func newDocumentCreateStub() *documentCreateStub {
	return &documentCreateStub{documents: make(map[string]*models.Document)}
}

func (d *documentCreateStub) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = "doc-stub"
	}
	d.documents[doc.ID] = doc
	return nil
}

func (d *documentCreateStub) GetByID(ctx context.Context, id string) (*models.Document, error) {
	if doc, ok := d.documents[id]; ok {
		copy := *doc
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (d *documentCreateStub) ListByPlan(ctx context.Context, planID string) ([]models.Document, error) {
	out := make([]models.Document, 0)
	for _, doc := range d.documents {
		if doc.PlanID == planID {
			out = append(out, *doc)
		}
	}
	return out, nil
}

type enqueueRecorder struct {
	jobs []jobs.Job
}

func (e *enqueueRecorder) Enqueue(job jobs.Job) error {
	e.jobs = append(e.jobs, job)
	return nil
}

func newDocumentFixture(t *testing.T) (*DocumentService, *documentCreateStub, *planRepoStub, *enqueueRecorder) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Minute)

	plans := newPlanRepoStub()
	plans.plans["plan-1"] = &models.Plan{ID: "plan-1", AuthorID: "author-1", Status: models.PlanStatusDraft}

	docs := newDocumentCreateStub()
	queue := &enqueueRecorder{}
	svc := NewDocumentService(docs, plans, store, signer, queue, &auditStub{}, nil, DocumentServiceConfig{})
	return svc, docs, plans, queue
}

func pdfUpload(name string, size int) DocumentUpload {
	content := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("a"), size)...)
	return DocumentUpload{
		Filename: name,
		Size:     int64(len(content)),
		MimeType: "application/pdf",
		Content:  bytes.NewReader(content),
	}
}

func TestDocumentUploadPDFSkipsConversion(t *testing.T) {
	svc, _, _, queue := newDocumentFixture(t)

	doc, err := svc.Upload(context.Background(), "plan-1", pdfUpload("lesson.pdf", 64), teacherClaims("author-1"))
	require.NoError(t, err)
	require.Equal(t, models.DocumentKindFile, doc.Kind)
	require.Nil(t, doc.PreviewStatus)
	require.Empty(t, queue.jobs)
}

func TestDocumentUploadDocxEntersPreviewPipeline(t *testing.T) {
	svc, _, _, queue := newDocumentFixture(t)

	upload := DocumentUpload{
		Filename: "lesson.docx",
		Size:     128,
		MimeType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		Content:  bytes.NewReader(bytes.Repeat([]byte("b"), 128)),
	}
	doc, err := svc.Upload(context.Background(), "plan-1", upload, teacherClaims("author-1"))
	require.NoError(t, err)
	require.NotNil(t, doc.PreviewStatus)
	require.Equal(t, models.PreviewStatusPending, *doc.PreviewStatus)
	require.Len(t, queue.jobs, 1)
	require.Equal(t, doc.ID, queue.jobs[0].ID)
	require.Equal(t, PreviewJobType, queue.jobs[0].Type)
}

func TestDocumentUploadRejectsDisallowedType(t *testing.T) {
	svc, _, _, _ := newDocumentFixture(t)

	upload := DocumentUpload{
		Filename: "malware.exe",
		Size:     32,
		MimeType: "application/x-msdownload",
		Content:  bytes.NewReader(bytes.Repeat([]byte("c"), 32)),
	}
	_, err := svc.Upload(context.Background(), "plan-1", upload, teacherClaims("author-1"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDocumentUploadRejectsOversized(t *testing.T) {
	svc, _, _, _ := newDocumentFixture(t)

	upload := pdfUpload("big.pdf", 10)
	upload.Size = 11 * 1024 * 1024
	_, err := svc.Upload(context.Background(), "plan-1", upload, teacherClaims("author-1"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDocumentUploadOnlyAuthor(t *testing.T) {
	svc, _, _, _ := newDocumentFixture(t)

	_, err := svc.Upload(context.Background(), "plan-1", pdfUpload("lesson.pdf", 16), teacherClaims("other"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Upload(context.Background(), "plan-1", pdfUpload("lesson.pdf", 16), analystClaims())
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestDocumentUploadRejectedOnApprovedPlan(t *testing.T) {
	svc, _, plans, _ := newDocumentFixture(t)
	plans.plans["plan-1"].Status = models.PlanStatusApproved

	_, err := svc.Upload(context.Background(), "plan-1", pdfUpload("late.pdf", 16), teacherClaims("author-1"))
	require.Error(t, err)
	require.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestDocumentAddVideoLink(t *testing.T) {
	svc, _, _, _ := newDocumentFixture(t)

	doc, err := svc.AddVideoLink(context.Background(), "plan-1", "https://youtube.com/watch?v=abc123", teacherClaims("author-1"))
	require.NoError(t, err)
	require.Equal(t, models.DocumentKindVideoLink, doc.Kind)
	require.Nil(t, doc.PreviewStatus)

	doc, err = svc.AddVideoLink(context.Background(), "plan-1", "https://www.vimeo.com/12345", teacherClaims("author-1"))
	require.NoError(t, err)
	require.Equal(t, "https://www.vimeo.com/12345", doc.ExternalURL)
}

func TestDocumentAddVideoLinkRejectsUnknownHost(t *testing.T) {
	svc, _, _, _ := newDocumentFixture(t)

	for _, raw := range []string{
		"https://example.com/video",
		"ftp://youtube.com/thing",
		"not a url",
		"https://evilyoutube.com/watch",
	} {
		_, err := svc.AddVideoLink(context.Background(), "plan-1", raw, teacherClaims("author-1"))
		require.Error(t, err, raw)
		require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code, raw)
	}
}

func TestDocumentSignedDownloadRoundTrip(t *testing.T) {
	svc, _, _, _ := newDocumentFixture(t)

	doc, err := svc.Upload(context.Background(), "plan-1", pdfUpload("lesson.pdf", 64), teacherClaims("author-1"))
	require.NoError(t, err)

	url, err := svc.DownloadURL(doc)
	require.NoError(t, err)
	require.Contains(t, url, "/documents/"+doc.ID+"/download?token=")

	token := url[strings.Index(url, "token=")+len("token="):]
	download, err := svc.Download(context.Background(), doc.ID, token)
	require.NoError(t, err)
	defer download.File.Close() //nolint:errcheck
	require.Equal(t, "application/pdf", download.MimeType)
	require.Greater(t, download.SizeBytes, int64(0))
}

func TestDocumentDownloadRejectsBadToken(t *testing.T) {
	svc, _, _, _ := newDocumentFixture(t)

	doc, err := svc.Upload(context.Background(), "plan-1", pdfUpload("lesson.pdf", 64), teacherClaims("author-1"))
	require.NoError(t, err)

	_, err = svc.Download(context.Background(), doc.ID, "bogus.token.value.sig")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestDocumentPreviewURLOnlyWhenReady(t *testing.T) {
	svc, docs, _, _ := newDocumentFixture(t)

	pending := models.PreviewStatusPending
	docs.documents["doc-p"] = &models.Document{ID: "doc-p", PlanID: "plan-1", Kind: models.DocumentKindFile, FilePath: "x", PreviewStatus: &pending}
	url, err := svc.PreviewURL(docs.documents["doc-p"])
	require.NoError(t, err)
	require.Empty(t, url)

	ready := models.PreviewStatusReady
	path := "plan_plan-1/previews/doc-r.pdf"
	docs.documents["doc-r"] = &models.Document{ID: "doc-r", PlanID: "plan-1", Kind: models.DocumentKindFile, FilePath: "x", PreviewStatus: &ready, PreviewPath: &path}
	url, err = svc.PreviewURL(docs.documents["doc-r"])
	require.NoError(t, err)
	require.Contains(t, url, "/documents/doc-r/preview?token=")
}
