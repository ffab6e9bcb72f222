package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lesson-plan-api/internal/models"
	"github.com/noah-isme/lesson-plan-api/internal/repository"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
	"github.com/noah-isme/lesson-plan-api/pkg/jobs"
	"github.com/noah-isme/lesson-plan-api/pkg/storage"
)

type previewStoreStub struct {
	mu        sync.Mutex
	documents map[string]*models.Document
	settled   []repository.SettlePreviewParams
}

func newPreviewStoreStub() *previewStoreStub {
	return &previewStoreStub{documents: make(map[string]*models.Document)}
}

func (p *previewStoreStub) GetByID(ctx context.Context, id string) (*models.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if doc, ok := p.documents[id]; ok {
		copy := *doc
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (p *previewStoreStub) ListPendingByPlan(ctx context.Context, planID string) ([]models.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Document, 0)
	for _, doc := range p.documents {
		if doc.PlanID == planID && doc.PreviewPending() {
			out = append(out, *doc)
		}
	}
	return out, nil
}

func (p *previewStoreStub) ListPendingOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]models.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Document, 0)
	for _, doc := range p.documents {
		if doc.PreviewPending() && doc.CreatedAt.Before(cutoff) {
			out = append(out, *doc)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (p *previewStoreStub) SettlePreview(ctx context.Context, params repository.SettlePreviewParams) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc, ok := p.documents[params.ID]
	if !ok || !doc.PreviewPending() {
		return sql.ErrNoRows
	}
	status := params.Status
	doc.PreviewStatus = &status
	doc.PreviewPath = params.PreviewPath
	doc.PreviewError = params.PreviewError
	p.settled = append(p.settled, params)
	return nil
}

func (p *previewStoreStub) setStatus(id string, status models.PreviewStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.documents[id].PreviewStatus = &status
}

func jobFor(id string, attempt int) jobs.Job {
	return jobs.Job{ID: id, Type: PreviewJobType, Attempt: attempt}
}

type converterStub struct {
	pdf       []byte
	err       error
	transport bool
	calls     int
}

func (c *converterStub) Convert(ctx context.Context, filename, mimeType string, content io.Reader) ([]byte, error) {
	c.calls++
	if c.transport {
		return nil, transportError(errors.New("connection refused"))
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.pdf, nil
}

type observerStub struct {
	successes int
	failures  int
}

func (o *observerStub) ObserveConversion(success bool, duration time.Duration) {
	if success {
		o.successes++
	} else {
		o.failures++
	}
}

func newPreviewFixture(t *testing.T, converter Converter) (*PreviewService, *previewStoreStub, *observerStub, *enqueueRecorder) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	docs := newPreviewStoreStub()
	observer := &observerStub{}
	queue := &enqueueRecorder{}
	svc := NewPreviewService(docs, store, converter, observer, queue, nil, PreviewServiceConfig{
		PollInterval:    5 * time.Millisecond,
		MaxPollDuration: 50 * time.Millisecond,
	})

	pending := models.PreviewStatusPending
	docs.documents["doc-1"] = &models.Document{
		ID:            "doc-1",
		PlanID:        "plan-1",
		Kind:          models.DocumentKindFile,
		FileName:      "lesson.docx",
		MimeType:      "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		PreviewStatus: &pending,
		CreatedAt:     time.Now().Add(-time.Hour),
	}
	path, err := store.SaveStream("plan_plan-1/original.docx", io.LimitReader(neverEnding('d'), 64))
	require.NoError(t, err)
	docs.documents["doc-1"].FilePath = path
	return svc, docs, observer, queue
}

type repeatReader byte

func neverEnding(b byte) repeatReader { return repeatReader(b) }

func (r repeatReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = byte(r)
	}
	return len(p), nil
}

func TestPreviewJobSettlesReady(t *testing.T) {
	converter := &converterStub{pdf: []byte("%PDF-1.4 rendered")}
	svc, docs, observer, _ := newPreviewFixture(t, converter)

	require.NoError(t, svc.HandleJob(context.Background(), jobFor("doc-1", 1)))

	doc := docs.documents["doc-1"]
	require.Equal(t, models.PreviewStatusReady, *doc.PreviewStatus)
	require.NotNil(t, doc.PreviewPath)
	require.Nil(t, doc.PreviewError)
	require.Equal(t, 1, observer.successes)
}

func TestPreviewJobConverterRejectionSettlesError(t *testing.T) {
	converter := &converterStub{err: fmt.Errorf("converter rejected lesson.docx: 422 unsupported form")}
	svc, docs, observer, _ := newPreviewFixture(t, converter)

	require.NoError(t, svc.HandleJob(context.Background(), jobFor("doc-1", 1)))

	doc := docs.documents["doc-1"]
	require.Equal(t, models.PreviewStatusError, *doc.PreviewStatus)
	require.NotNil(t, doc.PreviewError)
	require.Contains(t, *doc.PreviewError, "422")
	require.Equal(t, 1, observer.failures)
}

func TestPreviewJobTransportErrorRetriesThenSettles(t *testing.T) {
	converter := &converterStub{transport: true}
	svc, docs, _, _ := newPreviewFixture(t, converter)

	err := svc.HandleJob(context.Background(), jobFor("doc-1", 1))
	require.Error(t, err)
	require.True(t, docs.documents["doc-1"].PreviewPending(), "early attempts stay pending for retry")

	require.NoError(t, svc.HandleJob(context.Background(), jobFor("doc-1", 3)))
	doc := docs.documents["doc-1"]
	require.Equal(t, models.PreviewStatusError, *doc.PreviewStatus)
	require.True(t, strings.HasPrefix(*doc.PreviewError, appErrors.ErrTransport.Code+": "))
}

func TestPreviewJobRejectionDiagnosticCarriesCode(t *testing.T) {
	converter := &converterStub{err: appErrors.Clone(appErrors.ErrConversion, "converter rejected lesson.docx: 422 unsupported form")}
	svc, docs, _, _ := newPreviewFixture(t, converter)

	require.NoError(t, svc.HandleJob(context.Background(), jobFor("doc-1", 1)))

	doc := docs.documents["doc-1"]
	require.Equal(t, models.PreviewStatusError, *doc.PreviewStatus)
	require.True(t, strings.HasPrefix(*doc.PreviewError, appErrors.ErrConversion.Code+": "))
}

func TestPreviewJobSettledDocumentIsNoop(t *testing.T) {
	converter := &converterStub{pdf: []byte("%PDF")}
	svc, docs, _, _ := newPreviewFixture(t, converter)

	docs.setStatus("doc-1", models.PreviewStatusReady)

	require.NoError(t, svc.HandleJob(context.Background(), jobFor("doc-1", 1)))
	require.Zero(t, converter.calls)
}

func TestPreviewJobMissingDocumentIsNoop(t *testing.T) {
	svc, _, _, _ := newPreviewFixture(t, &converterStub{})
	require.NoError(t, svc.HandleJob(context.Background(), jobFor("ghost", 1)))
}

func TestAwaitSettledReturnsImmediatelyWhenIdle(t *testing.T) {
	svc, docs, _, _ := newPreviewFixture(t, &converterStub{})
	docs.setStatus("doc-1", models.PreviewStatusReady)

	start := time.Now()
	pending, err := svc.AwaitSettled(context.Background(), "plan-1")
	require.NoError(t, err)
	require.Empty(t, pending)
	require.Less(t, time.Since(start), 20*time.Millisecond)
}

func TestAwaitSettledObservesSettlement(t *testing.T) {
	svc, docs, _, _ := newPreviewFixture(t, &converterStub{})

	go func() {
		time.Sleep(15 * time.Millisecond)
		docs.setStatus("doc-1", models.PreviewStatusReady)
	}()

	pending, err := svc.AwaitSettled(context.Background(), "plan-1")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestAwaitSettledGivesUpAfterBudget(t *testing.T) {
	svc, _, _, _ := newPreviewFixture(t, &converterStub{})

	pending, err := svc.AwaitSettled(context.Background(), "plan-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
}

func TestHTTPConverterReturnsPDF(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1 << 20))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 rendered"))
	}))
	defer srv.Close()

	conv := NewHTTPConverter(srv.URL, time.Second)
	pdf, err := conv.Convert(context.Background(), "lesson.docx", "application/msword", strings.NewReader("contents"))
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-1.4 rendered"), pdf)
}

func TestHTTPConverterRejectionIsConversionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte("unsupported format"))
	}))
	defer srv.Close()

	conv := NewHTTPConverter(srv.URL, time.Second)
	_, err := conv.Convert(context.Background(), "lesson.docx", "application/msword", strings.NewReader("contents"))
	require.Error(t, err)

	var transportErr *ConverterTransportError
	require.False(t, errors.As(err, &transportErr), "a rejection must not be retried as a transport failure")
	require.Equal(t, appErrors.ErrConversion.Code, appErrors.FromError(err).Code)
	require.Contains(t, err.Error(), "unsupported format")
}

func TestHTTPConverterServerFailureIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	conv := NewHTTPConverter(srv.URL, time.Second)
	_, err := conv.Convert(context.Background(), "lesson.docx", "application/msword", strings.NewReader("contents"))
	require.Error(t, err)

	var transportErr *ConverterTransportError
	require.True(t, errors.As(err, &transportErr))
	require.Equal(t, appErrors.ErrTransport.Code, appErrors.FromError(err).Code)
}

func TestHTTPConverterUnreachableIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	conv := NewHTTPConverter(endpoint, time.Second)
	_, err := conv.Convert(context.Background(), "lesson.docx", "application/msword", strings.NewReader("contents"))
	require.Error(t, err)

	var transportErr *ConverterTransportError
	require.True(t, errors.As(err, &transportErr))
	require.Equal(t, appErrors.ErrTransport.Code, appErrors.FromError(err).Code)
}

func TestRecoverPendingRequeuesStale(t *testing.T) {
	svc, _, _, queue := newPreviewFixture(t, &converterStub{})

	requeued, err := svc.RecoverPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, requeued)
	require.Len(t, queue.jobs, 1)
	require.Equal(t, "doc-1", queue.jobs[0].ID)
	require.Equal(t, PreviewJobType, queue.jobs[0].Type)
}
