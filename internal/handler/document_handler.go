package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	"github.com/noah-isme/lesson-plan-api/internal/models"
	"github.com/noah-isme/lesson-plan-api/internal/service"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
	"github.com/noah-isme/lesson-plan-api/pkg/response"
)

// DocumentHandler wires HTTP endpoints to the document and preview services.
type DocumentHandler struct {
	documents *service.DocumentService
	previews  *service.PreviewService
}

// NewDocumentHandler creates a new handler.
func NewDocumentHandler(documents *service.DocumentService, previews *service.PreviewService) *DocumentHandler {
	return &DocumentHandler{documents: documents, previews: previews}
}

// Upload godoc
// @Summary Upload a document
// @Description Attach a file to a plan; office formats are converted for preview asynchronously
// @Tags Documents
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Plan ID"
// @Param file formData file true "Document file"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id}/documents [post]
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "file is required"))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload"))
		return
	}
	defer file.Close() //nolint:errcheck

	doc, err := h.documents.Upload(c.Request.Context(), c.Param("id"), service.DocumentUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Content:  file,
	}, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, h.decorate(doc))
}

// AddVideoLink godoc
// @Summary Attach a video link
// @Description Register an external video reference on a plan
// @Tags Documents
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body dto.AddVideoLinkRequest true "Video link payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id}/documents/link [post]
func (h *DocumentHandler) AddVideoLink(c *gin.Context) {
	var req dto.AddVideoLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid video link payload"))
		return
	}
	doc, err := h.documents.AddVideoLink(c.Request.Context(), c.Param("id"), req.URL, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, h.decorate(doc))
}

// ListByPlan godoc
// @Summary List plan documents
// @Description List a plan's documents with signed access URLs
// @Tags Documents
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id}/documents [get]
func (h *DocumentHandler) ListByPlan(c *gin.Context) {
	docs, err := h.documents.ListByPlan(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	out := make([]dto.DocumentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, *h.decorate(&docs[i]))
	}
	response.JSON(c, http.StatusOK, out, nil)
}

// PendingPreviews godoc
// @Summary Await preview settlement
// @Description Block until the plan's pending previews settle or the wait budget elapses
// @Tags Documents
// @Produce json
// @Param id path string true "Plan ID"
// @Param wait query bool false "Wait for settlement instead of returning the snapshot"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id}/documents/pending [get]
func (h *DocumentHandler) PendingPreviews(c *gin.Context) {
	planID := c.Param("id")
	wait, _ := strconv.ParseBool(c.DefaultQuery("wait", "true"))

	var pending []models.Document
	var err error
	if wait {
		pending, err = h.previews.AwaitSettled(c.Request.Context(), planID)
	} else {
		docs, listErr := h.documents.ListByPlan(c.Request.Context(), planID)
		if listErr != nil {
			response.Error(c, listErr)
			return
		}
		for _, d := range docs {
			if d.PreviewPending() {
				pending = append(pending, d)
			}
		}
	}
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check previews"))
		return
	}

	out := dto.PendingPreviewsResponse{
		PlanID:    planID,
		Pending:   len(pending),
		Documents: make([]dto.DocumentResponse, 0, len(pending)),
		CheckedAt: time.Now().UTC(),
	}
	for i := range pending {
		out.Documents = append(out.Documents, *h.decorate(&pending[i]))
	}
	response.JSON(c, http.StatusOK, out, nil)
}

// Download godoc
// @Summary Download a document
// @Description Stream the original file; requires a signed token
// @Tags Documents
// @Produce octet-stream
// @Param id path string true "Document ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /documents/{id}/download [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	h.stream(c, false)
}

// Preview godoc
// @Summary Download a document preview
// @Description Stream the converted preview; requires a signed token
// @Tags Documents
// @Produce application/pdf
// @Param id path string true "Document ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /documents/{id}/preview [get]
func (h *DocumentHandler) Preview(c *gin.Context) {
	h.stream(c, true)
}

func (h *DocumentHandler) stream(c *gin.Context, preview bool) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	var download *service.DocumentDownload
	var err error
	if preview {
		download, err = h.documents.DownloadPreview(c.Request.Context(), c.Param("id"), token)
	} else {
		download, err = h.documents.Download(c.Request.Context(), c.Param("id"), token)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	c.Header("Content-Disposition", `attachment; filename="`+download.Filename+`"`)
	c.Header("Content-Type", download.MimeType)
	c.Header("Content-Length", strconv.FormatInt(download.SizeBytes, 10))
	http.ServeContent(c.Writer, c.Request, download.Filename, time.Time{}, download.File)
}

func (h *DocumentHandler) decorate(doc *models.Document) *dto.DocumentResponse {
	out := &dto.DocumentResponse{Document: *doc}
	if url, err := h.documents.DownloadURL(doc); err == nil {
		out.DownloadURL = url
	}
	if url, err := h.documents.PreviewURL(doc); err == nil {
		out.PreviewURL = url
	}
	return out
}
