package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	"github.com/noah-isme/lesson-plan-api/internal/service"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
	"github.com/noah-isme/lesson-plan-api/pkg/response"
)

// CommentHandler wires HTTP endpoints to the comment service.
type CommentHandler struct {
	service *service.CommentService
}

// NewCommentHandler creates a new handler.
func NewCommentHandler(svc *service.CommentService) *CommentHandler {
	return &CommentHandler{service: svc}
}

// Create godoc
// @Summary Comment on a document
// @Description Add a comment to a document
// @Tags Comments
// @Accept json
// @Produce json
// @Param id path string true "Document ID"
// @Param payload body dto.CreateCommentRequest true "Comment payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /documents/{id}/comments [post]
func (h *CommentHandler) Create(c *gin.Context) {
	var req dto.CreateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}
	comment, err := h.service.Add(c.Request.Context(), c.Param("id"), req.Text, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, comment)
}

// List godoc
// @Summary List document comments
// @Description List comments on a document, oldest first
// @Tags Comments
// @Produce json
// @Param id path string true "Document ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /documents/{id}/comments [get]
func (h *CommentHandler) List(c *gin.Context) {
	comments, err := h.service.ListByDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comments, nil)
}

// Update godoc
// @Summary Edit a comment
// @Description Author edits their own comment text
// @Tags Comments
// @Accept json
// @Produce json
// @Param id path string true "Comment ID"
// @Param payload body dto.UpdateCommentRequest true "Comment payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /comments/{id} [put]
func (h *CommentHandler) Update(c *gin.Context) {
	var req dto.UpdateCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid comment payload"))
		return
	}
	comment, err := h.service.Edit(c.Request.Context(), c.Param("id"), req.Text, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, comment, nil)
}

// Delete godoc
// @Summary Delete a comment
// @Description Author removes their own comment
// @Tags Comments
// @Produce json
// @Param id path string true "Comment ID"
// @Success 204 {object} nil
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /comments/{id} [delete]
func (h *CommentHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Resolve godoc
// @Summary Resolve a comment
// @Description Reviewer marks a comment as addressed
// @Tags Comments
// @Produce json
// @Param id path string true "Comment ID"
// @Success 204 {object} nil
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /comments/{id}/resolve [post]
func (h *CommentHandler) Resolve(c *gin.Context) {
	if err := h.service.Resolve(c.Request.Context(), c.Param("id"), true, claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
