package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-plan-api/internal/service"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
	"github.com/noah-isme/lesson-plan-api/pkg/response"
)

// PeriodHandler wires HTTP endpoints to the period service.
type PeriodHandler struct {
	service *service.PeriodService
}

// NewPeriodHandler creates a new handler.
func NewPeriodHandler(svc *service.PeriodService) *PeriodHandler {
	return &PeriodHandler{service: svc}
}

// List godoc
// @Summary List periods
// @Description List planning periods with the class's unlock state
// @Tags Periods
// @Produce json
// @Param classId query string true "Class whose unlock state to compute"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /periods [get]
func (h *PeriodHandler) List(c *gin.Context) {
	classID := c.Query("classId")
	if classID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "classId is required"))
		return
	}
	views, err := h.service.ListForClass(c.Request.Context(), classID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, views, nil)
}

// Get godoc
// @Summary Get a period
// @Description Fetch one planning period
// @Tags Periods
// @Produce json
// @Param id path string true "Period ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /periods/{id} [get]
func (h *PeriodHandler) Get(c *gin.Context) {
	period, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, period, nil)
}
