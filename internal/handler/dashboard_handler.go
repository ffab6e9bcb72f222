package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	"github.com/noah-isme/lesson-plan-api/internal/middleware"
	"github.com/noah-isme/lesson-plan-api/internal/service"
	"github.com/noah-isme/lesson-plan-api/pkg/response"
)

// DashboardHandler wires HTTP endpoints to the dashboard projections.
type DashboardHandler struct {
	dashboard *service.DashboardService
	exports   *service.ExportService
}

// NewDashboardHandler creates a new handler.
func NewDashboardHandler(dashboard *service.DashboardService, exports *service.ExportService) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard, exports: exports}
}

// Overview godoc
// @Summary Plan status dashboard
// @Description Status distribution of plans in the requested segment
// @Tags Dashboard
// @Produce json
// @Param periodId query string false "Period filter"
// @Param classId query string false "Class filter"
// @Param authorId query string false "Author filter"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /dashboard/plans [get]
func (h *DashboardHandler) Overview(c *gin.Context) {
	overview, cacheHit, err := h.dashboard.Overview(c.Request.Context(), dto.DashboardQuery{
		PeriodID: c.Query("periodId"),
		ClassID:  c.Query("classId"),
		AuthorID: c.Query("authorId"),
	}, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, overview, nil, middleware.ExtractMeta(c))
}

// Export godoc
// @Summary Export the dashboard
// @Description Download the status distribution as CSV or PDF
// @Tags Dashboard
// @Produce octet-stream
// @Param format query string false "csv or pdf" default(csv)
// @Param periodId query string false "Period filter"
// @Param classId query string false "Class filter"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /dashboard/plans/export [get]
func (h *DashboardHandler) Export(c *gin.Context) {
	file, err := h.exports.Dashboard(c.Request.Context(), dto.DashboardQuery{
		PeriodID: c.Query("periodId"),
		ClassID:  c.Query("classId"),
		AuthorID: c.Query("authorId"),
	}, c.DefaultQuery("format", "csv"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	c.Header("Content-Length", strconv.Itoa(len(file.Content)))
	c.Data(http.StatusOK, file.MimeType, file.Content)
}
