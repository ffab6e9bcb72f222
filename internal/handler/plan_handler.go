package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/lesson-plan-api/internal/dto"
	"github.com/noah-isme/lesson-plan-api/internal/models"
	"github.com/noah-isme/lesson-plan-api/internal/service"
	appErrors "github.com/noah-isme/lesson-plan-api/pkg/errors"
	"github.com/noah-isme/lesson-plan-api/pkg/response"
)

// PlanHandler wires HTTP endpoints to the plan and workflow services.
type PlanHandler struct {
	plans    *service.PlanService
	workflow *service.WorkflowService
}

// NewPlanHandler creates a new handler.
func NewPlanHandler(plans *service.PlanService, workflow *service.WorkflowService) *PlanHandler {
	return &PlanHandler{plans: plans, workflow: workflow}
}

// Open godoc
// @Summary Open a plan
// @Description Create or fetch the author's plan for a class/period pair
// @Tags Plans
// @Accept json
// @Produce json
// @Param payload body dto.OpenPlanRequest true "Open payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/open [post]
func (h *PlanHandler) Open(c *gin.Context) {
	var req dto.OpenPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid open payload"))
		return
	}
	plan, err := h.plans.Open(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// List godoc
// @Summary List plans
// @Description List plans visible to the caller, filtered by status, class and period
// @Tags Plans
// @Produce json
// @Param status query string false "Comma separated status filter"
// @Param classId query string false "Class filter"
// @Param periodId query string false "Period filter"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /plans [get]
func (h *PlanHandler) List(c *gin.Context) {
	query := dto.PlanQuery{
		ClassID:  c.Query("classId"),
		PeriodID: c.Query("periodId"),
		AuthorID: c.Query("authorId"),
	}
	if raw := c.Query("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			status := models.PlanStatus(strings.TrimSpace(part))
			if !status.Valid() {
				response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown status "+string(status)))
				return
			}
			query.Status = append(query.Status, status)
		}
	}
	query.Limit, _ = strconv.Atoi(c.Query("limit"))
	query.Offset, _ = strconv.Atoi(c.Query("offset"))

	plans, err := h.plans.List(c.Request.Context(), query, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plans, nil)
}

// Get godoc
// @Summary Get a plan
// @Description Fetch one plan with its documents and comments
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id} [get]
func (h *PlanHandler) Get(c *gin.Context) {
	plan, err := h.plans.Get(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}

// History godoc
// @Summary Plan history
// @Description List the append-only action trail of a plan, oldest first
// @Tags Plans
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id}/history [get]
func (h *PlanHandler) History(c *gin.Context) {
	entries, err := h.workflow.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Submit godoc
// @Summary Submit a plan
// @Description Author submits the plan for analyst review
// @Tags Workflow
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id}/submit [post]
func (h *PlanHandler) Submit(c *gin.Context) {
	h.execute(c, service.CommandSubmit, service.WorkflowInput{})
}

// StartAnalysis godoc
// @Summary Claim a plan for analysis
// @Description Analyst moves the plan into active review
// @Tags Workflow
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id}/start-analysis [post]
func (h *PlanHandler) StartAnalysis(c *gin.Context) {
	h.execute(c, service.CommandStartAnalysis, service.WorkflowInput{})
}

// ApproveAnalyst godoc
// @Summary Approve as analyst
// @Description Analyst forwards the plan to the coordinator
// @Tags Workflow
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id}/approve-analyst [post]
func (h *PlanHandler) ApproveAnalyst(c *gin.Context) {
	h.execute(c, service.CommandApproveAnalyst, service.WorkflowInput{})
}

// ReturnAnalyst godoc
// @Summary Return as analyst
// @Description Analyst returns the plan to the author with comments
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body dto.ReturnAnalystRequest true "Return payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id}/return-analyst [post]
func (h *PlanHandler) ReturnAnalyst(c *gin.Context) {
	var req dto.ReturnAnalystRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid return payload"))
		return
	}
	h.execute(c, service.CommandReturnAnalyst, service.WorkflowInput{Comments: req.Comments})
}

// ApproveCoordinator godoc
// @Summary Approve as coordinator
// @Description Coordinator gives final approval
// @Tags Workflow
// @Produce json
// @Param id path string true "Plan ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id}/approve-coordinator [post]
func (h *PlanHandler) ApproveCoordinator(c *gin.Context) {
	h.execute(c, service.CommandApproveCoordinator, service.WorkflowInput{})
}

// ReturnCoordinator godoc
// @Summary Return as coordinator
// @Description Coordinator returns the plan to the author or the analyst
// @Tags Workflow
// @Accept json
// @Produce json
// @Param id path string true "Plan ID"
// @Param payload body dto.ReturnCoordinatorRequest true "Return payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Security BearerAuth
// @Router /plans/{id}/return-coordinator [post]
func (h *PlanHandler) ReturnCoordinator(c *gin.Context) {
	var req dto.ReturnCoordinatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid return payload"))
		return
	}
	h.execute(c, service.CommandReturnCoordinator, service.WorkflowInput{
		Destination: req.Destination,
		Reason:      req.Reason,
		Comments:    req.Comments,
	})
}

func (h *PlanHandler) execute(c *gin.Context, command service.WorkflowCommand, input service.WorkflowInput) {
	plan, err := h.workflow.Execute(c.Request.Context(), c.Param("id"), command, input, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, plan, nil)
}
