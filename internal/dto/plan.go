package dto

import "github.com/noah-isme/lesson-plan-api/internal/models"

// OpenPlanRequest creates or fetches the author's draft plan for a
// class/period pair.
type OpenPlanRequest struct {
	ClassID  string `json:"classId" binding:"required"`
	PeriodID string `json:"periodId" binding:"required"`
}

// PlanQuery filters plan listings.
type PlanQuery struct {
	Status   []models.PlanStatus
	ClassID  string
	PeriodID string
	AuthorID string
	Limit    int
	Offset   int
}

// DocumentCommentInput carries a new comment created as part of a
// return action, keyed to the document it concerns.
type DocumentCommentInput struct {
	DocumentID string `json:"documentId" binding:"required"`
	Text       string `json:"text" binding:"required"`
}

// ReturnAnalystRequest carries the analyst's return feedback.
type ReturnAnalystRequest struct {
	Comments []DocumentCommentInput `json:"comments"`
}

// ReturnCoordinatorRequest carries the coordinator's return decision.
type ReturnCoordinatorRequest struct {
	Destination models.ReturnDestination `json:"destination" binding:"required"`
	Reason      string                   `json:"reason"`
	Comments    []DocumentCommentInput   `json:"comments"`
}

// PlanResponse is the plan aggregate as served to clients.
type PlanResponse struct {
	Plan    models.Plan               `json:"plan"`
	History []models.PlanHistoryEntry `json:"history,omitempty"`
}
