package dto

import (
	"time"

	"github.com/noah-isme/lesson-plan-api/internal/models"
)

// DashboardQuery scopes the status distribution projection.
type DashboardQuery struct {
	PeriodID string
	ClassID  string
	AuthorID string
}

// PlanDashboardResponse is the folded status distribution for the
// requested segment.
type PlanDashboardResponse struct {
	PeriodID    string                   `json:"periodId,omitempty"`
	ClassID     string                   `json:"classId,omitempty"`
	Total       int                      `json:"total"`
	Approved    int                      `json:"approved"`
	InReview    int                      `json:"inReview"`
	Returned    int                      `json:"returned"`
	Draft       int                      `json:"draft"`
	ByStatus    []models.PlanStatusCount `json:"byStatus"`
	GeneratedAt time.Time                `json:"generatedAt"`
}
