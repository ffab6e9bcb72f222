package models

import "time"

// PlanStatus captures the workflow state of a lesson plan.
type PlanStatus string

const (
	PlanStatusDraft                 PlanStatus = "DRAFT"
	PlanStatusPendingAnalyst        PlanStatus = "PENDING_ANALYST"
	PlanStatusAnalystReview         PlanStatus = "ANALYST_REVIEW"
	PlanStatusReturnedByAnalyst     PlanStatus = "RETURNED_BY_ANALYST"
	PlanStatusPendingCoordinator    PlanStatus = "PENDING_COORDINATOR"
	PlanStatusReturnedByCoordinator PlanStatus = "RETURNED_BY_COORDINATOR"
	PlanStatusApproved              PlanStatus = "APPROVED"
)

// AllPlanStatuses enumerates every legal status value.
var AllPlanStatuses = []PlanStatus{
	PlanStatusDraft,
	PlanStatusPendingAnalyst,
	PlanStatusAnalystReview,
	PlanStatusReturnedByAnalyst,
	PlanStatusPendingCoordinator,
	PlanStatusReturnedByCoordinator,
	PlanStatusApproved,
}

// Valid reports whether the status is one of the defined values.
func (s PlanStatus) Valid() bool {
	for _, known := range AllPlanStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s PlanStatus) Terminal() bool {
	return s == PlanStatusApproved
}

// ReturnDestination selects where a coordinator return lands.
type ReturnDestination string

const (
	ReturnToAuthor  ReturnDestination = "AUTHOR"
	ReturnToAnalyst ReturnDestination = "ANALYST"
)

// Plan is one author's lesson-plan submission for a class and period.
type Plan struct {
	ID          string     `db:"id" json:"id"`
	AuthorID    string     `db:"author_id" json:"authorId"`
	ClassID     string     `db:"class_id" json:"classId"`
	PeriodID    string     `db:"period_id" json:"periodId"`
	Status      PlanStatus `db:"status" json:"status"`
	SubmittedAt *time.Time `db:"submitted_at" json:"submittedAt,omitempty"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approvedAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`

	Documents []Document `db:"-" json:"documents,omitempty"`
}

// PlanFilter constrains plan listing queries.
type PlanFilter struct {
	AuthorID string
	ClassID  string
	PeriodID string
	Status   []PlanStatus
	Limit    int
	Offset   int
}

// PlanStatusCount is one bucket of the dashboard status distribution.
type PlanStatusCount struct {
	Status PlanStatus `db:"status" json:"status"`
	Count  int        `db:"count" json:"count"`
}
