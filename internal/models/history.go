package models

import "time"

// PlanAction identifies one workflow action in the history trail.
type PlanAction string

const (
	PlanActionCreated             PlanAction = "CREATED"
	PlanActionSubmitted           PlanAction = "SUBMITTED"
	PlanActionAnalysisStarted     PlanAction = "ANALYSIS_STARTED"
	PlanActionApprovedAnalyst     PlanAction = "APPROVED_ANALYST"
	PlanActionReturnedAnalyst     PlanAction = "RETURNED_ANALYST"
	PlanActionApprovedCoordinator PlanAction = "APPROVED_COORDINATOR"
	PlanActionReturnedCoordinator PlanAction = "RETURNED_COORDINATOR"
)

// PlanHistoryEntry is one immutable record of a committed workflow action.
// Entries are append-only and totally ordered per plan.
type PlanHistoryEntry struct {
	ID         string     `db:"id" json:"id"`
	PlanID     string     `db:"plan_id" json:"planId"`
	Action     PlanAction `db:"action" json:"action"`
	ActorID    string     `db:"actor_id" json:"actorId"`
	ActorName  string     `db:"actor_name" json:"actorName"`
	ActorRole  UserRole   `db:"actor_role" json:"actorRole"`
	FromStatus PlanStatus `db:"from_status" json:"fromStatus"`
	ToStatus   PlanStatus `db:"to_status" json:"toStatus"`
	Detail     *string    `db:"detail" json:"detail,omitempty"`
	CreatedAt  time.Time  `db:"created_at" json:"createdAt"`
}
