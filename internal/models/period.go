package models

import "time"

// Period is a fixed scheduling window plans are submitted against.
type Period struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	StartsAt  time.Time `db:"starts_at" json:"startsAt"`
	EndsAt    time.Time `db:"ends_at" json:"endsAt"`
	Deadline  time.Time `db:"deadline" json:"deadline"`
	Sequence  int       `db:"sequence" json:"sequence"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// PeriodView decorates a period with the class-scoped unlock flag.
// A period is unlocked for a class once the prior period's plan for
// that class reached APPROVED (the first period is always unlocked).
type PeriodView struct {
	Period
	Unlocked bool `json:"unlocked"`
}
