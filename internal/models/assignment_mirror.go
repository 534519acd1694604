package models

import "time"

// AssignmentMirror is the relational copy of an assignment's latest status,
// kept for reporting outside the document store.
type AssignmentMirror struct {
	CustomerID string                   `json:"customer_id"`
	CoachID    string                   `json:"coach_id"`
	AssessorID string                   `json:"assessor_id"`
	Status     string                   `json:"status"`
	UpdatedBy  string                   `json:"updated_by"`
	CreatedAt  time.Time                `json:"created_at"`
	UpdatedAt  time.Time                `json:"updated_at"`
	History    []AssignmentStatusRecord `json:"history"`
}

type AssignmentStatusRecord struct {
	ID            int64     `json:"id"`
	Status        string    `json:"status"`
	Note          string    `json:"note"`
	ChangedBy     string    `json:"changed_by"`
	ChangedByRole string    `json:"changed_by_role"`
	ChangedAt     time.Time `json:"changed_at"`
}
