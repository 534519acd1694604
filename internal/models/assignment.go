package models

import (
	"fmt"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/docstore"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/workflow"
)

const AssignmentsCollection = "assignments"

type (
	Assignment   = workflow.Assignment
	StatusChange = workflow.StatusChange
)

func AssignmentPath(customerID string) string {
	return docstore.Join(AssignmentsCollection, customerID)
}

// ParseAssignment decodes an assignment document. Legacy status values are
// normalized and Status is rederived from the history. Entries without a
// status are kept so rewriting the history never drops them.
func ParseAssignment(doc docstore.Document) (Assignment, error) {
	data := doc.Data
	if data == nil {
		return Assignment{}, fmt.Errorf("%w: assignment %s has no data", ErrInvalidDocument, doc.Path)
	}

	customerID := stringField(data, "customerId")
	if customerID == "" {
		customerID = doc.ID
	}
	if customerID == "" {
		return Assignment{}, fmt.Errorf("%w: assignment without customerId", ErrInvalidDocument)
	}

	history := make([]StatusChange, 0)
	if raw, ok := data["statusHistory"].([]any); ok {
		for i, item := range raw {
			entry, ok := item.(map[string]any)
			if !ok {
				return Assignment{}, fmt.Errorf("%w: assignment %s history entry %d", ErrInvalidDocument, customerID, i)
			}
			history = append(history, StatusChange{
				Status:        workflow.Normalize(stringField(entry, "status")),
				ChangedAt:     timeField(entry, "changedAt"),
				ChangedByRole: stringField(entry, "changedByRole"),
				Note:          stringField(entry, "note"),
			})
		}
	}

	a := Assignment{
		ID:            customerID,
		CustomerID:    customerID,
		CoachID:       stringField(data, "coachId"),
		Status:        workflow.Normalize(stringField(data, "status")),
		StatusHistory: history,
		CreatedAt:     timeField(data, "createdAt"),
		CreatedBy:     stringField(data, "createdBy"),
		UpdatedAt:     timeField(data, "updatedAt"),
	}
	a.Status = a.CurrentStatus()
	return a, nil
}

func EncodeAssignment(a Assignment) map[string]any {
	return map[string]any{
		"customerId":    a.CustomerID,
		"coachId":       a.CoachID,
		"status":        string(a.CurrentStatus()),
		"statusHistory": EncodeStatusHistory(a.StatusHistory),
		"createdAt":     FormatTimestamp(a.CreatedAt),
		"createdBy":     a.CreatedBy,
		"updatedAt":     FormatTimestamp(a.UpdatedAt),
	}
}

func EncodeStatusHistory(history []StatusChange) []any {
	out := make([]any, 0, len(history))
	for _, change := range history {
		entry := map[string]any{
			"changedAt":     FormatTimestamp(change.ChangedAt),
			"changedByRole": change.ChangedByRole,
		}
		if change.Status != "" {
			entry["status"] = string(change.Status)
		}
		if change.Note != "" {
			entry["note"] = change.Note
		}
		out = append(out, entry)
	}
	return out
}
