package repository

import (
	"context"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/models"
)

type AssignmentMirrorRepository struct {
	db DBTX
}

func NewAssignmentMirrorRepository(db DBTX) *AssignmentMirrorRepository {
	return &AssignmentMirrorRepository{db: db}
}

// Upsert writes the latest status. Empty coach and assessor ids keep the
// stored values.
func (r *AssignmentMirrorRepository) Upsert(ctx context.Context, mirror *models.AssignmentMirror) error {
	query := `
		INSERT INTO assignment_mirror (customer_id, coach_id, assessor_id, status, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (customer_id) DO UPDATE SET
			coach_id = COALESCE(NULLIF(EXCLUDED.coach_id, ''), assignment_mirror.coach_id),
			assessor_id = COALESCE(NULLIF(EXCLUDED.assessor_id, ''), assignment_mirror.assessor_id),
			status = EXCLUDED.status,
			updated_by = EXCLUDED.updated_by,
			updated_at = NOW()
		RETURNING coach_id, assessor_id, created_at, updated_at
	`
	return r.db.QueryRow(
		ctx,
		query,
		mirror.CustomerID,
		mirror.CoachID,
		mirror.AssessorID,
		mirror.Status,
		mirror.UpdatedBy,
	).Scan(&mirror.CoachID, &mirror.AssessorID, &mirror.CreatedAt, &mirror.UpdatedAt)
}

func (r *AssignmentMirrorRepository) AppendHistory(
	ctx context.Context,
	customerID string,
	record *models.AssignmentStatusRecord,
) error {
	query := `
		INSERT INTO assignment_status_history (customer_id, status, note, changed_by, changed_by_role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, changed_at
	`
	return r.db.QueryRow(
		ctx,
		query,
		customerID,
		record.Status,
		record.Note,
		record.ChangedBy,
		record.ChangedByRole,
	).Scan(&record.ID, &record.ChangedAt)
}

func (r *AssignmentMirrorRepository) GetByCustomerID(ctx context.Context, customerID string) (*models.AssignmentMirror, error) {
	query := `
		SELECT customer_id, coach_id, assessor_id, status, updated_by, created_at, updated_at
		FROM assignment_mirror
		WHERE customer_id = $1
	`
	var mirror models.AssignmentMirror
	err := r.db.QueryRow(ctx, query, customerID).Scan(
		&mirror.CustomerID,
		&mirror.CoachID,
		&mirror.AssessorID,
		&mirror.Status,
		&mirror.UpdatedBy,
		&mirror.CreatedAt,
		&mirror.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	history, err := r.ListHistory(ctx, customerID)
	if err != nil {
		return nil, err
	}
	mirror.History = history
	return &mirror, nil
}

func (r *AssignmentMirrorRepository) ListHistory(ctx context.Context, customerID string) ([]models.AssignmentStatusRecord, error) {
	query := `
		SELECT id, status, note, changed_by, changed_by_role, changed_at
		FROM assignment_status_history
		WHERE customer_id = $1
		ORDER BY changed_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]models.AssignmentStatusRecord, 0)
	for rows.Next() {
		var record models.AssignmentStatusRecord
		if err := rows.Scan(
			&record.ID,
			&record.Status,
			&record.Note,
			&record.ChangedBy,
			&record.ChangedByRole,
			&record.ChangedAt,
		); err != nil {
			return nil, err
		}
		history = append(history, record)
	}
	return history, rows.Err()
}
