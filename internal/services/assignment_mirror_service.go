package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/elcapodeicapi/EVC-website-sub000/internal/assignments"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/models"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/repository"
	"github.com/elcapodeicapi/EVC-website-sub000/internal/workflow"
	"github.com/jackc/pgx/v5"
)

// gatewayActor marks mirror rows written by the gateway itself rather than a
// signed-in caller.
const gatewayActor = "gateway"

type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type mirrorReader interface {
	GetByCustomerID(ctx context.Context, customerID string) (*models.AssignmentMirror, error)
}

type AssignmentMirrorService struct {
	db   txBeginner
	repo mirrorReader
}

func NewAssignmentMirrorService(db txBeginner, repo mirrorReader) *AssignmentMirrorService {
	return &AssignmentMirrorService{db: db, repo: repo}
}

// Record stores the new status and appends it to the history in one
// transaction.
func (s *AssignmentMirrorService) Record(
	ctx context.Context,
	customerID string,
	update assignments.StatusUpdate,
	changedBy string,
	changedByRole string,
) (*models.AssignmentMirror, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	status, err := workflow.Parse(update.Status)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txRepo := repository.NewAssignmentMirrorRepository(tx)
	mirror := &models.AssignmentMirror{
		CustomerID: customerID,
		CoachID:    strings.TrimSpace(update.CoachID),
		AssessorID: strings.TrimSpace(update.AssessorID),
		Status:     string(status),
		UpdatedBy:  changedBy,
	}
	if err := txRepo.Upsert(ctx, mirror); err != nil {
		return nil, err
	}

	record := models.AssignmentStatusRecord{
		Status:        string(status),
		Note:          strings.TrimSpace(update.Note),
		ChangedBy:     changedBy,
		ChangedByRole: changedByRole,
	}
	if err := txRepo.AppendHistory(ctx, customerID, &record); err != nil {
		return nil, err
	}

	history, err := txRepo.ListHistory(ctx, customerID)
	if err != nil {
		return nil, err
	}
	mirror.History = history

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return mirror, nil
}

// RecordStatus lets the gateway's own assignment service mirror into the
// database without an HTTP round trip.
func (s *AssignmentMirrorService) RecordStatus(ctx context.Context, customerID string, update assignments.StatusUpdate) error {
	_, err := s.Record(ctx, customerID, update, gatewayActor, workflow.RoleAdmin)
	return err
}

func (s *AssignmentMirrorService) Get(ctx context.Context, customerID string) (*models.AssignmentMirror, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidInput)
	}
	return s.repo.GetByCustomerID(ctx, customerID)
}
