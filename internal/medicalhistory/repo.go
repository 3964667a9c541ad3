package medicalhistory

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/hms-platform/hms/contracts"
)

var (
	ErrNotFound      = errors.New("medical history not found")
	ErrAlreadyExists = errors.New("medical history already exists for patient")
)

// Repository persists medical histories. Lookups return (nil, nil) when the patient
// has no history.
type Repository interface {
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*contracts.MedicalHistory, error)
	GetByDocument(ctx context.Context, document string) (*contracts.MedicalHistory, error)
	ExistsForPatient(ctx context.Context, patientID uuid.UUID) (bool, error)
	// Create stores h and its entries. It reports false when the patient already has a history.
	Create(ctx context.Context, h *contracts.MedicalHistory) (bool, error)
}
