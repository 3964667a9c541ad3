package contracts

import (
	"time"

	"github.com/google/uuid"
)

// MedicalHistory is the payload returned by the medical-history service.
type MedicalHistory struct {
	ID              uuid.UUID      `json:"Id"`
	PatientID       uuid.UUID      `json:"PatientId"`
	PatientDocument string         `json:"PatientDocument"`
	Notes           *string        `json:"Notes"`
	CreatedAt       time.Time      `json:"CreatedAt"`
	UpdatedAt       *time.Time     `json:"UpdatedAt"`
	Diagnoses       []Diagnosis    `json:"Diagnoses"`
	Exams           []Exam         `json:"Exams"`
	Prescriptions   []Prescription `json:"Prescriptions"`
}

type Diagnosis struct {
	ID          uuid.UUID `json:"Id"`
	Description string    `json:"Description"`
	Date        time.Time `json:"Date"`
}

type Exam struct {
	ID     uuid.UUID `json:"Id"`
	Type   string    `json:"Type"`
	Date   time.Time `json:"Date"`
	Result *string   `json:"Result"`
}

type Prescription struct {
	ID         uuid.UUID `json:"Id"`
	Medication string    `json:"Medication"`
	Dosage     string    `json:"Dosage"`
	Date       time.Time `json:"Date"`
}
