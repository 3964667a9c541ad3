package contracts

import (
	"time"

	"github.com/google/uuid"
)

// Queue names shared by the services.
const (
	MedicalHistoryRequestQueue  = "medical-history-requests"
	MedicalHistoryResponseQueue = "medical-history-responses"
	PatientCreatedQueue         = "patient.created"
)

// Error messages placed in locally synthesized responses.
const (
	TimeoutMessage     = "Request timeout"
	CancelledMessage   = "Request cancelled"
	UnavailableMessage = "Message broker not available"
)

// Validator is implemented by messages that can check their own invariants after decoding.
type Validator interface {
	Validate() error
}

// MedicalHistoryRequest asks the medical-history service for a patient's history.
type MedicalHistoryRequest struct {
	PatientID       uuid.UUID `json:"PatientId"`
	PatientDocument string    `json:"PatientDocument"`
	CorrelationID   uuid.UUID `json:"CorrelationId"`
}

// NewMedicalHistoryRequest creates a request with a fresh correlation id.
func NewMedicalHistoryRequest(patientID uuid.UUID, document string) MedicalHistoryRequest {
	return MedicalHistoryRequest{
		PatientID:       patientID,
		PatientDocument: document,
		CorrelationID:   uuid.New(),
	}
}

func (r MedicalHistoryRequest) Validate() error {
	if r.CorrelationID == uuid.Nil {
		return ErrMissingCorrelationID
	}
	if r.PatientID == uuid.Nil {
		return ErrMissingPatientID
	}
	return nil
}

// MedicalHistoryResponse is the reply to a MedicalHistoryRequest. A failed response never
// carries a history and always carries an error message.
type MedicalHistoryResponse struct {
	CorrelationID  uuid.UUID       `json:"CorrelationId"`
	Success        bool            `json:"Success"`
	MedicalHistory *MedicalHistory `json:"MedicalHistory"`
	ErrorMessage   *string         `json:"ErrorMessage"`
}

// SuccessResponse builds a successful reply. history may be nil when the patient has none.
func SuccessResponse(correlationID uuid.UUID, history *MedicalHistory) MedicalHistoryResponse {
	return MedicalHistoryResponse{
		CorrelationID:  correlationID,
		Success:        true,
		MedicalHistory: history,
	}
}

// FailureResponse builds a failed reply with the given message.
func FailureResponse(correlationID uuid.UUID, message string) MedicalHistoryResponse {
	if message == "" {
		message = "unknown error"
	}
	return MedicalHistoryResponse{
		CorrelationID: correlationID,
		Success:       false,
		ErrorMessage:  &message,
	}
}

// TimeoutResponse is synthesized locally when no reply arrived before the deadline.
func TimeoutResponse(correlationID uuid.UUID) MedicalHistoryResponse {
	return FailureResponse(correlationID, TimeoutMessage)
}

// ErrorText returns the error message or an empty string.
func (r MedicalHistoryResponse) ErrorText() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}

// PatientCreated is published once a patient has been persisted.
type PatientCreated struct {
	PatientID   uuid.UUID `json:"PatientId"`
	Document    string    `json:"Document"`
	PatientName string    `json:"PatientName"`
	CreatedAt   time.Time `json:"CreatedAt"`
}

func (e PatientCreated) Validate() error {
	if e.PatientID == uuid.Nil {
		return ErrMissingPatientID
	}
	return nil
}
