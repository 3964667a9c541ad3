package medicalhistory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/internal/cache"
)

const (
	patientKey  = "medical-history:patient:%s"
	documentKey = "medical-history:document:%s"
)

// Service answers medical-history lookups, both over HTTP and for the broker consumers.
type Service struct {
	repo   Repository
	cache  *cache.Cache[*contracts.MedicalHistory]
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, c *cache.Cache[*contracts.MedicalHistory], logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  c,
		logger: logger.With().Str("component", "medical-history").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// GetByPatient returns the patient's history or nil when none exists. Results,
// including the absence of a history, are cached.
func (s *Service) GetByPatient(ctx context.Context, patientID uuid.UUID) (*contracts.MedicalHistory, error) {
	return s.cache.GetOrLoad(ctx, fmt.Sprintf(patientKey, patientID), func(ctx context.Context) (*contracts.MedicalHistory, error) {
		return s.repo.GetByPatient(ctx, patientID)
	})
}

func (s *Service) GetByDocument(ctx context.Context, document string) (*contracts.MedicalHistory, error) {
	return s.cache.GetOrLoad(ctx, fmt.Sprintf(documentKey, document), func(ctx context.Context) (*contracts.MedicalHistory, error) {
		return s.repo.GetByDocument(ctx, document)
	})
}

// Create stores a new history. A patient has at most one.
func (s *Service) Create(ctx context.Context, h *contracts.MedicalHistory) error {
	if h.PatientID == uuid.Nil {
		return fmt.Errorf("patient id is required")
	}
	if h.PatientDocument == "" {
		return fmt.Errorf("patient document is required")
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now()
	}

	created, err := s.repo.Create(ctx, h)
	if err != nil {
		return err
	}
	if !created {
		return ErrAlreadyExists
	}
	s.invalidate(h)
	return nil
}

// EnsureForPatient creates an empty history for a newly registered patient. It
// is idempotent so redelivered events are harmless.
func (s *Service) EnsureForPatient(ctx context.Context, ev contracts.PatientCreated) (bool, error) {
	exists, err := s.repo.ExistsForPatient(ctx, ev.PatientID)
	if err != nil {
		return false, err
	}
	if exists {
		s.logger.Info().
			Str("patient_id", ev.PatientID.String()).
			Str("patient_name", ev.PatientName).
			Msg("medical history already exists")
		return false, nil
	}

	notes := fmt.Sprintf("Medical history created automatically for patient %s", ev.PatientName)
	h := &contracts.MedicalHistory{
		PatientID:       ev.PatientID,
		PatientDocument: ev.Document,
		Notes:           &notes,
		CreatedAt:       s.now(),
	}
	created, err := s.repo.Create(ctx, h)
	if err != nil {
		return false, err
	}
	if created {
		s.invalidate(h)
		s.logger.Info().
			Str("patient_id", ev.PatientID.String()).
			Str("medical_history_id", h.ID.String()).
			Msg("medical history created")
	}
	return created, nil
}

// GetMedicalHistory answers broker requests.
func (s *Service) GetMedicalHistory(ctx context.Context, req contracts.MedicalHistoryRequest) (*contracts.MedicalHistory, error) {
	s.logger.Debug().
		Str("patient_id", req.PatientID.String()).
		Str("correlation_id", req.CorrelationID.String()).
		Msg("processing medical history request")
	return s.GetByPatient(ctx, req.PatientID)
}

// HandlePatientCreated reacts to patient.created events.
func (s *Service) HandlePatientCreated(ctx context.Context, ev contracts.PatientCreated) error {
	_, err := s.EnsureForPatient(ctx, ev)
	if err != nil {
		s.logger.Error().Err(err).
			Str("patient_id", ev.PatientID.String()).
			Msg("failed to create medical history")
	}
	return err
}

func (s *Service) invalidate(h *contracts.MedicalHistory) {
	s.cache.Remove(fmt.Sprintf(patientKey, h.PatientID))
	s.cache.Remove(fmt.Sprintf(documentKey, h.PatientDocument))
}
