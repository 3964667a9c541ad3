package patients

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/internal/cache"
	"github.com/hms-platform/hms/messaging"
)

const patientKey = "patient:%s"

type Service struct {
	repo   Repository
	cache  *cache.Cache[*Patient]
	broker messaging.Broker
	logger zerolog.Logger
}

func NewService(repo Repository, c *cache.Cache[*Patient], broker messaging.Broker, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		cache:  c,
		broker: broker,
		logger: logger.With().Str("component", "patients").Logger(),
	}
}

// Create stores the patient and announces it on patient.created. The announcement
// is best effort; a broker failure does not fail the creation.
func (s *Service) Create(ctx context.Context, p *Patient) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}

	if err := s.broker.Publish(ctx, contracts.PatientCreatedQueue, p.createdEvent()); err != nil {
		s.logger.Warn().Err(err).
			Str("patient_id", p.ID.String()).
			Str("broker", s.broker.Name()).
			Msg("failed to publish patient.created")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.cache.GetOrLoad(ctx, fmt.Sprintf(patientKey, id), func(ctx context.Context) (*Patient, error) {
		return s.repo.GetByID(ctx, id)
	})
}

// GetWithMedicalHistory combines the patient with the history requested over the
// broker. RPC failures and timeouts leave MedicalHistory nil.
func (s *Service) GetWithMedicalHistory(ctx context.Context, id uuid.UUID) (*WithMedicalHistory, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &WithMedicalHistory{Patient: *p}

	resp, err := s.broker.RequestMedicalHistory(ctx, p.ID, p.Document)
	switch {
	case err != nil:
		s.logger.Warn().Err(err).
			Str("patient_id", p.ID.String()).
			Msg("medical history request failed")
	case !resp.Success:
		s.logger.Warn().
			Str("patient_id", p.ID.String()).
			Str("correlation_id", resp.CorrelationID.String()).
			Str("error", resp.ErrorText()).
			Msg("medical history unavailable")
	default:
		out.MedicalHistory = resp.MedicalHistory
	}
	return out, nil
}
