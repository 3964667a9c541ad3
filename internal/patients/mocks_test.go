package patients

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/messaging"
)

type mockBroker struct {
	mock.Mock
}

func (m *mockBroker) Publish(ctx context.Context, destination string, message any, opts ...messaging.PublishOption) error {
	return m.Called(ctx, destination, message).Error(0)
}

func (m *mockBroker) RequestMedicalHistory(ctx context.Context, patientID uuid.UUID, document string) (contracts.MedicalHistoryResponse, error) {
	args := m.Called(ctx, patientID, document)
	return args.Get(0).(contracts.MedicalHistoryResponse), args.Error(1)
}

func (m *mockBroker) PublishMedicalHistoryResponse(ctx context.Context, replyTo string, resp contracts.MedicalHistoryResponse) error {
	return m.Called(ctx, replyTo, resp).Error(0)
}

func (m *mockBroker) Available() bool { return true }
func (m *mockBroker) Name() string    { return "mock" }
func (m *mockBroker) Close() error    { return nil }

type memRepo struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*Patient
	gets     int
}

func newMemRepo() *memRepo {
	return &memRepo{patients: make(map[uuid.UUID]*Patient)}
}

func (r *memRepo) Create(_ context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.patients {
		if existing.Document == p.Document {
			return ErrDuplicateDocument
		}
	}
	p.ID = uuid.New()
	cp := *p
	r.patients[p.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	p, ok := r.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}
