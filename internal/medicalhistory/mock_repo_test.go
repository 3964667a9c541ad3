package medicalhistory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/hms-platform/hms/contracts"
)

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) GetByPatient(ctx context.Context, patientID uuid.UUID) (*contracts.MedicalHistory, error) {
	args := m.Called(ctx, patientID)
	h, _ := args.Get(0).(*contracts.MedicalHistory)
	return h, args.Error(1)
}

func (m *mockRepo) GetByDocument(ctx context.Context, document string) (*contracts.MedicalHistory, error) {
	args := m.Called(ctx, document)
	h, _ := args.Get(0).(*contracts.MedicalHistory)
	return h, args.Error(1)
}

func (m *mockRepo) ExistsForPatient(ctx context.Context, patientID uuid.UUID) (bool, error) {
	args := m.Called(ctx, patientID)
	return args.Bool(0), args.Error(1)
}

func (m *mockRepo) Create(ctx context.Context, h *contracts.MedicalHistory) (bool, error) {
	args := m.Called(ctx, h)
	return args.Bool(0), args.Error(1)
}

// memRepo keeps histories in memory keyed by patient.
type memRepo struct {
	mu        sync.Mutex
	byPatient map[uuid.UUID]*contracts.MedicalHistory
}

func newMemRepo() *memRepo {
	return &memRepo{byPatient: make(map[uuid.UUID]*contracts.MedicalHistory)}
}

func (r *memRepo) GetByPatient(_ context.Context, patientID uuid.UUID) (*contracts.MedicalHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byPatient[patientID], nil
}

func (r *memRepo) GetByDocument(_ context.Context, document string) (*contracts.MedicalHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, h := range r.byPatient {
		if h.PatientDocument == document {
			return h, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ExistsForPatient(_ context.Context, patientID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byPatient[patientID]
	return ok, nil
}

func (r *memRepo) Create(_ context.Context, h *contracts.MedicalHistory) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPatient[h.PatientID]; ok {
		return false, nil
	}
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	r.byPatient[h.PatientID] = h
	return true, nil
}
