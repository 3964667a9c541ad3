package patients

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/internal/cache"
	"github.com/hms-platform/hms/messaging"
)

func newTestService(t *testing.T, repo Repository, broker messaging.Broker) *Service {
	t.Helper()
	c := cache.New[*Patient]("patients", time.Minute)
	t.Cleanup(c.Close)
	return NewService(repo, c, broker, zerolog.Nop())
}

func validPatient() *Patient {
	return &Patient{
		UserID:      uuid.New(),
		Name:        "Maria Silva",
		BirthDate:   time.Date(1990, 4, 12, 0, 0, 0, 0, time.UTC),
		Document:    "12345678901",
		Contact:     "Joao Silva",
		Email:       "maria@example.com",
		PhoneNumber: "11999998888",
	}
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("publishes patient.created", func(t *testing.T) {
		broker := &mockBroker{}
		svc := newTestService(t, newMemRepo(), broker)
		broker.On("Publish", mock.Anything, contracts.PatientCreatedQueue, mock.MatchedBy(func(ev contracts.PatientCreated) bool {
			return ev.PatientName == "Maria Silva" && ev.Document == "12345678901" && ev.PatientID != uuid.Nil
		})).Return(nil).Once()

		p := validPatient()
		require.NoError(t, svc.Create(ctx, p))
		assert.NotEqual(t, uuid.Nil, p.ID)
		broker.AssertExpectations(t)
	})

	t.Run("broker failure does not fail creation", func(t *testing.T) {
		broker := &mockBroker{}
		svc := newTestService(t, newMemRepo(), broker)
		broker.On("Publish", mock.Anything, contracts.PatientCreatedQueue, mock.Anything).Return(assert.AnError)

		require.NoError(t, svc.Create(ctx, validPatient()))
	})

	t.Run("without a broker", func(t *testing.T) {
		svc := newTestService(t, newMemRepo(), messaging.NewNoOpBroker(nil))
		require.NoError(t, svc.Create(ctx, validPatient()))
	})

	t.Run("invalid patients are not stored", func(t *testing.T) {
		repo := newMemRepo()
		svc := newTestService(t, repo, &mockBroker{})

		p := validPatient()
		p.Document = "123"
		assert.Error(t, svc.Create(ctx, p))
		assert.Empty(t, repo.patients)
	})

	t.Run("duplicate document", func(t *testing.T) {
		broker := &mockBroker{}
		broker.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		svc := newTestService(t, newMemRepo(), broker)

		require.NoError(t, svc.Create(ctx, validPatient()))
		assert.ErrorIs(t, svc.Create(ctx, validPatient()), ErrDuplicateDocument)
	})
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	broker := &mockBroker{}
	broker.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc := newTestService(t, repo, broker)

	p := validPatient()
	require.NoError(t, svc.Create(ctx, p))

	for i := 0; i < 3; i++ {
		got, err := svc.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "Maria Silva", got.Name)
	}
	assert.Equal(t, 1, repo.gets)

	_, err := svc.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_GetWithMedicalHistory(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Service, *mockBroker, *Patient) {
		broker := &mockBroker{}
		broker.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
		svc := newTestService(t, newMemRepo(), broker)
		p := validPatient()
		require.NoError(t, svc.Create(ctx, p))
		return svc, broker, p
	}

	t.Run("includes the history on success", func(t *testing.T) {
		svc, broker, p := setup(t)
		history := &contracts.MedicalHistory{ID: uuid.New(), PatientID: p.ID}
		broker.On("RequestMedicalHistory", mock.Anything, p.ID, p.Document).
			Return(contracts.SuccessResponse(uuid.New(), history), nil)

		out, err := svc.GetWithMedicalHistory(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.ID, out.ID)
		assert.Equal(t, history, out.MedicalHistory)
	})

	t.Run("timeout leaves the history empty", func(t *testing.T) {
		svc, broker, p := setup(t)
		broker.On("RequestMedicalHistory", mock.Anything, p.ID, p.Document).
			Return(contracts.TimeoutResponse(uuid.New()), nil)

		out, err := svc.GetWithMedicalHistory(ctx, p.ID)
		require.NoError(t, err)
		assert.Nil(t, out.MedicalHistory)
		assert.Equal(t, "Maria Silva", out.Name)
	})

	t.Run("transport failure leaves the history empty", func(t *testing.T) {
		svc, broker, p := setup(t)
		broker.On("RequestMedicalHistory", mock.Anything, p.ID, p.Document).
			Return(contracts.FailureResponse(uuid.New(), "Request failed: not connected"), messaging.ErrRequestFailed)

		out, err := svc.GetWithMedicalHistory(ctx, p.ID)
		require.NoError(t, err)
		assert.Nil(t, out.MedicalHistory)
	})

	t.Run("unknown patient", func(t *testing.T) {
		svc, broker, _ := setup(t)
		_, err := svc.GetWithMedicalHistory(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		broker.AssertNotCalled(t, "RequestMedicalHistory", mock.Anything, mock.Anything, mock.Anything)
	})
}
