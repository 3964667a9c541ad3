package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/health"
	"github.com/hms-platform/hms/internal/metrics"
	"github.com/hms-platform/hms/internal/platform/middleware"
	"github.com/hms-platform/hms/messaging"
)

type stubBroker struct {
	messaging.NoOpBroker
	resp contracts.MedicalHistoryResponse
}

func (b *stubBroker) RequestMedicalHistory(context.Context, uuid.UUID, string) (contracts.MedicalHistoryResponse, error) {
	return b.resp, nil
}
func (b *stubBroker) Available() bool { return true }
func (b *stubBroker) Name() string    { return "stub" }

type panicRoutes struct{}

func (panicRoutes) RegisterRoutes(api *echo.Group) {
	api.GET("/panic", func(echo.Context) error { panic("boom") })
}

func serve(s *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer(t *testing.T) {
	reg, m, err := metrics.NewRegistry()
	require.NoError(t, err)
	m.RecordRequest("medical_history", "success", 0)

	checks := health.NewRegistry(0, nil)
	checks.Register(health.NewRabbitMQChecker(nil))

	s := NewServer(Deps{
		Logger:   zerolog.Nop(),
		Broker:   messaging.NewNoOpBroker(nil),
		Health:   checks,
		Gatherer: reg,
		Routes:   []RouteRegistrar{panicRoutes{}},
	})

	t.Run("health", func(t *testing.T) {
		rec := serve(s, "/health")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"status":"degraded"`)
		assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
	})

	t.Run("metrics", func(t *testing.T) {
		rec := serve(s, "/metrics")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "hms_rpc_requests_total")
	})

	t.Run("panics become 500", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError, serve(s, "/api/panic").Code)
	})

	t.Run("db health is absent without a database", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, serve(s, "/health/db").Code)
	})
}

func TestDiagnostics(t *testing.T) {
	t.Run("no-op broker", func(t *testing.T) {
		s := NewServer(Deps{Logger: zerolog.Nop(), Broker: messaging.NewNoOpBroker(nil)})
		rec := serve(s, "/api/test/broker/"+uuid.NewString())
		require.Equal(t, http.StatusOK, rec.Code)

		var res BrokerTestResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.False(t, res.Success)
		assert.False(t, res.Available)
		assert.Equal(t, "noop", res.Broker)
		assert.Contains(t, res.Error, "not available")
	})

	t.Run("successful round trip", func(t *testing.T) {
		patientID := uuid.New()
		correlationID := uuid.New()
		b := &stubBroker{resp: contracts.SuccessResponse(correlationID, &contracts.MedicalHistory{PatientID: patientID})}
		s := NewServer(Deps{Logger: zerolog.Nop(), Broker: b})

		rec := serve(s, "/api/test/broker/"+patientID.String())
		var res BrokerTestResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.Success)
		assert.Equal(t, "stub", res.Broker)
		assert.Equal(t, correlationID, res.CorrelationID)
		require.NotNil(t, res.Response)
		assert.Equal(t, patientID, res.Response.MedicalHistory.PatientID)
	})

	t.Run("timeout", func(t *testing.T) {
		b := &stubBroker{resp: contracts.TimeoutResponse(uuid.New())}
		s := NewServer(Deps{Logger: zerolog.Nop(), Broker: b})

		var res BrokerTestResult
		require.NoError(t, json.Unmarshal(serve(s, "/api/test/broker/"+uuid.NewString()).Body.Bytes(), &res))
		assert.False(t, res.Success)
		assert.Equal(t, "No response or failed: Request timeout", res.Message)
	})

	t.Run("bad id", func(t *testing.T) {
		s := NewServer(Deps{Logger: zerolog.Nop(), Broker: messaging.NewNoOpBroker(nil)})
		assert.Equal(t, http.StatusBadRequest, serve(s, "/api/test/broker/xyz").Code)
	})
}
