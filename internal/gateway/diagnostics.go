package gateway

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/messaging"
)

const diagnosticDocument = "12345678901"

// BrokerTestResult reports the outcome of a diagnostic round trip.
type BrokerTestResult struct {
	Success       bool                              `json:"Success"`
	PatientID     uuid.UUID                         `json:"PatientId"`
	CorrelationID uuid.UUID                         `json:"CorrelationId"`
	Broker        string                            `json:"ServiceType"`
	Available     bool                              `json:"Available"`
	Message       string                            `json:"Message"`
	Response      *contracts.MedicalHistoryResponse `json:"Response,omitempty"`
	Error         string                            `json:"Error,omitempty"`
	ElapsedMs     int64                             `json:"ElapsedMs"`
	Timestamp     time.Time                         `json:"Timestamp"`
}

// DiagnosticsHandler exercises the broker RPC path on demand.
type DiagnosticsHandler struct {
	broker messaging.Broker
}

func NewDiagnosticsHandler(broker messaging.Broker) *DiagnosticsHandler {
	return &DiagnosticsHandler{broker: broker}
}

func (h *DiagnosticsHandler) RegisterRoutes(api *echo.Group) {
	api.GET("/test/broker/:patientId", h.TestBroker)
}

// TestBroker always answers 200; the body says whether the round trip worked.
func (h *DiagnosticsHandler) TestBroker(c echo.Context) error {
	patientID, err := uuid.Parse(c.Param("patientId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient id")
	}

	result := BrokerTestResult{
		PatientID: patientID,
		Broker:    h.broker.Name(),
		Available: h.broker.Available(),
		Timestamp: time.Now().UTC(),
	}

	start := time.Now()
	resp, err := h.broker.RequestMedicalHistory(c.Request().Context(), patientID, diagnosticDocument)
	result.ElapsedMs = time.Since(start).Milliseconds()
	result.CorrelationID = resp.CorrelationID
	result.Response = &resp
	result.Success = err == nil && resp.Success

	switch {
	case err != nil:
		result.Error = err.Error()
		result.Message = "Broker communication failed: " + resp.ErrorText()
	case resp.Success:
		result.Message = "Broker communication successful"
	default:
		result.Message = "No response or failed: " + resp.ErrorText()
	}
	return c.JSON(http.StatusOK, result)
}
