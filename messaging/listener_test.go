package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hms-platform/hms/contracts"
	"github.com/hms-platform/hms/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseListener(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves the matching pending request", func(t *testing.T) {
		registry := NewRegistry[contracts.MedicalHistoryResponse]()
		listener := NewResponseListener(registry)
		id := uuid.New()
		p, err := registry.Register(id, time.Second)
		require.NoError(t, err)

		body, err := contracts.Encode(contracts.FailureResponse(id, "patient not found"))
		require.NoError(t, err)

		assert.Equal(t, Ack, listener.HandleDelivery(ctx, amqp.Delivery{Body: body}))
		<-p.Done()
		assert.Equal(t, Resolved, p.Outcome().Resolution)
		assert.Equal(t, "patient not found", p.Outcome().Value.ErrorText())
	})

	t.Run("acks orphan responses", func(t *testing.T) {
		m := metrics.New()
		listener := NewResponseListener(NewRegistry[contracts.MedicalHistoryResponse](), WithListenerMetrics(m))

		body, err := contracts.Encode(contracts.SuccessResponse(uuid.New(), nil))
		require.NoError(t, err)

		assert.Equal(t, Ack, listener.HandleDelivery(ctx, amqp.Delivery{Body: body}))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCOrphanResponses))
	})

	t.Run("falls back to the correlation id property", func(t *testing.T) {
		registry := NewRegistry[contracts.MedicalHistoryResponse]()
		listener := NewResponseListener(registry)
		id := uuid.New()
		p, err := registry.Register(id, time.Second)
		require.NoError(t, err)

		body := []byte(`{"Success":true,"MedicalHistory":null,"ErrorMessage":null}`)
		assert.Equal(t, Ack, listener.HandleDelivery(ctx, amqp.Delivery{Body: body, CorrelationId: id.String()}))
		<-p.Done()
		assert.Equal(t, id, p.Outcome().Value.CorrelationID)
	})

	tests := []struct {
		name          string
		body          string
		correlationID string
	}{
		{name: "invalid json", body: `{"CorrelationId":`},
		{name: "empty body", body: ``},
		{name: "null body", body: `null`},
		{name: "no correlation id anywhere", body: `{"Success":true}`},
		{name: "malformed correlation property", body: `{"Success":true}`, correlationID: "not-a-uuid"},
	}
	for _, tt := range tests {
		t.Run("rejects "+tt.name, func(t *testing.T) {
			listener := NewResponseListener(NewRegistry[contracts.MedicalHistoryResponse]())
			d := amqp.Delivery{Body: []byte(tt.body), CorrelationId: tt.correlationID}
			assert.Equal(t, Reject, listener.HandleDelivery(ctx, d))
		})
	}
}
