package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hms-platform/hms/internal/rabbitmq"
	"github.com/hms-platform/hms/messaging"
)

type fakeConn rabbitmq.ConnectionState

func (f fakeConn) State() rabbitmq.ConnectionState { return rabbitmq.ConnectionState(f) }

type fakeConsumer messaging.ConsumerState

func (f fakeConsumer) Queue() string                  { return "medical-history-responses" }
func (f fakeConsumer) State() messaging.ConsumerState { return messaging.ConsumerState(f) }

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestRabbitMQChecker(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		conn ConnectionStatus
		want Status
	}{
		{"connected", fakeConn(rabbitmq.StateConnected), StatusHealthy},
		{"connecting", fakeConn(rabbitmq.StateConnecting), StatusDegraded},
		{"disconnected", fakeConn(rabbitmq.StateDisconnected), StatusDegraded},
		{"not configured", nil, StatusDegraded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewRabbitMQChecker(tt.conn).Check(ctx)
			assert.Equal(t, "rabbitmq", res.Name)
			assert.Equal(t, tt.want, res.Status)
		})
	}
}

func TestConsumerChecker(t *testing.T) {
	ctx := context.Background()

	res := NewConsumerChecker(fakeConsumer(messaging.ConsumerSubscribed)).Check(ctx)
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "consumer_medical-history-responses", res.Name)

	res = NewConsumerChecker(fakeConsumer(messaging.ConsumerReconnecting)).Check(ctx)
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "reconnecting", res.Details["state"])

	res = NewConsumerChecker(fakeConsumer(messaging.ConsumerStopped)).Check(ctx)
	assert.Equal(t, StatusUnhealthy, res.Status)
}

func TestDatabaseChecker(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, StatusHealthy, NewDatabaseChecker(fakePinger{}).Check(ctx).Status)

	res := NewDatabaseChecker(fakePinger{err: errors.New("refused")}).Check(ctx)
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "refused", res.Error)
}

func TestRegistry(t *testing.T) {
	t.Run("worst status wins", func(t *testing.T) {
		r := NewRegistry(0, nil)
		r.Register(
			NewDatabaseChecker(fakePinger{}),
			NewRabbitMQChecker(fakeConn(rabbitmq.StateConnecting)),
			NewGoroutineChecker(1<<20, 1<<21),
		)

		report := r.Check(context.Background())
		assert.Equal(t, StatusDegraded, report.Status)
		require.Len(t, report.Checks, 3)
		assert.Equal(t, "database", report.Checks[0].Name)
	})

	t.Run("handler maps unhealthy to 503", func(t *testing.T) {
		r := NewRegistry(0, nil)
		r.Register(NewComponentChecker("cache", func(context.Context) (Status, string, error) {
			return StatusUnhealthy, "cache closed", errors.New("closed")
		}))

		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
		require.NoError(t, r.Handler()(c))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var report Report
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
		assert.Equal(t, StatusUnhealthy, report.Status)
		assert.Equal(t, "closed", report.Checks[0].Error)
	})

	t.Run("empty registry is healthy", func(t *testing.T) {
		assert.Equal(t, StatusHealthy, NewRegistry(0, nil).Check(context.Background()).Status)
	})
}
