package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	t.Run("NewRegistry registers core collectors", func(t *testing.T) {
		reg, m, err := NewRegistry()
		require.NoError(t, err)
		require.NotNil(t, m)

		m.RecordRequest("medical_history", "resolved", 20*time.Millisecond)
		families, err := reg.Gather()
		require.NoError(t, err)

		names := make(map[string]bool)
		for _, f := range families {
			names[f.GetName()] = true
		}
		assert.True(t, names["hms_rpc_requests_total"])
		assert.True(t, names["hms_rpc_request_duration_seconds"])
	})

	t.Run("Register twice fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m := New()
		require.NoError(t, m.Register(reg))
		assert.Error(t, m.Register(reg))
	})

	t.Run("record methods update collectors", func(t *testing.T) {
		m := New()

		m.RecordRequest("medical_history", "expired", time.Second)
		m.RecordOrphanResponse()
		m.SetPending(3)
		m.RecordMessageProcessed("q", "ack")
		m.RecordConsumerRestart("q")
		m.SetConsumerState("q", 2)
		m.RecordPublish("q", nil)
		m.RecordPublish("q", errors.New("boom"))
		m.RecordCacheHit("medical-history")
		m.RecordCacheMiss("medical-history")

		assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCRequests.WithLabelValues("medical_history", "expired")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.RPCOrphanResponses))
		assert.Equal(t, 3.0, testutil.ToFloat64(m.RPCPending))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesProcessed.WithLabelValues("q", "ack")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.ConsumerRestarts.WithLabelValues("q")))
		assert.Equal(t, 2.0, testutil.ToFloat64(m.ConsumerState.WithLabelValues("q")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesPublished.WithLabelValues("q", "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesPublished.WithLabelValues("q", "error")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheHits.WithLabelValues("medical-history")))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheMisses.WithLabelValues("medical-history")))
	})

	t.Run("connection listener", func(t *testing.T) {
		m := New()
		m.OnConnected()
		assert.Equal(t, 1.0, testutil.ToFloat64(m.BrokerConnected))
		m.OnDisconnected(errors.New("gone"))
		assert.Equal(t, 0.0, testutil.ToFloat64(m.BrokerConnected))
		m.OnReconnecting(1)
		m.OnReconnecting(2)
		assert.Equal(t, 2.0, testutil.ToFloat64(m.BrokerReconnects))
	})

	t.Run("nil receiver is a no-op", func(t *testing.T) {
		var m *Metrics
		assert.NotPanics(t, func() {
			m.RecordRequest("x", "y", time.Millisecond)
			m.SetPending(1)
			m.RecordOrphanResponse()
			m.RecordMessageProcessed("q", "ack")
			m.SetConsumerState("q", 1)
			m.RecordConsumerRestart("q")
			m.RecordPublish("q", nil)
			m.RecordCacheHit("c")
			m.RecordCacheMiss("c")
			m.OnConnected()
			m.OnDisconnected(nil)
			m.OnReconnecting(1)
		})
	})
}
