// Package metrics holds the Prometheus collectors for the broker, the RPC
// correlation path, the durable consumers and the read-through cache.
//
// Every Record method is safe on a nil *Metrics so components can be built
// without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "hms"

// Metrics contains the core collectors
type Metrics struct {
	// RPC
	RPCRequests        *prometheus.CounterVec
	RPCDuration        *prometheus.HistogramVec
	RPCPending         prometheus.Gauge
	RPCOrphanResponses prometheus.Counter

	// Consumers
	MessagesProcessed *prometheus.CounterVec
	ConsumerState     *prometheus.GaugeVec
	ConsumerRestarts  *prometheus.CounterVec

	// Broker
	BrokerConnected  prometheus.Gauge
	BrokerReconnects prometheus.Counter
	MessagesPublished *prometheus.CounterVec

	// Cache
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New creates the collectors. They are not registered until Register is called.
func New() *Metrics {
	return &Metrics{
		RPCRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total RPC requests by outcome",
			},
			[]string{"operation", "outcome"},
		),
		RPCDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Time from publish to completion of an RPC request",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"operation"},
		),
		RPCPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "pending_requests",
				Help:      "Requests waiting for a response",
			},
		),
		RPCOrphanResponses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "orphan_responses_total",
				Help:      "Responses whose correlation id had no pending request",
			},
		),
		MessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "messages_processed_total",
				Help:      "Deliveries settled by consumers",
			},
			[]string{"queue", "disposition"},
		),
		ConsumerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "state",
				Help:      "Consumer lifecycle state (0=idle, 1=connecting, 2=subscribed, 3=reconnecting, 4=stopped)",
			},
			[]string{"queue"},
		),
		ConsumerRestarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "consumer",
				Name:      "restarts_total",
				Help:      "Subscriptions re-established after a loss",
			},
			[]string{"queue"},
		),
		BrokerConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "connected",
				Help:      "Broker connection status (1=connected, 0=disconnected)",
			},
		),
		BrokerReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "reconnects_total",
				Help:      "Reconnection attempts to the broker",
			},
		),
		MessagesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "broker",
				Name:      "messages_published_total",
				Help:      "Messages published by queue and result",
			},
			[]string{"queue", "result"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Cache hits",
			},
			[]string{"cache"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Cache misses",
			},
			[]string{"cache"},
		),
	}
}

// Register adds all collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RPCRequests,
		m.RPCDuration,
		m.RPCPending,
		m.RPCOrphanResponses,
		m.MessagesProcessed,
		m.ConsumerState,
		m.ConsumerRestarts,
		m.BrokerConnected,
		m.BrokerReconnects,
		m.MessagesPublished,
		m.CacheHits,
		m.CacheMisses,
	}
}

// NewRegistry creates a Prometheus registry with the core collectors plus the
// Go runtime and process collectors.
func NewRegistry() (*prometheus.Registry, *Metrics, error) {
	reg := prometheus.NewRegistry()
	m := New()
	if err := m.Register(reg); err != nil {
		return nil, nil, err
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, m, nil
}

// RecordRequest records a completed RPC request
func (m *Metrics) RecordRequest(operation, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RPCRequests.WithLabelValues(operation, outcome).Inc()
	m.RPCDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetPending sets the number of in-flight requests
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.RPCPending.Set(float64(n))
}

// RecordOrphanResponse counts a response nobody was waiting for
func (m *Metrics) RecordOrphanResponse() {
	if m == nil {
		return
	}
	m.RPCOrphanResponses.Inc()
}

// RecordMessageProcessed records how a consumer settled a delivery
func (m *Metrics) RecordMessageProcessed(queue, disposition string) {
	if m == nil {
		return
	}
	m.MessagesProcessed.WithLabelValues(queue, disposition).Inc()
}

// SetConsumerState records the lifecycle state of the consumer on queue
func (m *Metrics) SetConsumerState(queue string, state int) {
	if m == nil {
		return
	}
	m.ConsumerState.WithLabelValues(queue).Set(float64(state))
}

// RecordConsumerRestart counts a resubscription
func (m *Metrics) RecordConsumerRestart(queue string) {
	if m == nil {
		return
	}
	m.ConsumerRestarts.WithLabelValues(queue).Inc()
}

// RecordPublish records a publish attempt
func (m *Metrics) RecordPublish(queue string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.MessagesPublished.WithLabelValues(queue, result).Inc()
}

// RecordCacheHit counts a hit on the named cache
func (m *Metrics) RecordCacheHit(cache string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss counts a miss on the named cache
func (m *Metrics) RecordCacheMiss(cache string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(cache).Inc()
}

// OnConnected implements rabbitmq.ConnectionStateListener
func (m *Metrics) OnConnected() {
	if m == nil {
		return
	}
	m.BrokerConnected.Set(1)
}

// OnDisconnected implements rabbitmq.ConnectionStateListener
func (m *Metrics) OnDisconnected(err error) {
	if m == nil {
		return
	}
	m.BrokerConnected.Set(0)
}

// OnReconnecting implements rabbitmq.ConnectionStateListener
func (m *Metrics) OnReconnecting(attempt int) {
	if m == nil {
		return
	}
	m.BrokerReconnects.Inc()
}
