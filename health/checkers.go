package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/hms-platform/hms/internal/rabbitmq"
	"github.com/hms-platform/hms/messaging"
)

// ConnectionStatus is satisfied by the RabbitMQ transport.
type ConnectionStatus interface {
	State() rabbitmq.ConnectionState
}

// RabbitMQChecker checks RabbitMQ connection health
type RabbitMQChecker struct {
	conn ConnectionStatus
}

// NewRabbitMQChecker creates a new RabbitMQ health checker. A nil conn reports
// the broker as not configured.
func NewRabbitMQChecker(conn ConnectionStatus) *RabbitMQChecker {
	return &RabbitMQChecker{conn: conn}
}

func (c *RabbitMQChecker) Name() string {
	return "rabbitmq"
}

func (c *RabbitMQChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	if c.conn == nil {
		result.Status = StatusDegraded
		result.Message = "Message broker not configured"
		result.Duration = time.Since(start)
		return result
	}

	state := c.conn.State()
	result.Details["state"] = state.String()

	switch state {
	case rabbitmq.StateConnected:
		result.Status = StatusHealthy
		result.Message = "Connection is healthy"
	case rabbitmq.StateConnecting:
		result.Status = StatusDegraded
		result.Message = "Connection is recovering"
	default:
		// requests degrade to failure responses, the service keeps serving
		result.Status = StatusDegraded
		result.Message = "Connection is down"
	}

	result.Duration = time.Since(start)
	return result
}

// ConsumerStatus is satisfied by *messaging.DurableConsumer.
type ConsumerStatus interface {
	Queue() string
	State() messaging.ConsumerState
}

// ConsumerChecker reports whether a durable consumer is subscribed
type ConsumerChecker struct {
	consumer ConsumerStatus
}

func NewConsumerChecker(consumer ConsumerStatus) *ConsumerChecker {
	return &ConsumerChecker{consumer: consumer}
}

func (c *ConsumerChecker) Name() string {
	return fmt.Sprintf("consumer_%s", c.consumer.Queue())
}

func (c *ConsumerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	state := c.consumer.State()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details: map[string]interface{}{
			"queue": c.consumer.Queue(),
			"state": state.String(),
		},
	}

	switch state {
	case messaging.ConsumerSubscribed:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("Consuming %s", c.consumer.Queue())
	case messaging.ConsumerStopped:
		result.Status = StatusUnhealthy
		result.Message = "Consumer stopped"
	default:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("Consumer is %s", state)
	}

	result.Duration = time.Since(start)
	return result
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker pings the database
type DatabaseChecker struct {
	db Pinger
}

func NewDatabaseChecker(db Pinger) *DatabaseChecker {
	return &DatabaseChecker{db: db}
}

func (c *DatabaseChecker) Name() string {
	return "database"
}

func (c *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	if err := c.db.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Database ping failed"
		result.Error = err.Error()
	} else {
		result.Status = StatusHealthy
		result.Message = "Database is reachable"
	}

	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()
	return result
}

// GoroutineChecker flags runaway goroutine counts
type GoroutineChecker struct {
	warningThreshold  int
	criticalThreshold int
}

func NewGoroutineChecker(warningThreshold, criticalThreshold int) *GoroutineChecker {
	return &GoroutineChecker{
		warningThreshold:  warningThreshold,
		criticalThreshold: criticalThreshold,
	}
}

func (c *GoroutineChecker) Name() string {
	return "goroutines"
}

func (c *GoroutineChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()

	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case goroutines > c.criticalThreshold:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case goroutines > c.warningThreshold:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Goroutine count is normal"
	}

	result.Duration = time.Since(start)
	return result
}

// ComponentChecker allows checking custom components
type ComponentChecker struct {
	name    string
	checker func(ctx context.Context) (Status, string, error)
}

// NewComponentChecker creates a checker for custom components
func NewComponentChecker(name string, checker func(ctx context.Context) (Status, string, error)) *ComponentChecker {
	return &ComponentChecker{
		name:    name,
		checker: checker,
	}
}

func (c *ComponentChecker) Name() string {
	return c.name
}

func (c *ComponentChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	status, message, err := c.checker(ctx)

	result := CheckResult{
		Name:      c.Name(),
		Status:    status,
		Message:   message,
		Timestamp: start,
	}
	if err != nil {
		result.Error = err.Error()
	}
	result.Duration = time.Since(start)
	return result
}
