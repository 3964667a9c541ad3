package rabbitmq

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// QueueDeclaration defines a queue to be declared
type QueueDeclaration struct {
	Name       string
	Durable    bool
	AutoDelete bool
	Exclusive  bool
	Arguments  amqp.Table
}

// DurableQueue is the declaration every HMS queue uses.
func DurableQueue(name string) QueueDeclaration {
	return QueueDeclaration{Name: name, Durable: true}
}

// TopologyManager declares queues and remembers which ones already exist on the
// current connection, so repeated publishes do not redeclare them.
type TopologyManager struct {
	conn *ConnectionManager

	mu         sync.Mutex
	generation uint64
	declared   map[string]struct{}
}

// NewTopologyManager creates a new topology manager
func NewTopologyManager(conn *ConnectionManager) *TopologyManager {
	return &TopologyManager{
		conn:     conn,
		declared: make(map[string]struct{}),
	}
}

// DeclareQueue declares queue on the shared channel.
func (tm *TopologyManager) DeclareQueue(ctx context.Context, queue QueueDeclaration) error {
	return tm.conn.WithChannel(ctx, func(ch Channel) error {
		return tm.declareQueue(ch, queue)
	})
}

// EnsureQueue declares queue once per connection generation.
func (tm *TopologyManager) EnsureQueue(ctx context.Context, queue QueueDeclaration) error {
	gen := tm.conn.Generation()

	tm.mu.Lock()
	if tm.generation != gen {
		tm.generation = gen
		tm.declared = make(map[string]struct{})
	}
	_, ok := tm.declared[queue.Name]
	tm.mu.Unlock()
	if ok {
		return nil
	}

	if err := tm.DeclareQueue(ctx, queue); err != nil {
		return err
	}

	tm.mu.Lock()
	if tm.generation == gen {
		tm.declared[queue.Name] = struct{}{}
	}
	tm.mu.Unlock()
	return nil
}

func (tm *TopologyManager) declareQueue(ch Channel, queue QueueDeclaration) error {
	_, err := ch.QueueDeclare(
		queue.Name,
		queue.Durable,
		queue.AutoDelete,
		queue.Exclusive,
		false, // noWait
		queue.Arguments,
	)
	if err != nil {
		return &TopologyError{
			Component: "queue",
			Name:      queue.Name,
			Op:        "declare",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return nil
}
