// Package rabbitmqtest provides an in-memory broker that satisfies the rabbitmq
// Connection and Channel interfaces. Queues hold messages until a consumer
// subscribes, unacked deliveries are requeued when their channel dies, and
// connections can be killed to exercise recovery paths.
package rabbitmqtest

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hms-platform/hms/internal/rabbitmq"
)

// SettlementKind is how a delivery was settled by the consumer.
type SettlementKind string

const (
	Acked    SettlementKind = "ack"
	Nacked   SettlementKind = "nack"
	Rejected SettlementKind = "reject"
)

// Settlement records one ack, nack or reject.
type Settlement struct {
	Queue         string
	Kind          SettlementKind
	Requeue       bool
	CorrelationID string
	Body          []byte
}

// Publication records one successful publish.
type Publication struct {
	Queue   string
	Message amqp.Publishing
}

// PublishHook is called after a message has been enqueued.
type PublishHook func(queue string, msg amqp.Publishing)

// Broker is an in-memory message broker.
type Broker struct {
	mu          sync.Mutex
	queues      map[string]*queue
	conns       []*Conn
	dialErr     error
	publishErr  error
	dials       int
	nextTag     uint64
	published   []Publication
	settlements []Settlement
	hooks       map[string]PublishHook
}

type queue struct {
	name      string
	durable   bool
	pending   []amqp.Delivery
	consumers []*consumer
	next      int
}

type consumer struct {
	tag string
	ch  *Chan
	out chan amqp.Delivery
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		queues: make(map[string]*queue),
		hooks:  make(map[string]PublishHook),
	}
}

// Dialer returns a rabbitmq.Dialer connecting to this broker.
func (b *Broker) Dialer() rabbitmq.Dialer {
	return func(url string, config amqp.Config) (rabbitmq.Connection, error) {
		b.mu.Lock()
		defer b.mu.Unlock()

		b.dials++
		if b.dialErr != nil {
			return nil, b.dialErr
		}
		conn := &Conn{broker: b}
		b.conns = append(b.conns, conn)
		return conn, nil
	}
}

// SetDialError makes subsequent dials fail with err. nil restores dialing.
func (b *Broker) SetDialError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// SetPublishError makes subsequent publishes fail with err. nil restores publishing.
func (b *Broker) SetPublishError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

// OnPublish registers a hook run for every message published to queue.
func (b *Broker) OnPublish(queueName string, hook PublishHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks[queueName] = hook
}

// Dials returns the number of dial attempts.
func (b *Broker) Dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

// Deliver enqueues msg on queueName as if another client had published it. The
// queue is created when missing.
func (b *Broker) Deliver(queueName string, msg amqp.Publishing) {
	b.mu.Lock()
	q := b.queue(queueName)
	b.enqueue(q, msg, queueName, false)
	b.mu.Unlock()
}

// Published returns every publish made to queueName.
func (b *Broker) Published(queueName string) []amqp.Publishing {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []amqp.Publishing
	for _, p := range b.published {
		if p.Queue == queueName {
			out = append(out, p.Message)
		}
	}
	return out
}

// Settlements returns every settlement made on queueName.
func (b *Broker) Settlements(queueName string) []Settlement {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Settlement
	for _, s := range b.settlements {
		if s.Queue == queueName {
			out = append(out, s)
		}
	}
	return out
}

// Pending returns the number of messages waiting for a consumer on queueName.
func (b *Broker) Pending(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queueName]; ok {
		return len(q.pending)
	}
	return 0
}

// Consumers returns the number of active consumers on queueName.
func (b *Broker) Consumers(queueName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if q, ok := b.queues[queueName]; ok {
		return len(q.consumers)
	}
	return 0
}

// HasQueue reports whether queueName has been declared.
func (b *Broker) HasQueue(queueName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.queues[queueName]
	return ok
}

// IsDurable reports whether queueName was declared durable.
func (b *Broker) IsDurable(queueName string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[queueName]
	return ok && q.durable
}

// KillConnections drops every open connection with a connection-forced error.
func (b *Broker) KillConnections() {
	b.KillConnectionsWith(&amqp.Error{Code: amqp.ConnectionForced, Reason: "CONNECTION_FORCED - broker forced connection closure", Server: true, Recover: true})
}

// KillConnectionsWith drops every open connection with err.
func (b *Broker) KillConnectionsWith(err *amqp.Error) {
	b.mu.Lock()
	conns := b.conns
	b.conns = nil
	b.mu.Unlock()

	for _, c := range conns {
		c.shutdown(err)
	}
}

// queue returns queueName, creating it when missing. Callers hold b.mu.
func (b *Broker) queue(name string) *queue {
	q, ok := b.queues[name]
	if !ok {
		q = &queue{name: name}
		b.queues[name] = q
	}
	return q
}

// enqueue hands msg to the next consumer or stores it. Callers hold b.mu.
func (b *Broker) enqueue(q *queue, msg amqp.Publishing, routingKey string, redelivered bool) {
	d := amqp.Delivery{
		Headers:         msg.Headers,
		ContentType:     msg.ContentType,
		ContentEncoding: msg.ContentEncoding,
		DeliveryMode:    msg.DeliveryMode,
		Priority:        msg.Priority,
		CorrelationId:   msg.CorrelationId,
		ReplyTo:         msg.ReplyTo,
		Expiration:      msg.Expiration,
		MessageId:       msg.MessageId,
		Timestamp:       msg.Timestamp,
		Type:            msg.Type,
		UserId:          msg.UserId,
		AppId:           msg.AppId,
		RoutingKey:      routingKey,
		Redelivered:     redelivered,
		Body:            msg.Body,
	}
	b.dispatch(q, d)
}

func (b *Broker) dispatch(q *queue, d amqp.Delivery) {
	if len(q.consumers) == 0 {
		q.pending = append(q.pending, d)
		return
	}

	c := q.consumers[q.next%len(q.consumers)]
	q.next++

	b.nextTag++
	d.DeliveryTag = b.nextTag
	d.ConsumerTag = c.tag
	d.Acknowledger = c.ch
	c.ch.unacked[d.DeliveryTag] = unacked{queue: q.name, delivery: d}
	c.out <- d
}

func (b *Broker) settle(ch *Chan, tag uint64, kind SettlementKind, requeue bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	u, ok := ch.unacked[tag]
	if !ok {
		return amqp.ErrClosed
	}
	delete(ch.unacked, tag)

	b.settlements = append(b.settlements, Settlement{
		Queue:         u.queue,
		Kind:          kind,
		Requeue:       requeue,
		CorrelationID: u.delivery.CorrelationId,
		Body:          u.delivery.Body,
	})

	if requeue {
		d := u.delivery
		d.Redelivered = true
		b.dispatch(b.queue(u.queue), d)
	}
	return nil
}

// Conn is an in-memory connection.
type Conn struct {
	broker   *Broker
	mu       sync.Mutex
	closed   bool
	channels []*Chan
	notify   []chan *amqp.Error
}

func (c *Conn) Channel() (rabbitmq.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := &Chan{conn: c, unacked: make(map[uint64]unacked)}
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *Conn) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(receiver)
		return receiver
	}
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) Close() error {
	if c.IsClosed() {
		return amqp.ErrClosed
	}
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(err *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := c.channels
	notify := c.notify
	c.notify = nil
	c.mu.Unlock()

	for _, ch := range channels {
		ch.shutdown(err)
	}
	for _, n := range notify {
		if err != nil {
			n <- err
		}
		close(n)
	}
}

type unacked struct {
	queue    string
	delivery amqp.Delivery
}

// Chan is an in-memory channel. It is also the Acknowledger of its deliveries.
type Chan struct {
	conn    *Conn
	mu      sync.Mutex
	closed  bool
	notify  []chan *amqp.Error
	unacked map[uint64]unacked // guarded by broker.mu
	qos     int
}

func (ch *Chan) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if ch.IsClosed() {
		return amqp.Queue{}, amqp.ErrClosed
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queue(name)
	q.durable = durable
	return amqp.Queue{Name: name, Messages: len(q.pending), Consumers: len(q.consumers)}, nil
}

func (ch *Chan) Qos(prefetchCount, prefetchSize int, global bool) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		return amqp.ErrClosed
	}
	ch.qos = prefetchCount
	return nil
}

func (ch *Chan) Consume(queueName, tag string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if ch.IsClosed() {
		return nil, amqp.ErrClosed
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[queueName]
	if !ok {
		return nil, &amqp.Error{Code: amqp.NotFound, Reason: "NOT_FOUND - no queue '" + queueName + "'"}
	}

	c := &consumer{tag: tag, ch: ch, out: make(chan amqp.Delivery, 1024)}
	q.consumers = append(q.consumers, c)

	pending := q.pending
	q.pending = nil
	for _, d := range pending {
		b.dispatch(q, d)
	}
	return c.out, nil
}

func (ch *Chan) Cancel(tag string, noWait bool) error {
	if ch.IsClosed() {
		return amqp.ErrClosed
	}
	b := ch.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, q := range b.queues {
		for i, c := range q.consumers {
			if c.tag == tag {
				q.consumers = append(q.consumers[:i], q.consumers[i+1:]...)
				close(c.out)
				return nil
			}
		}
	}
	return nil
}

func (ch *Chan) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ch.IsClosed() {
		return amqp.ErrClosed
	}

	b := ch.conn.broker
	b.mu.Lock()
	if b.publishErr != nil {
		err := b.publishErr
		b.mu.Unlock()
		return err
	}
	b.published = append(b.published, Publication{Queue: key, Message: msg})
	if exchange == "" {
		if q, ok := b.queues[key]; ok {
			b.enqueue(q, msg, key, false)
		}
	}
	hook := b.hooks[key]
	b.mu.Unlock()

	if hook != nil {
		hook(key, msg)
	}
	return nil
}

func (ch *Chan) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.closed {
		close(receiver)
		return receiver
	}
	ch.notify = append(ch.notify, receiver)
	return receiver
}

func (ch *Chan) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

func (ch *Chan) Close() error {
	if ch.IsClosed() {
		return amqp.ErrClosed
	}
	ch.shutdown(nil)
	return nil
}

func (ch *Chan) shutdown(err *amqp.Error) {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	notify := ch.notify
	ch.notify = nil
	ch.mu.Unlock()

	b := ch.conn.broker
	b.mu.Lock()
	for _, q := range b.queues {
		kept := q.consumers[:0]
		for _, c := range q.consumers {
			if c.ch == ch {
				close(c.out)
				continue
			}
			kept = append(kept, c)
		}
		q.consumers = kept
	}
	for tag, u := range ch.unacked {
		delete(ch.unacked, tag)
		d := u.delivery
		d.Redelivered = true
		d.Acknowledger = nil
		b.dispatch(b.queue(u.queue), d)
	}
	b.mu.Unlock()

	for _, n := range notify {
		if err != nil {
			n <- err
		}
		close(n)
	}
}

// Ack implements amqp.Acknowledger.
func (ch *Chan) Ack(tag uint64, multiple bool) error {
	return ch.conn.broker.settle(ch, tag, Acked, false)
}

// Nack implements amqp.Acknowledger.
func (ch *Chan) Nack(tag uint64, multiple bool, requeue bool) error {
	return ch.conn.broker.settle(ch, tag, Nacked, requeue)
}

// Reject implements amqp.Acknowledger.
func (ch *Chan) Reject(tag uint64, requeue bool) error {
	return ch.conn.broker.settle(ch, tag, Rejected, requeue)
}
