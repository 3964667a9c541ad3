package messaging

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/mock"
)

var errFakeNotConnected = errors.New("fake transport: not connected")

// mockAcknowledger implements amqp.Acknowledger
type mockAcknowledger struct {
	mock.Mock
}

func (m *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	args := m.Called(tag, multiple)
	return args.Error(0)
}

func (m *mockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	args := m.Called(tag, multiple, requeue)
	return args.Error(0)
}

func (m *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	args := m.Called(tag, requeue)
	return args.Error(0)
}

// recordingAcknowledger records dispositions without expectations, for concurrent tests
type recordingAcknowledger struct {
	mu      sync.Mutex
	settled []Disposition
}

func (r *recordingAcknowledger) Ack(uint64, bool) error {
	r.record(Ack)
	return nil
}

func (r *recordingAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	if requeue {
		r.record(Requeue)
	} else {
		r.record(Reject)
	}
	return nil
}

func (r *recordingAcknowledger) Reject(_ uint64, requeue bool) error {
	return r.Nack(0, false, requeue)
}

func (r *recordingAcknowledger) record(d Disposition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, d)
}

func (r *recordingAcknowledger) dispositions() []Disposition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Disposition(nil), r.settled...)
}

// mockPublisher implements Publisher
type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, destination string, message any, opts ...PublishOption) error {
	args := m.Called(ctx, destination, message, opts)
	return args.Error(0)
}

func applyPublishOptions(opts []PublishOption) PublishOptions {
	var o PublishOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type published struct {
	Queue string
	Msg   amqp.Publishing
}

// fakeTransport is an in-memory Transport whose connection can be dropped and restored.
type fakeTransport struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	subscribeErr error
	connects     int
	lost         chan struct{}
	subs         []*fakeSubscription
	published    []published
	onPublish    func(queue string, msg amqp.Publishing) error
	closed       bool
}

func newFakeTransport() *fakeTransport {
	lost := make(chan struct{})
	close(lost)
	return &fakeTransport{lost: lost}
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.connectErr != nil {
		return f.connectErr
	}
	if !f.connected {
		f.connected = true
		f.lost = make(chan struct{})
	}
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Lost() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lost
}

func (f *fakeTransport) Publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	f.mu.Lock()
	hook := f.onPublish
	f.published = append(f.published, published{Queue: queue, Msg: msg})
	f.mu.Unlock()

	if hook != nil {
		return hook(queue, msg)
	}
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context, queue string) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, errFakeNotConnected
	}
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSubscription{queue: queue, deliveries: make(chan amqp.Delivery, 64)}
	f.subs = append(f.subs, sub)
	return sub, nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// drop simulates a connection loss
func (f *fakeTransport) drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return
	}
	f.connected = false
	close(f.lost)
	for _, s := range f.subs {
		s.close()
	}
}

// setConnected flips the status without signalling Lost
func (f *fakeTransport) setConnected(connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = connected
}

func (f *fakeTransport) setConnectErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connectErr = err
}

func (f *fakeTransport) setOnPublish(hook func(queue string, msg amqp.Publishing) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPublish = hook
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) publishedTo(queue string) []amqp.Publishing {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []amqp.Publishing
	for _, p := range f.published {
		if p.Queue == queue {
			out = append(out, p.Msg)
		}
	}
	return out
}

func (f *fakeTransport) subscriptions(queue string) []*fakeSubscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeSubscription
	for _, s := range f.subs {
		if s.queue == queue {
			out = append(out, s)
		}
	}
	return out
}

// deliver pushes d to the newest open subscription on queue
func (f *fakeTransport) deliver(queue string, d amqp.Delivery) bool {
	subs := f.subscriptions(queue)
	for i := len(subs) - 1; i >= 0; i-- {
		if subs[i].send(d) {
			return true
		}
	}
	return false
}

type fakeSubscription struct {
	queue      string
	deliveries chan amqp.Delivery

	mu        sync.Mutex
	closed    bool
	cancelled bool
}

func (s *fakeSubscription) Deliveries() <-chan amqp.Delivery {
	return s.deliveries
}

func (s *fakeSubscription) Cancel(ctx context.Context) error {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.close()
	return nil
}

func (s *fakeSubscription) isCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *fakeSubscription) send(d amqp.Delivery) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.deliveries <- d
	return true
}

func (s *fakeSubscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.deliveries)
	}
}
