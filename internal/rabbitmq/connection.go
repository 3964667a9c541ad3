package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ConnectionState is the lifecycle state of the broker connection.
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// ConnectionStateListener receives connection state change notifications
type ConnectionStateListener interface {
	OnConnected()
	OnDisconnected(err error)
	OnReconnecting(attempt int)
}

// ConnectionManager owns one broker connection and the single channel used on it.
// Channel operations are serialized through WithChannel. A lost channel counts as
// a lost connection.
type ConnectionManager struct {
	url               string
	name              string
	dialer            Dialer
	heartbeat         time.Duration
	connectionTimeout time.Duration
	recoveryInterval  time.Duration
	recoveryAttempts  int
	logger            *slog.Logger

	connecting chan struct{} // one dial at a time; waiters give up with their ctx
	chMu       sync.Mutex

	mu         sync.RWMutex
	state      ConnectionState
	conn       Connection
	channel    Channel
	lost       chan struct{}
	generation uint64
	closed     bool

	done      chan struct{}
	closeOnce sync.Once

	listenersMu    sync.RWMutex
	stateListeners []ConnectionStateListener
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		if logger != nil {
			cm.logger = logger
		}
	}
}

// WithDialer replaces the function used to open connections.
func WithDialer(dialer Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		if dialer != nil {
			cm.dialer = dialer
		}
	}
}

// WithHeartbeat sets the AMQP heartbeat interval.
func WithHeartbeat(d time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.heartbeat = d
	}
}

// WithConnectionTimeout bounds each dial attempt.
func WithConnectionTimeout(d time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		if d > 0 {
			cm.connectionTimeout = d
		}
	}
}

// WithRecovery configures automatic recovery after an unexpected close.
// attempts <= 0 disables it.
func WithRecovery(interval time.Duration, attempts int) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.recoveryInterval = interval
		cm.recoveryAttempts = attempts
	}
}

// WithConnectionName sets the connection_name client property shown in the management UI.
func WithConnectionName(name string) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.name = name
	}
}

// NewConnectionManager creates a new connection manager. It does not dial.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	lost := make(chan struct{})
	close(lost)

	cm := &ConnectionManager{
		url:               url,
		dialer:            DefaultDialer,
		heartbeat:         60 * time.Second,
		connectionTimeout: 30 * time.Second,
		recoveryInterval:  10 * time.Second,
		recoveryAttempts:  3,
		logger:            slog.Default(),
		lost:              lost,
		done:              make(chan struct{}),
		connecting:        make(chan struct{}, 1),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect establishes the connection and opens its channel. It returns immediately
// when already connected. While another goroutine is dialing, Connect waits for it
// only as long as ctx allows.
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	select {
	case cm.connecting <- struct{}{}:
	case <-ctx.Done():
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       ctx.Err(),
			Timestamp: time.Now(),
		}
	}
	defer func() { <-cm.connecting }()

	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return ErrConnectionClosed
	}
	if cm.state == StateConnected {
		cm.mu.Unlock()
		return nil
	}
	cm.state = StateConnecting
	cm.mu.Unlock()

	conn, ch, err := cm.dial(ctx)
	if err != nil {
		cm.setState(StateDisconnected)
		return err
	}

	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		_ = ch.Close()
		_ = conn.Close()
		return ErrConnectionClosed
	}
	cm.conn = conn
	cm.channel = ch
	cm.generation++
	cm.lost = make(chan struct{})
	cm.state = StateConnected
	gen := cm.generation
	cm.mu.Unlock()

	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
	go cm.watch(gen, connClosed, chClosed)

	cm.logger.Info("connected to RabbitMQ",
		"url", SanitizeURL(cm.url),
		"generation", gen)

	cm.notifyConnected()
	return nil
}

type dialResult struct {
	conn Connection
	ch   Channel
	err  error
}

func (cm *ConnectionManager) dial(ctx context.Context) (Connection, Channel, error) {
	dialCtx, cancel := context.WithTimeout(ctx, cm.connectionTimeout)
	defer cancel()

	config := amqp.Config{
		Heartbeat: cm.heartbeat,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(cm.connectionTimeout),
	}
	if cm.name != "" {
		config.Properties = amqp.NewConnectionProperties()
		config.Properties.SetClientConnectionName(cm.name)
	}

	results := make(chan dialResult, 1)
	go func() {
		conn, err := cm.dialer(cm.url, config)
		if err != nil {
			results <- dialResult{err: err}
			return
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			results <- dialResult{err: err}
			return
		}
		results <- dialResult{conn: conn, ch: ch}
	}()

	select {
	case r := <-results:
		if r.err != nil {
			return nil, nil, &ConnectionError{
				Op:        "connect",
				URL:       SanitizeURL(cm.url),
				Err:       r.err,
				Timestamp: time.Now(),
				Attempts:  1,
			}
		}
		return r.conn, r.ch, nil

	case <-dialCtx.Done():
		// The dial may still succeed; close whatever it produces.
		go func() {
			if r := <-results; r.conn != nil {
				_ = r.conn.Close()
			}
		}()

		err := ErrConnectionTimeout
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return nil, nil, &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}
}

// watch waits for the connection or its channel to close.
func (cm *ConnectionManager) watch(gen uint64, connClosed, chClosed <-chan *amqp.Error) {
	var amqpErr *amqp.Error
	select {
	case amqpErr = <-connClosed:
	case amqpErr = <-chClosed:
	}

	cm.mu.Lock()
	if cm.generation != gen || cm.state != StateConnected {
		cm.mu.Unlock()
		return
	}
	conn := cm.conn
	cm.conn = nil
	cm.channel = nil
	cm.state = StateDisconnected
	close(cm.lost)
	closed := cm.closed
	cm.mu.Unlock()

	if conn != nil && !conn.IsClosed() {
		_ = conn.Close()
	}

	var err error
	if amqpErr != nil {
		err = amqpErr
		cm.logger.Error("connection lost", "error", amqpErr, "generation", gen)
	} else {
		cm.logger.Warn("connection closed", "generation", gen)
	}
	cm.notifyDisconnected(err)

	if closed || cm.recoveryAttempts <= 0 {
		return
	}
	if amqpErr != nil && amqpErr.Code == amqp.AccessRefused {
		return
	}
	go cm.recoverConnection()
}

// recoverConnection makes a bounded number of reconnection attempts.
func (cm *ConnectionManager) recoverConnection() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-cm.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for attempt := 1; attempt <= cm.recoveryAttempts; attempt++ {
		select {
		case <-time.After(cm.recoveryInterval):
		case <-ctx.Done():
			return
		}

		if cm.IsConnected() {
			return
		}

		cm.logger.Info("attempting to reconnect",
			"attempt", attempt,
			"maxAttempts", cm.recoveryAttempts)
		cm.notifyReconnecting(attempt)

		err := cm.Connect(ctx)
		if err == nil {
			cm.logger.Info("successfully reconnected to RabbitMQ", "attempts", attempt)
			return
		}
		if IsFatal(err) || errors.Is(err, context.Canceled) {
			cm.logger.Error("giving up reconnection", "error", err)
			return
		}
		cm.logger.Warn("reconnection failed",
			"error", err,
			"attempt", attempt,
			"nextRetryIn", cm.recoveryInterval)
	}

	err := &ConnectionError{
		Op:        "recover",
		URL:       SanitizeURL(cm.url),
		Err:       ErrMaxRetriesExceeded,
		Timestamp: time.Now(),
		Attempts:  cm.recoveryAttempts,
	}
	cm.logger.Error("max reconnection attempts reached", "attempts", cm.recoveryAttempts)
	cm.notifyDisconnected(err)
}

// WithChannel runs fn with the shared channel while holding the channel lock.
func (cm *ConnectionManager) WithChannel(ctx context.Context, fn func(Channel) error) error {
	cm.chMu.Lock()
	defer cm.chMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	cm.mu.RLock()
	ch := cm.channel
	connected := cm.state == StateConnected
	cm.mu.RUnlock()

	if !connected || ch == nil {
		return ErrNotConnected
	}
	if ch.IsClosed() {
		return ErrChannelClosed
	}
	return fn(ch)
}

// State returns the current connection state.
func (cm *ConnectionManager) State() ConnectionState {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.state
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	return cm.State() == StateConnected
}

// Lost returns a channel closed when the current connection goes away. When not
// connected the returned channel is already closed.
func (cm *ConnectionManager) Lost() <-chan struct{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.lost
}

// Generation increments on every successful connect.
func (cm *ConnectionManager) Generation() uint64 {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.generation
}

// Close closes the connection and stops recovery. The manager cannot be reused.
func (cm *ConnectionManager) Close() error {
	cm.closeOnce.Do(func() { close(cm.done) })

	cm.mu.Lock()
	cm.closed = true
	if cm.state != StateConnected {
		cm.state = StateDisconnected
		cm.mu.Unlock()
		return nil
	}
	conn, ch := cm.conn, cm.channel
	cm.conn = nil
	cm.channel = nil
	cm.state = StateDisconnected
	close(cm.lost)
	cm.mu.Unlock()

	if ch != nil {
		_ = ch.Close()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}

	cm.logger.Info("connection manager closed")
	cm.notifyDisconnected(nil)
	return err
}

func (cm *ConnectionManager) setState(s ConnectionState) {
	cm.mu.Lock()
	cm.state = s
	cm.mu.Unlock()
}

// AddStateListener adds a connection state listener
func (cm *ConnectionManager) AddStateListener(listener ConnectionStateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.stateListeners = append(cm.stateListeners, listener)
}

func (cm *ConnectionManager) notifyConnected() {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		listener.OnConnected()
	}
}

func (cm *ConnectionManager) notifyDisconnected(err error) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		listener.OnDisconnected(err)
	}
}

func (cm *ConnectionManager) notifyReconnecting(attempt int) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, listener := range cm.stateListeners {
		listener.OnReconnecting(attempt)
	}
}
