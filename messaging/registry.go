package messaging

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Resolution is how a pending request ended.
type Resolution int

const (
	Resolved Resolution = iota + 1
	Expired
	Cancelled
)

func (r Resolution) String() string {
	switch r {
	case Resolved:
		return "resolved"
	case Expired:
		return "expired"
	case Cancelled:
		return "cancelled"
	default:
		return "pending"
	}
}

// Outcome is the final state of a Pending. Value is only set when Resolution is Resolved.
type Outcome[T any] struct {
	Value      T
	Resolution Resolution
}

// Pending is the completion handle returned by Register.
type Pending[T any] struct {
	id       uuid.UUID
	deadline time.Time
	done     chan struct{}
	outcome  Outcome[T]
	timer    *time.Timer
}

// ID returns the correlation id.
func (p *Pending[T]) ID() uuid.UUID {
	return p.id
}

// Deadline returns when the pending entry expires. Zero means never.
func (p *Pending[T]) Deadline() time.Time {
	return p.deadline
}

// Done is closed once the entry has been resolved, expired or cancelled.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Outcome returns the result. It must only be read after Done is closed.
func (p *Pending[T]) Outcome() Outcome[T] {
	return p.outcome
}

// Registry maps correlation ids to pending completions. Every entry is completed
// exactly once; whichever of Resolve, Expire or Cancel removes it from the map wins.
type Registry[T any] struct {
	mu      sync.Mutex
	pending map[uuid.UUID]*Pending[T]
}

// NewRegistry creates an empty registry
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		pending: make(map[uuid.UUID]*Pending[T]),
	}
}

// Register adds id and arms a timer that expires it after timeout. A timeout <= 0
// registers an entry without a deadline.
func (r *Registry[T]) Register(id uuid.UUID, timeout time.Duration) (*Pending[T], error) {
	if id == uuid.Nil {
		return nil, ErrInvalidCorrelationID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.pending[id]; exists {
		return nil, ErrDuplicateCorrelationID
	}

	p := &Pending[T]{
		id:   id,
		done: make(chan struct{}),
	}
	if timeout > 0 {
		p.deadline = time.Now().Add(timeout)
		p.timer = time.AfterFunc(timeout, func() { r.Expire(id) })
	}
	r.pending[id] = p
	return p, nil
}

// Resolve completes id with value. It returns false when id is not pending.
func (r *Registry[T]) Resolve(id uuid.UUID, value T) bool {
	return r.complete(id, Outcome[T]{Value: value, Resolution: Resolved})
}

// Expire completes id with a timeout outcome. It returns false when id is not pending.
func (r *Registry[T]) Expire(id uuid.UUID) bool {
	return r.complete(id, Outcome[T]{Resolution: Expired})
}

// Cancel completes id without a value. It returns false when id is not pending.
func (r *Registry[T]) Cancel(id uuid.UUID) bool {
	return r.complete(id, Outcome[T]{Resolution: Cancelled})
}

// Len returns the number of pending entries
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Registry[T]) complete(id uuid.UUID, outcome Outcome[T]) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}

	if p.timer != nil {
		p.timer.Stop()
	}
	p.outcome = outcome
	close(p.done)
	return true
}
