// Package confirm implements the short-lived yes/no wait that guards
// destructive operations. Each interaction waits for a signal from the user
// who started it, on the same interaction id, until a timeout.
package confirm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// State of an interaction. Everything except StatePending is terminal.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateDeclined  State = "declined"
	StateTimedOut  State = "timed_out"
)

// DefaultTimeout is how long an interaction waits for its signal.
const DefaultTimeout = 30 * time.Second

const defaultHistory = 256

var (
	ErrDuplicate = errors.New("interaction already pending")
	ErrNoUser    = errors.New("interaction needs a user")
)

// Option configures the registry.
type Option func(*Registry)

// WithTimeout sets the wait bound for new interactions.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		r.timeout = d
	}
}

// WithHistory sets how many finished interactions Status remembers.
func WithHistory(n int) Option {
	return func(r *Registry) {
		r.historySize = n
	}
}

// Registry tracks pending interactions. Safe for concurrent use.
type Registry struct {
	mu          sync.Mutex
	pending     map[string]*Pending
	finished    map[string]State
	order       []string
	timeout     time.Duration
	historySize int
	log         *zap.Logger
}

// Pending is one interaction awaiting a signal.
type Pending struct {
	ID       string
	User     string
	Deadline time.Time

	reg    *Registry
	signal chan bool
	once   sync.Once
	state  State
}

// New creates an empty registry.
func New(log *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		pending:     make(map[string]*Pending),
		finished:    make(map[string]State),
		timeout:     DefaultTimeout,
		historySize: defaultHistory,
		log:         log.Named("confirm"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Timeout returns the wait bound applied to new interactions.
func (r *Registry) Timeout() time.Duration {
	return r.timeout
}

// Begin opens an interaction for user. An empty id gets a generated one.
func (r *Registry) Begin(id, user string) (*Pending, error) {
	if user == "" {
		return nil, ErrNoUser
	}
	if id == "" {
		id = uuid.NewString()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[id]; ok {
		return nil, ErrDuplicate
	}
	p := &Pending{
		ID:       id,
		User:     user,
		Deadline: time.Now().Add(r.timeout),
		reg:      r,
		signal:   make(chan bool, 1),
		state:    StatePending,
	}
	r.pending[id] = p
	r.log.Debug("interaction opened", zap.String("id", id), zap.String("user", user),
		zap.Duration("timeout", r.timeout))
	return p, nil
}

// Signal delivers accept/reject to the interaction. It returns false, and
// leaves the interaction untouched, when the id is unknown, the user is not
// the initiator, or a signal was already delivered.
func (r *Registry) Signal(id, user string, accept bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pending[id]
	if !ok || p.User != user {
		r.log.Debug("signal ignored", zap.String("id", id), zap.String("user", user))
		return false
	}
	select {
	case p.signal <- accept:
		return true
	default:
		return false
	}
}

// Status reports the state of a pending or recently finished interaction.
func (r *Registry) Status(id string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[id]; ok {
		return StatePending, true
	}
	s, ok := r.finished[id]
	return s, ok
}

// Wait blocks until the interaction reaches a terminal state. A cancelled
// ctx counts as a timeout. Calling Wait again returns the same state.
func (p *Pending) Wait(ctx context.Context) State {
	p.once.Do(func() {
		timer := time.NewTimer(time.Until(p.Deadline))
		defer timer.Stop()

		var state State
		select {
		case accept := <-p.signal:
			state = verdict(accept)
		case <-timer.C:
			state = StateTimedOut
		case <-ctx.Done():
			state = StateTimedOut
		}
		p.state = p.reg.finish(p, state)
	})
	return p.state
}

// finish removes p from the pending set. A signal that Signal accepted
// before the lock was taken still wins over a timeout.
func (r *Registry) finish(p *Pending, state State) State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if state == StateTimedOut {
		select {
		case accept := <-p.signal:
			state = verdict(accept)
		default:
		}
	}

	delete(r.pending, p.ID)
	if _, seen := r.finished[p.ID]; !seen {
		r.order = append(r.order, p.ID)
	}
	r.finished[p.ID] = state
	for len(r.order) > r.historySize {
		delete(r.finished, r.order[0])
		r.order = r.order[1:]
	}

	r.log.Debug("interaction finished", zap.String("id", p.ID), zap.String("state", string(state)))
	return state
}

func verdict(accept bool) State {
	if accept {
		return StateConfirmed
	}
	return StateDeclined
}
