package clock

import (
	"context"
	"sync"
	"time"
)

// Scope is a node in a cancellation tree. Cancelling a parent scope cancels
// every descendant scope cooperatively: callees observe cancellation at
// well-defined suspension points (an LLM call, a store write, a subscriber
// wait) via Done() or the embedded context.Context, and return a Cancelled
// error rather than being forcibly killed.
type Scope struct {
	ctx    context.Context
	cancel context.CancelCauseFunc

	mu       sync.Mutex
	children []*Scope
	parent   *Scope
}

// NewRootScope creates a top-level scope, typically one per process or one
// per session.
func NewRootScope(ctx context.Context) *Scope {
	cctx, cancel := context.WithCancelCause(ctx)
	return &Scope{ctx: cctx, cancel: cancel}
}

// Child creates a scope that is cancelled whenever s is cancelled, in
// addition to being independently cancellable (e.g. one scope per agent
// task within a session scope).
func (s *Scope) Child() *Scope {
	cctx, cancel := context.WithCancelCause(s.ctx)
	child := &Scope{ctx: cctx, cancel: cancel, parent: s}
	s.mu.Lock()
	s.children = append(s.children, child)
	s.mu.Unlock()
	return child
}

// WithTimeout creates a child scope that is additionally cancelled after d,
// used for agent-cycle and LLM-call budgets.
func (s *Scope) WithTimeout(d time.Duration) (*Scope, context.CancelFunc) {
	cctx, cancel := context.WithTimeoutCause(s.ctx, d, ErrTimeout)
	child := &Scope{ctx: cctx, cancel: func(cause error) { cancel() }, parent: s}
	s.mu.Lock()
	s.children = append(s.children, child)
	s.mu.Unlock()
	return child, cancel
}

// Cancel cancels this scope and every descendant with the given cause.
func (s *Scope) Cancel(cause error) {
	s.mu.Lock()
	children := append([]*Scope(nil), s.children...)
	s.mu.Unlock()
	for _, c := range children {
		c.Cancel(cause)
	}
	s.cancel(cause)
}

// Done returns the channel callees select on to observe cancellation.
func (s *Scope) Done() <-chan struct{} { return s.ctx.Done() }

// Err returns the cancellation cause once Done is closed, nil otherwise.
func (s *Scope) Err() error {
	if s.ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(s.ctx); cause != nil {
		return cause
	}
	return s.ctx.Err()
}

// Context exposes the underlying context.Context for interop with libraries
// (database drivers, the LLM SDK) that take one directly.
func (s *Scope) Context() context.Context { return s.ctx }

// ErrTimeout is the cancellation cause used when a Scope's deadline elapses.
var ErrTimeout = timeoutCause{}

type timeoutCause struct{}

func (timeoutCause) Error() string { return "scope deadline exceeded" }
