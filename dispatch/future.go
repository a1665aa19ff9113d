package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	opruntime "github.com/wippyai/op-runtime"
	"github.com/wippyai/op-runtime/errors"
)

// PromiseID is the correlation id linking an asynchronous call to its
// completion. Ids are allocated monotonically from 1; 0 is reserved for
// "synchronous, no correlation".
type PromiseID int32

// pendingCall is what the pending table stores. The concrete type decides
// which codec may complete the call.
type pendingCall interface {
	pendingOp() opruntime.OpCode
}

// Future is the resolvable result of a JSON-codec CallAsync.
type Future struct {
	op opruntime.OpCode
	id PromiseID

	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	result   json.RawMessage
	err      error
	hooks    []func(*Future)
}

func newFuture(op opruntime.OpCode, id PromiseID) *Future {
	return &Future{op: op, id: id, done: make(chan struct{})}
}

func (f *Future) pendingOp() opruntime.OpCode { return f.op }

// PromiseID returns the correlation id allocated for this call.
func (f *Future) PromiseID() PromiseID { return f.id }

// Resolved reports whether the future has its result.
func (f *Future) Resolved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved
}

// Done returns a channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome of a resolved future. Calling it before
// resolution is an error.
func (f *Future) Result() (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resolved {
		return nil, errors.InvalidInput(errors.PhaseDispatch, "future not resolved")
	}
	return f.result, f.err
}

// Await blocks until the future resolves or ctx is cancelled.
func (f *Future) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnResolve registers fn to run when the future resolves. If the future
// is already resolved fn runs immediately. Hooks run inline on the
// goroutine delivering the completion, in registration order.
func (f *Future) OnResolve(fn func(*Future)) {
	f.mu.Lock()
	if !f.resolved {
		f.hooks = append(f.hooks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn(f)
}

func (f *Future) resolve(result json.RawMessage, err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.result = result
	f.err = err
	hooks := f.hooks
	f.hooks = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range hooks {
		fn(f)
	}
}

// MinimalFuture is the resolvable result of a CallAsyncMinimal.
type MinimalFuture struct {
	op opruntime.OpCode
	id PromiseID

	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	result   int32
	err      error
	hooks    []func(*MinimalFuture)
}

func newMinimalFuture(op opruntime.OpCode, id PromiseID) *MinimalFuture {
	return &MinimalFuture{op: op, id: id, done: make(chan struct{})}
}

func (f *MinimalFuture) pendingOp() opruntime.OpCode { return f.op }

// PromiseID returns the correlation id allocated for this call.
func (f *MinimalFuture) PromiseID() PromiseID { return f.id }

// Resolved reports whether the future has its result.
func (f *MinimalFuture) Resolved() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved
}

// Done returns a channel closed when the future resolves.
func (f *MinimalFuture) Done() <-chan struct{} { return f.done }

// Result returns the outcome of a resolved future. Calling it before
// resolution is an error.
func (f *MinimalFuture) Result() (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.resolved {
		return 0, errors.InvalidInput(errors.PhaseDispatch, "future not resolved")
	}
	return f.result, f.err
}

// Await blocks until the future resolves or ctx is cancelled.
func (f *MinimalFuture) Await(ctx context.Context) (int32, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// OnResolve registers fn to run when the future resolves. If the future
// is already resolved fn runs immediately.
func (f *MinimalFuture) OnResolve(fn func(*MinimalFuture)) {
	f.mu.Lock()
	if !f.resolved {
		f.hooks = append(f.hooks, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn(f)
}

func (f *MinimalFuture) resolve(result int32, err error) {
	f.mu.Lock()
	if f.resolved {
		f.mu.Unlock()
		return
	}
	f.resolved = true
	f.result = result
	f.err = err
	hooks := f.hooks
	f.hooks = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range hooks {
		fn(f)
	}
}
