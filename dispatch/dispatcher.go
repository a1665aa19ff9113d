package dispatch

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	opruntime "github.com/wippyai/op-runtime"
	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
)

// CompletionHandler consumes completion buffers for a dynamically
// registered opcode, one whose existence is not known until runtime.
// A non-nil error is a protocol error and fatal to the isolate.
type CompletionHandler func(buf []byte) error

// Dispatcher routes calls to the host boundary and completions back to
// their pending futures. One instance owns the correlation-id counter,
// the pending-call table, and the completion routing tables for a single
// isolate; construct it once at startup and pass it by reference.
type Dispatcher struct {
	bridge opruntime.HostBridge
	table  *ops.Table

	mu       sync.Mutex
	lastID   PromiseID
	pending  map[PromiseID]pendingCall
	minimal  map[opruntime.OpCode]bool
	handlers map[opruntime.OpCode]CompletionHandler
}

// New builds a Dispatcher over a resolved op table and subscribes it for
// completions of every op the table names.
func New(bridge opruntime.HostBridge, table *ops.Table) (*Dispatcher, error) {
	if bridge == nil {
		return nil, errors.InvalidInput(errors.PhaseDispatch, "nil host bridge")
	}
	if table == nil {
		return nil, errors.InvalidInput(errors.PhaseDispatch, "nil op table")
	}
	d := &Dispatcher{
		bridge:   bridge,
		table:    table,
		pending:  make(map[PromiseID]pendingCall),
		minimal:  make(map[opruntime.OpCode]bool),
		handlers: make(map[opruntime.OpCode]CompletionHandler),
	}
	for _, name := range table.Names() {
		code, _ := table.Lookup(name)
		op := code
		err := bridge.SubscribeCompletion(op, func(buf []byte) error {
			return d.OnHostCompletion(op, buf)
		})
		if err != nil {
			return nil, errors.Registration(name, err)
		}
	}
	return d, nil
}

// MarkMinimal routes the named ops' completions through the minimal
// codec. Call it during startup, before any asynchronous calls are in
// flight; sync calls pick their codec at the call site regardless.
func (d *Dispatcher) MarkMinimal(names ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range names {
		code, ok := d.table.Lookup(name)
		if !ok {
			return errors.OpMissing(name)
		}
		d.minimal[code] = true
	}
	return nil
}

// RegisterCompletionHandler installs a completion handler for an opcode
// outside the resolved table, such as one provided by a loadable
// extension. Statically routed ops cannot be re-routed.
func (d *Dispatcher) RegisterCompletionHandler(op opruntime.OpCode, h CompletionHandler) error {
	if h == nil {
		return errors.InvalidInput(errors.PhaseDispatch, "nil completion handler")
	}
	if _, ok := d.table.Name(op); ok {
		return errors.New(errors.PhaseDispatch, errors.KindInvalidInput).
			Op(d.opName(op)).
			Detail("op is statically routed").
			Build()
	}
	d.mu.Lock()
	_, existed := d.handlers[op]
	d.handlers[op] = h
	d.mu.Unlock()
	if existed {
		return nil
	}
	err := d.bridge.SubscribeCompletion(op, func(buf []byte) error {
		return d.OnHostCompletion(op, buf)
	})
	if err != nil {
		d.mu.Lock()
		delete(d.handlers, op)
		d.mu.Unlock()
		return errors.Registration(d.opName(op), err)
	}
	return nil
}

// OnHostCompletion is the single entry point for host-originated
// completion buffers. Ops marked minimal route to the minimal codec,
// other ops from the resolved table to the JSON codec, anything else to
// a dynamic handler. An opcode with no route is a fatal protocol error:
// some pending call will never resolve and the guest would hang.
func (d *Dispatcher) OnHostCompletion(op opruntime.OpCode, buf []byte) error {
	d.mu.Lock()
	isMinimal := d.minimal[op]
	handler := d.handlers[op]
	d.mu.Unlock()

	if isMinimal {
		return d.completeAsyncMinimal(op, buf)
	}
	if _, ok := d.table.Name(op); ok {
		return d.completeAsync(op, buf)
	}
	if handler != nil {
		return handler(buf)
	}
	Logger().Error("bad async op",
		zap.Uint32("op", uint32(op)),
		zap.Int("len", len(buf)))
	return errors.BadAsyncOp(d.opName(op))
}

// Pending returns the number of calls waiting for a completion.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Dispatcher) nextPromiseID() PromiseID {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastID++
	return d.lastID
}

func (d *Dispatcher) addPending(id PromiseID, call pendingCall) {
	d.mu.Lock()
	d.pending[id] = call
	d.mu.Unlock()
}

func (d *Dispatcher) takePending(id PromiseID) pendingCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	call, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	return call
}

func (d *Dispatcher) opName(op opruntime.OpCode) string {
	if name, ok := d.table.Name(op); ok {
		return name
	}
	return fmt.Sprintf("op#%d", op)
}
