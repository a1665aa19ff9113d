package host

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	opruntime "github.com/wippyai/op-runtime"
	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/resource"
)

// Handler serves one invocation of an op. payload is the encoded
// argument record and extra the optional raw side buffer. A non-nil
// return answers on the same stack; nil defers the answer, and the op
// must later deliver exactly one completion through its Completer.
type Handler func(payload, extra []byte) []byte

// CompleteFunc queues one completion buffer for an op, to be handed to
// the guest on the next Deliver.
type CompleteFunc func(buf []byte)

type completion struct {
	op  opruntime.OpCode
	buf []byte
}

// Local is an in-process host. Ops register by name before the table is
// first read; op codes are assigned sequentially from 1 in registration
// order. Completions may queue from any goroutine, but they reach the
// guest only when the embedding loop calls Deliver, which keeps the
// guest side single-threaded.
type Local struct {
	start time.Time

	mu       sync.Mutex
	lastCode opruntime.OpCode
	codes    map[string]opruntime.OpCode
	names    map[opruntime.OpCode]string
	handlers map[opruntime.OpCode]Handler
	subs     map[opruntime.OpCode]opruntime.CompletionFunc
	frozen   bool
	closed   bool

	queueMu sync.Mutex
	queue   []completion
	signal  chan struct{}

	resources *resource.Table
}

// NewLocal returns a host with empty op and resource tables. The host
// clock starts at zero.
func NewLocal() *Local {
	return &Local{
		start:     time.Now(),
		codes:     make(map[string]opruntime.OpCode),
		names:     make(map[opruntime.OpCode]string),
		handlers:  make(map[opruntime.OpCode]Handler),
		subs:      make(map[opruntime.OpCode]opruntime.CompletionFunc),
		signal:    make(chan struct{}, 1),
		resources: resource.NewTable(),
	}
}

// Register installs an op handler under a name and assigns its code.
// Registration closes once the op table has been read.
func (l *Local) Register(name string, h Handler) (opruntime.OpCode, error) {
	if name == "" || h == nil {
		return 0, errors.InvalidInput(errors.PhaseHost, "op registration needs a name and a handler")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.frozen {
		return 0, errors.New(errors.PhaseHost, errors.KindRegistration).
			Op(name).
			Detail("op table already frozen").
			Build()
	}
	if _, ok := l.codes[name]; ok {
		return 0, errors.New(errors.PhaseHost, errors.KindRegistration).
			Op(name).
			Detail("op already registered").
			Build()
	}
	l.lastCode++
	code := l.lastCode
	l.codes[name] = code
	l.names[code] = name
	l.handlers[code] = h
	return code, nil
}

// Completer returns the completion sink an op uses for deferred answers.
func (l *Local) Completer(op opruntime.OpCode) CompleteFunc {
	return func(buf []byte) { l.enqueue(op, buf) }
}

func (l *Local) enqueue(op opruntime.OpCode, buf []byte) {
	l.queueMu.Lock()
	l.queue = append(l.queue, completion{op: op, buf: buf})
	l.queueMu.Unlock()
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Ops implements opruntime.HostBridge. The first read freezes the op
// table, so codes observed by one guest never shift under it.
func (l *Local) Ops() map[string]opruntime.OpCode {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.frozen = true
	out := make(map[string]opruntime.OpCode, len(l.codes))
	for name, code := range l.codes {
		out[name] = code
	}
	return out
}

// Call implements opruntime.HostBridge. A panicking handler is reported
// as a host internal error rather than taking the process down.
func (l *Local) Call(op opruntime.OpCode, payload, extra []byte) (out []byte, err error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, errors.Closed("host is closed")
	}
	h := l.handlers[op]
	name := l.names[op]
	l.mu.Unlock()
	if h == nil {
		return nil, errors.New(errors.PhaseHost, errors.KindOpMissing).
			Detail("no handler for op code %d", op).
			Build()
	}
	defer func() {
		if r := recover(); r != nil {
			Logger().Error("op handler panicked",
				zap.String("op", name),
				zap.Any("panic", r))
			out = nil
			err = errors.New(errors.PhaseHost, errors.KindInternal).
				Op(name).
				Detail("op handler panicked: %v", r).
				Build()
		}
	}()
	return h(payload, extra), nil
}

// SubscribeCompletion implements opruntime.HostBridge.
func (l *Local) SubscribeCompletion(op opruntime.OpCode, fn opruntime.CompletionFunc) error {
	if fn == nil {
		return errors.InvalidInput(errors.PhaseHost, "nil completion func")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.names[op]; !ok {
		return errors.New(errors.PhaseHost, errors.KindRegistration).
			Detail("subscription for unknown op code %d", op).
			Build()
	}
	l.subs[op] = fn
	return nil
}

// Await blocks until at least one completion is queued or ctx ends.
func (l *Local) Await(ctx context.Context) error {
	for {
		if l.QueuedCompletions() > 0 {
			return nil
		}
		select {
		case <-l.signal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Deliver hands every queued completion to its subscriber in arrival
// order. Completions queued while delivering wait for the next turn. A
// subscriber error is a protocol failure and stops delivery.
func (l *Local) Deliver() error {
	l.queueMu.Lock()
	batch := l.queue
	l.queue = nil
	l.queueMu.Unlock()

	for _, c := range batch {
		l.mu.Lock()
		fn := l.subs[c.op]
		name := l.names[c.op]
		l.mu.Unlock()
		if fn == nil {
			return errors.New(errors.PhaseHost, errors.KindBadAsyncOp).
				Op(name).
				Detail("completion with no subscriber").
				Build()
		}
		if err := fn(c.buf); err != nil {
			return err
		}
	}
	return nil
}

// QueuedCompletions reports how many completions wait for delivery.
func (l *Local) QueuedCompletions() int {
	l.queueMu.Lock()
	defer l.queueMu.Unlock()
	return len(l.queue)
}

// Clock reads the host clock: whole milliseconds since the host started.
func (l *Local) Clock() int64 {
	return int64(time.Since(l.start) / time.Millisecond)
}

// Resources exposes the host resource table, so embedders can preopen
// streams before handing the bridge to a guest.
func (l *Local) Resources() *resource.Table {
	return l.resources
}

// Close stops accepting calls and tears down the resource table.
func (l *Local) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.resources.CloseAll()
}
