package opruntime

// OpCode identifies a host operation. Codes are assigned by the host at
// process start from its name->id table and are stable for the process
// lifetime; they are opaque and must never be hard-coded across processes.
// The zero value means "unknown op".
type OpCode uint32

// CompletionFunc receives one out-of-band completion buffer for an opcode
// the subscriber registered for. A non-nil error is a protocol error and
// fatal to the isolate; the embedding loop must stop rather than continue
// with desynchronized dispatch state.
type CompletionFunc func(buf []byte) error

// HostBridge is the single boundary the dispatch layer depends on. Host
// operations themselves (file I/O, network, timers) live behind it and are
// never reimplemented on the guest side.
type HostBridge interface {
	// Ops returns the host's op name->id table. The table is resolved once
	// at process start; implementations return a stable snapshot.
	Ops() map[string]OpCode

	// Call invokes an op with an encoded payload and an optional extra raw
	// buffer. A nil buffer with a nil error means the call completes later
	// through a subscribed CompletionFunc; a non-nil buffer is an immediate
	// result. A non-nil error means the boundary itself failed.
	Call(op OpCode, payload []byte, extra []byte) ([]byte, error)

	// SubscribeCompletion installs the function invoked when results for
	// op arrive out-of-band. At most one subscriber per opcode; later
	// subscriptions replace earlier ones.
	SubscribeCompletion(op OpCode, fn CompletionFunc) error
}
