// Package errors provides structured error types for the op-runtime library.
//
// Two error classes exist, mirroring the two ways a dispatched call can go
// wrong:
//
// Protocol errors (Error) mean the guest/host contract itself is broken: a
// malformed envelope, an unroutable completion opcode, a correlation id that
// matches no pending call. They are categorized by Phase (where processing
// failed) and Kind (what failed) and must be treated as fatal to the isolate,
// because continuing risks stuck pending calls and desynchronized state.
//
// Operation errors (OpError) are failures the host reports in a well-formed
// envelope: {err: {kind, message}} on the JSON wire, a negative argument plus
// a numeric kind code on the minimal wire. They are recoverable and surface
// at the call site like any other Go error.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.PhaseDispatch, errors.KindBadPromise).
//		Promise(7).
//		Detail("completion for unknown promise").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.BadAsyncOp("op_read")
//	err := errors.ShortHeader("op_write", 4)
//
// All errors implement the standard error interface and support errors.Is/As.
// IsProtocol distinguishes the fatal class from recoverable OpErrors.
package errors
