// Package dispatch implements the call protocol between guest code and
// the host operation boundary: two wire codecs, correlation bookkeeping,
// and completion routing.
//
// # Codecs
//
// The JSON codec carries structured argument records and response
// envelopes of the shape
//
//	{ ok?: any, err?: { kind: string, message: string }, promiseId?: integer }
//
// encoded as UTF-8 text. Exactly one of ok and err is present in a valid
// response, and ok is never null. Asynchronous requests carry the
// allocated promiseId merged into the argument object; the matching
// completion echoes it.
//
// The minimal codec is the hot-path alternative for single-integer ops
// such as raw byte read/write: a fixed 12-byte header of three
// little-endian 32-bit integers (promiseId, argument, result). A response
// whose argument is negative is an operation error; its result field
// holds the numeric error-kind code and the bytes after the header are
// the UTF-8 message. A successful response is exactly the bare header.
//
// # Calls
//
// CallSync and CallSyncMinimal are answered on the caller's stack: the
// host must return a buffer, and that buffer must not carry a promise id.
// CallAsync and CallAsyncMinimal allocate the next correlation id and
// return a Future; when the host fast-paths the answer the future comes
// back already resolved and the pending table is never touched.
//
// Completions arrive detached from any call stack, in host resolution
// order rather than submission order. OnHostCompletion routes each buffer
// by opcode: minimal-marked ops to the minimal codec, other resolved ops
// to the JSON codec, dynamically registered handlers for anything the
// table does not know. An unroutable opcode is a fatal protocol error.
//
// Operation errors ({err: ...} or a negative minimal argument) surface at
// the call site as *errors.OpError and are never logged or swallowed
// here. Protocol errors are *errors.Error values and mean the isolate
// must be torn down.
package dispatch
