package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in call processing the error occurred
type Phase string

const (
	PhaseEncode    Phase = "encode"    // building request buffers
	PhaseDecode    Phase = "decode"    // parsing response buffers
	PhaseDispatch  Phase = "dispatch"  // correlation and completion routing
	PhaseScheduler Phase = "scheduler" // timer scheduling
	PhaseHost      Phase = "host"      // host boundary and op registration
)

// Kind categorizes the error
type Kind string

const (
	KindMalformedEnvelope Kind = "malformed_envelope"
	KindNullResult        Kind = "null_result"
	KindAsyncReplyToSync  Kind = "async_reply_to_sync"
	KindBadPromise        Kind = "bad_promise"
	KindBadAsyncOp        Kind = "bad_async_op"
	KindShortHeader       Kind = "short_header"
	KindTrailingData      Kind = "trailing_data"
	KindCodecMismatch     Kind = "codec_mismatch"
	KindOpMissing         Kind = "op_missing"
	KindInvalidInput      Kind = "invalid_input"
	KindRegistration      Kind = "registration"
	KindClosed            Kind = "closed"
	KindInternal          Kind = "internal"
)

// Error is the structured protocol error type used throughout the library.
// A protocol error means the guest/host contract is broken; callers must
// treat it as fatal to the isolate rather than recover and continue.
type Error struct {
	Cause   error
	Phase   Phase
	Kind    Kind
	Op      string
	Promise int32
	Detail  string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Op != "" {
		b.WriteString(" op ")
		b.WriteString(e.Op)
	}

	if e.Promise != 0 {
		b.WriteString(" promise ")
		fmt.Fprintf(&b, "%d", e.Promise)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsProtocol reports whether err (or anything it wraps) is a protocol
// error. Operation errors reported by the host are *OpError values and
// are never protocol errors.
func IsProtocol(err error) bool {
	for err != nil {
		if _, ok := err.(*Error); ok {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Op sets the operation name
func (b *Builder) Op(name string) *Builder {
	b.err.Op = name
	return b
}

// Promise sets the correlation id the error relates to
func (b *Builder) Promise(id int32) *Builder {
	b.err.Promise = id
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// MalformedEnvelope creates a malformed response envelope error
func MalformedEnvelope(op string, cause error) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindMalformedEnvelope,
		Op:     op,
		Detail: "response is not a valid envelope",
		Cause:  cause,
	}
}

// NullResult creates an error for a synchronous call the host did not answer
func NullResult(op string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindNullResult,
		Op:     op,
		Detail: "host returned no buffer for a synchronous call",
	}
}

// AsyncReplyToSync creates an error for a sync call answered with a correlation id
func AsyncReplyToSync(op string, promise int32) *Error {
	return &Error{
		Phase:   PhaseDispatch,
		Kind:    KindAsyncReplyToSync,
		Op:      op,
		Promise: promise,
		Detail:  "synchronous call answered asynchronously",
	}
}

// BadPromise creates an error for a completion whose correlation id cannot be matched
func BadPromise(promise int32, detail string) *Error {
	return &Error{
		Phase:   PhaseDispatch,
		Kind:    KindBadPromise,
		Promise: promise,
		Detail:  detail,
	}
}

// BadAsyncOp creates an error for a completion opcode with no route
func BadAsyncOp(op string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindBadAsyncOp,
		Op:     op,
		Detail: "bad async op: no codec mapping or registered handler",
	}
}

// ShortHeader creates an error for a minimal response shorter than its fixed header
func ShortHeader(op string, n int) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindShortHeader,
		Op:     op,
		Detail: fmt.Sprintf("minimal response is %d bytes, header needs 12", n),
	}
}

// TrailingData creates an error for unexpected bytes after a successful minimal header
func TrailingData(op string, n int) *Error {
	return &Error{
		Phase:  PhaseDecode,
		Kind:   KindTrailingData,
		Op:     op,
		Detail: fmt.Sprintf("%d unexpected bytes after minimal header", n),
	}
}

// CodecMismatch creates an error for a completion routed to the wrong codec
func CodecMismatch(op string, promise int32) *Error {
	return &Error{
		Phase:   PhaseDispatch,
		Kind:    KindCodecMismatch,
		Op:      op,
		Promise: promise,
		Detail:  "completion codec does not match the pending call",
	}
}

// OpMissing creates an error for an op name absent from the host table
func OpMissing(name string) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindOpMissing,
		Op:     name,
		Detail: "op not present in the host name table",
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates an op registration error
func Registration(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindRegistration,
		Op:     name,
		Detail: "register op",
		Cause:  cause,
	}
}

// Closed creates an error for use of a shut-down host boundary
func Closed(detail string) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindClosed,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
