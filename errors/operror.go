package errors

import (
	"fmt"
	"sync"
)

// OpError is an operation failure reported by the host in a well-formed
// response envelope. Unlike Error it is recoverable: the dispatcher raises
// it at the call site and the caller decides what to do with it.
type OpError struct {
	Kind    string
	Code    int32
	Message string
}

// Error implements the error interface
func (e *OpError) Error() string {
	if e.Message == "" {
		return e.Kind
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target matches this error. A target with an empty
// Kind matches any OpError; otherwise kinds must be equal.
func (e *OpError) Is(target error) bool {
	t, ok := target.(*OpError)
	if !ok {
		return false
	}
	return t.Kind == "" || e.Kind == t.Kind
}

// Standard operation error kinds. The JSON envelope carries the kind by
// name; the minimal header carries it by numeric code. Hosts may register
// additional kinds at startup before any calls are dispatched.
const (
	OpKindNotFound         = "not_found"
	OpKindPermissionDenied = "permission_denied"
	OpKindAlreadyExists    = "already_exists"
	OpKindInvalidInput     = "invalid_input"
	OpKindInvalidData      = "invalid_data"
	OpKindTimedOut         = "timed_out"
	OpKindInterrupted      = "interrupted"
	OpKindWriteZero        = "write_zero"
	OpKindUnexpectedEOF    = "unexpected_eof"
	OpKindBadResource      = "bad_resource"
	OpKindBusy             = "busy"
	OpKindUnavailable      = "unavailable"
	OpKindInternal         = "internal"
)

// OpKindUnknown is returned for codes no registered kind claims.
const OpKindUnknown = "unknown"

var (
	opKindMu     sync.RWMutex
	opKindByCode = map[int32]string{
		1:  OpKindNotFound,
		2:  OpKindPermissionDenied,
		3:  OpKindAlreadyExists,
		4:  OpKindInvalidInput,
		5:  OpKindInvalidData,
		6:  OpKindTimedOut,
		7:  OpKindInterrupted,
		8:  OpKindWriteZero,
		9:  OpKindUnexpectedEOF,
		10: OpKindBadResource,
		11: OpKindBusy,
		12: OpKindUnavailable,
		13: OpKindInternal,
	}
	opCodeByKind = map[string]int32{}
)

func init() {
	for code, kind := range opKindByCode {
		opCodeByKind[kind] = code
	}
}

// RegisterOpKind maps a numeric error-kind code to a kind name. Codes and
// names must be registered consistently; conflicting registrations fail.
func RegisterOpKind(code int32, kind string) error {
	if code == 0 || kind == "" {
		return InvalidInput(PhaseHost, "op error kind needs a non-zero code and a name")
	}
	opKindMu.Lock()
	defer opKindMu.Unlock()
	if existing, ok := opKindByCode[code]; ok && existing != kind {
		return InvalidInput(PhaseHost, fmt.Sprintf("op error code %d already mapped to %q", code, existing))
	}
	if existing, ok := opCodeByKind[kind]; ok && existing != code {
		return InvalidInput(PhaseHost, fmt.Sprintf("op error kind %q already mapped to code %d", kind, existing))
	}
	opKindByCode[code] = kind
	opCodeByKind[kind] = code
	return nil
}

// OpKindForCode resolves a numeric error-kind code to its name,
// falling back to OpKindUnknown.
func OpKindForCode(code int32) string {
	opKindMu.RLock()
	defer opKindMu.RUnlock()
	if kind, ok := opKindByCode[code]; ok {
		return kind
	}
	return OpKindUnknown
}

// OpCodeForKind resolves a kind name to its numeric code.
func OpCodeForKind(kind string) (int32, bool) {
	opKindMu.RLock()
	defer opKindMu.RUnlock()
	code, ok := opCodeByKind[kind]
	return code, ok
}

// NewOpError creates an operation error by kind name. The numeric code is
// filled in when the kind is registered.
func NewOpError(kind, message string) *OpError {
	code, _ := OpCodeForKind(kind)
	return &OpError{Kind: kind, Code: code, Message: message}
}

// OpErrorFromCode creates an operation error from a numeric kind code, as
// decoded from a minimal response header.
func OpErrorFromCode(code int32, message string) *OpError {
	return &OpError{Kind: OpKindForCode(code), Code: code, Message: message}
}
