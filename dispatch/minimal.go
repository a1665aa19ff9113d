package dispatch

import (
	"encoding/binary"

	opruntime "github.com/wippyai/op-runtime"
	"github.com/wippyai/op-runtime/errors"
)

// MinimalHeaderSize is the fixed size of a minimal-codec header: three
// little-endian 32-bit integers (promiseId, argument, result).
const MinimalHeaderSize = 12

// MinimalRecord is the decoded minimal-codec header. On responses a
// negative Arg signals an operation error whose kind code is in Result,
// followed by a UTF-8 message; otherwise Result is the success value and
// the message must be exactly the bare header.
type MinimalRecord struct {
	PromiseID PromiseID
	Arg       int32
	Result    int32
}

// EncodeMinimal serializes a header, the shape of both minimal requests
// and successful minimal responses.
func EncodeMinimal(rec MinimalRecord) []byte {
	buf := make([]byte, MinimalHeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(rec.PromiseID))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(rec.Arg))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(rec.Result))
	return buf
}

// EncodeMinimalError serializes an error response: a header with a
// negative argument and the kind code in the result slot, followed by the
// UTF-8 message.
func EncodeMinimalError(id PromiseID, code int32, message string) []byte {
	head := EncodeMinimal(MinimalRecord{PromiseID: id, Arg: -1, Result: code})
	return append(head, message...)
}

// DecodeMinimal parses a minimal response. A well-formed error response
// comes back as a non-nil *OpError with a nil error; a malformed buffer
// is a protocol error. op names the call for diagnostics.
func DecodeMinimal(op string, buf []byte) (MinimalRecord, *errors.OpError, error) {
	if len(buf) < MinimalHeaderSize {
		return MinimalRecord{}, nil, errors.ShortHeader(op, len(buf))
	}
	rec := MinimalRecord{
		PromiseID: PromiseID(int32(binary.LittleEndian.Uint32(buf[0:4]))),
		Arg:       int32(binary.LittleEndian.Uint32(buf[4:8])),
		Result:    int32(binary.LittleEndian.Uint32(buf[8:12])),
	}
	if rec.Arg < 0 {
		return rec, errors.OpErrorFromCode(rec.Result, string(buf[MinimalHeaderSize:])), nil
	}
	if len(buf) != MinimalHeaderSize {
		return MinimalRecord{}, nil, errors.TrailingData(op, len(buf)-MinimalHeaderSize)
	}
	return rec, nil, nil
}

// CallSyncMinimal invokes op through the minimal codec and returns the
// result field. Semantics mirror CallSync with the positional header in
// place of the JSON envelope.
func (d *Dispatcher) CallSyncMinimal(op opruntime.OpCode, arg int32, extra []byte) (int32, error) {
	name := d.opName(op)
	payload := EncodeMinimal(MinimalRecord{Arg: arg})
	buf, err := d.bridge.Call(op, payload, extra)
	if err != nil {
		return 0, err
	}
	if buf == nil {
		return 0, errors.NullResult(name)
	}
	rec, opErr, err := DecodeMinimal(name, buf)
	if err != nil {
		return 0, err
	}
	if rec.PromiseID != 0 {
		return 0, errors.AsyncReplyToSync(name, int32(rec.PromiseID))
	}
	if opErr != nil {
		return 0, opErr
	}
	return rec.Result, nil
}

// CallAsyncMinimal invokes op through the minimal codec and returns a
// future for the result field. Immediate host answers resolve the future
// without touching the pending table, as with CallAsync.
func (d *Dispatcher) CallAsyncMinimal(op opruntime.OpCode, arg int32, extra []byte) (*MinimalFuture, error) {
	id := d.nextPromiseID()
	payload := EncodeMinimal(MinimalRecord{PromiseID: id, Arg: arg})
	fut := newMinimalFuture(op, id)
	buf, err := d.bridge.Call(op, payload, extra)
	if err != nil {
		return nil, err
	}
	if buf != nil {
		rec, opErr, err := DecodeMinimal(d.opName(op), buf)
		if err != nil {
			return nil, err
		}
		if opErr != nil {
			fut.resolve(0, opErr)
		} else {
			fut.resolve(rec.Result, nil)
		}
		return fut, nil
	}
	d.addPending(id, fut)
	return fut, nil
}

// completeAsyncMinimal resolves the pending minimal-codec call a
// completion buffer belongs to.
func (d *Dispatcher) completeAsyncMinimal(op opruntime.OpCode, buf []byte) error {
	name := d.opName(op)
	rec, opErr, err := DecodeMinimal(name, buf)
	if err != nil {
		return err
	}
	if rec.PromiseID == 0 {
		return errors.New(errors.PhaseDispatch, errors.KindBadPromise).
			Op(name).
			Detail("completion without promise id").
			Build()
	}
	entry := d.takePending(rec.PromiseID)
	if entry == nil {
		return errors.BadPromise(int32(rec.PromiseID), "completion for unknown promise")
	}
	fut, ok := entry.(*MinimalFuture)
	if !ok {
		return errors.CodecMismatch(name, int32(rec.PromiseID))
	}
	if opErr != nil {
		fut.resolve(0, opErr)
	} else {
		fut.resolve(rec.Result, nil)
	}
	return nil
}
