package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"

	opruntime "github.com/wippyai/op-runtime"
	"github.com/wippyai/op-runtime/errors"
)

// Envelope is the JSON wire shape shared by requests the host answers and
// completions it delivers: { ok?: any, err?: {kind, message}, promiseId? }.
// Exactly one of OK and Err is set in a valid response; PromiseID is set
// on asynchronous completions and absent (or zero) on synchronous replies.
type Envelope struct {
	OK        json.RawMessage `json:"ok,omitempty"`
	Err       *EnvelopeError  `json:"err,omitempty"`
	PromiseID *int32          `json:"promiseId,omitempty"`
}

// EnvelopeError is the err member of a response envelope.
type EnvelopeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

var jsonNull = []byte("null")

// EncodeOK builds a success envelope, the helper hosts use to answer
// JSON-codec calls. promiseID 0 means a synchronous reply.
func EncodeOK(v any, promiseID PromiseID) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "marshal ok payload")
	}
	if bytes.Equal(raw, jsonNull) {
		return nil, errors.InvalidInput(errors.PhaseEncode, "ok payload must not encode to null")
	}
	env := Envelope{OK: raw}
	if promiseID != 0 {
		id := int32(promiseID)
		env.PromiseID = &id
	}
	buf, err := json.Marshal(&env)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "marshal envelope")
	}
	return buf, nil
}

// EncodeErr builds an error envelope carrying an operation failure.
func EncodeErr(kind, message string, promiseID PromiseID) ([]byte, error) {
	env := Envelope{Err: &EnvelopeError{Kind: kind, Message: message}}
	if promiseID != 0 {
		id := int32(promiseID)
		env.PromiseID = &id
	}
	buf, err := json.Marshal(&env)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "marshal envelope")
	}
	return buf, nil
}

// encodeSyncArgs encodes the argument record for a synchronous call.
// nil stands for an empty record.
func encodeSyncArgs(args any) ([]byte, error) {
	if args == nil {
		return []byte("{}"), nil
	}
	buf, err := json.Marshal(args)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseEncode, errors.KindInvalidInput, err, "marshal args")
	}
	if len(buf) == 0 || buf[0] != '{' {
		return nil, errors.InvalidInput(errors.PhaseEncode, "args must encode to a JSON object")
	}
	return buf, nil
}

// encodeAsyncArgs encodes the argument record with the correlation id
// merged in. The id is spliced into the marshaled object rather than
// round-tripped through a map so the caller's encoding is preserved byte
// for byte. Args must not themselves carry a promiseId member.
func encodeAsyncArgs(args any, id PromiseID) ([]byte, error) {
	base, err := encodeSyncArgs(args)
	if err != nil {
		return nil, err
	}
	head := fmt.Sprintf(`{"promiseId":%d`, id)
	if len(base) == 2 {
		return []byte(head + "}"), nil
	}
	out := make([]byte, 0, len(head)+1+len(base)-1)
	out = append(out, head...)
	out = append(out, ',')
	out = append(out, base[1:]...)
	return out, nil
}

// decodeEnvelope parses response bytes into an Envelope and validates the
// ok-xor-err contract. op names the call for diagnostics.
func decodeEnvelope(op string, buf []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return nil, errors.MalformedEnvelope(op, err)
	}
	if len(env.OK) > 0 && bytes.Equal(env.OK, jsonNull) {
		env.OK = nil
	}
	hasOK := len(env.OK) > 0
	hasErr := env.Err != nil
	if hasOK && hasErr {
		return nil, errors.New(errors.PhaseDecode, errors.KindMalformedEnvelope).
			Op(op).
			Detail("envelope carries both ok and err").
			Build()
	}
	if !hasOK && !hasErr {
		return nil, errors.New(errors.PhaseDecode, errors.KindMalformedEnvelope).
			Op(op).
			Detail("envelope carries neither ok nor err").
			Build()
	}
	return &env, nil
}

// unwrapEnvelope turns a validated envelope into the caller-visible
// outcome: the ok payload, or the typed operation error.
func unwrapEnvelope(env *Envelope) (json.RawMessage, error) {
	if env.Err != nil {
		return nil, errors.NewOpError(env.Err.Kind, env.Err.Message)
	}
	return env.OK, nil
}

// CallSync invokes op through the JSON codec and returns the ok payload.
// The host must answer on the same stack: a nil return or a completion
// carrying a correlation id is a protocol error. extra is the optional
// raw side buffer; nil means none.
func (d *Dispatcher) CallSync(op opruntime.OpCode, args any, extra []byte) (json.RawMessage, error) {
	name := d.opName(op)
	payload, err := encodeSyncArgs(args)
	if err != nil {
		return nil, err
	}
	buf, err := d.bridge.Call(op, payload, extra)
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, errors.NullResult(name)
	}
	env, err := decodeEnvelope(name, buf)
	if err != nil {
		return nil, err
	}
	if env.PromiseID != nil && *env.PromiseID != 0 {
		return nil, errors.AsyncReplyToSync(name, *env.PromiseID)
	}
	return unwrapEnvelope(env)
}

// CallAsync invokes op through the JSON codec and returns a future for
// its result. When the host answers immediately the future comes back
// already resolved and the pending table is never touched; otherwise the
// call parks under its correlation id until the completion arrives.
// Encode, boundary, and immediate-decode failures return an error here;
// operation errors resolve the future.
func (d *Dispatcher) CallAsync(op opruntime.OpCode, args any, extra []byte) (*Future, error) {
	id := d.nextPromiseID()
	payload, err := encodeAsyncArgs(args, id)
	if err != nil {
		return nil, err
	}
	fut := newFuture(op, id)
	buf, err := d.bridge.Call(op, payload, extra)
	if err != nil {
		return nil, err
	}
	if buf != nil {
		env, err := decodeEnvelope(d.opName(op), buf)
		if err != nil {
			return nil, err
		}
		fut.resolve(unwrapEnvelope(env))
		return fut, nil
	}
	d.addPending(id, fut)
	return fut, nil
}

// completeAsync resolves the pending JSON-codec call a completion buffer
// belongs to.
func (d *Dispatcher) completeAsync(op opruntime.OpCode, buf []byte) error {
	name := d.opName(op)
	env, err := decodeEnvelope(name, buf)
	if err != nil {
		return err
	}
	if env.PromiseID == nil || *env.PromiseID == 0 {
		return errors.New(errors.PhaseDispatch, errors.KindBadPromise).
			Op(name).
			Detail("completion without promise id").
			Build()
	}
	id := PromiseID(*env.PromiseID)
	entry := d.takePending(id)
	if entry == nil {
		return errors.BadPromise(int32(id), "completion for unknown promise")
	}
	fut, ok := entry.(*Future)
	if !ok {
		return errors.CodecMismatch(name, int32(id))
	}
	fut.resolve(unwrapEnvelope(env))
	return nil
}
