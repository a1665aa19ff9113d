package host

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/wippyai/op-runtime/dispatch"
	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/resource"
)

// RegisterBuiltins installs the standard op set on a Local host: the
// clock, the global timer pair, raw stream reads and writes, and echo.
func RegisterBuiltins(l *Local) error {
	if _, err := l.Register(ops.Now, newNowOp(l)); err != nil {
		return err
	}

	g := &globalTimer{}
	timerCode, err := l.Register(ops.GlobalTimer, g.arm)
	if err != nil {
		return err
	}
	g.complete = l.Completer(timerCode)
	if _, err := l.Register(ops.GlobalTimerStop, g.stop); err != nil {
		return err
	}

	if _, err := l.Register(ops.Read, newReadOp(l)); err != nil {
		return err
	}
	if _, err := l.Register(ops.Write, newWriteOp(l)); err != nil {
		return err
	}

	e := &echoOp{}
	echoCode, err := l.Register(ops.Echo, e.handle)
	if err != nil {
		return err
	}
	e.complete = l.Completer(echoCode)
	return nil
}

// okBuf encodes a success envelope. Encoding a host-chosen payload can
// only fail on a programming error, which is downgraded to an internal
// error envelope so the guest still gets an answer.
func okBuf(v any, id dispatch.PromiseID) []byte {
	buf, err := dispatch.EncodeOK(v, id)
	if err != nil {
		return errBuf(errors.OpKindInternal, err.Error(), id)
	}
	return buf
}

func errBuf(kind, message string, id dispatch.PromiseID) []byte {
	buf, _ := dispatch.EncodeErr(kind, message, id)
	return buf
}

func minimalErr(id dispatch.PromiseID, kind, message string) []byte {
	code, ok := errors.OpCodeForKind(kind)
	if !ok {
		code, _ = errors.OpCodeForKind(errors.OpKindInternal)
	}
	return dispatch.EncodeMinimalError(id, code, message)
}

// newNowOp answers with the host clock in milliseconds. Synchronous
// JSON codec.
func newNowOp(l *Local) Handler {
	return func(payload, extra []byte) []byte {
		return okBuf(l.Clock(), 0)
	}
}

// globalTimer is the host half of the timer substrate: a single timer
// the guest scheduler re-arms at whatever instant it needs next. At
// most one subscription is live; arming again supersedes the old one,
// which completes immediately so its promise is not leaked.
type globalTimer struct {
	complete CompleteFunc

	mu      sync.Mutex
	pending dispatch.PromiseID
	timer   *time.Timer
}

type globalTimerArgs struct {
	PromiseID int32 `json:"promiseId"`
	Timeout   int64 `json:"timeout"`
}

func (g *globalTimer) arm(payload, extra []byte) []byte {
	var req globalTimerArgs
	if err := json.Unmarshal(payload, &req); err != nil {
		return errBuf(errors.OpKindInvalidInput, "bad timer args", 0)
	}
	if req.PromiseID == 0 {
		return errBuf(errors.OpKindInvalidInput, "timer subscription needs a promise id", 0)
	}
	if req.Timeout < 0 {
		req.Timeout = 0
	}

	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	stale := g.pending
	id := dispatch.PromiseID(req.PromiseID)
	g.pending = id
	g.timer = time.AfterFunc(time.Duration(req.Timeout)*time.Millisecond, func() {
		g.fire(id)
	})
	g.mu.Unlock()

	if stale != 0 {
		g.complete(okBuf(struct{}{}, stale))
	}
	return nil
}

func (g *globalTimer) fire(id dispatch.PromiseID) {
	g.mu.Lock()
	if g.pending != id {
		g.mu.Unlock()
		return
	}
	g.pending = 0
	g.timer = nil
	g.mu.Unlock()
	g.complete(okBuf(struct{}{}, id))
}

// stop cancels the live subscription and completes its promise right
// away. Stopping with nothing armed is not an error: the timer may have
// fired a moment ago and its completion already be queued.
func (g *globalTimer) stop(payload, extra []byte) []byte {
	g.mu.Lock()
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	id := g.pending
	g.pending = 0
	g.mu.Unlock()

	if id != 0 {
		g.complete(okBuf(struct{}{}, id))
	}
	return okBuf(struct{}{}, 0)
}

// newReadOp reads from a table resource into the extra buffer and
// answers with the byte count, 0 at end of stream. Minimal codec, rid
// in the argument slot.
func newReadOp(l *Local) Handler {
	return func(payload, extra []byte) []byte {
		rec, opErr, err := dispatch.DecodeMinimal(ops.Read, payload)
		if err != nil || opErr != nil {
			return minimalErr(0, errors.OpKindInvalidInput, "bad read header")
		}
		res, ok := l.resources.Get(resource.RID(rec.Arg))
		if !ok {
			return minimalErr(rec.PromiseID, errors.OpKindBadResource, "no resource with id")
		}
		r, ok := res.(io.Reader)
		if !ok {
			return minimalErr(rec.PromiseID, errors.OpKindBadResource, "resource is not readable")
		}
		n, rerr := r.Read(extra)
		if rerr != nil && rerr != io.EOF {
			return minimalErr(rec.PromiseID, errors.OpKindInternal, rerr.Error())
		}
		return dispatch.EncodeMinimal(dispatch.MinimalRecord{
			PromiseID: rec.PromiseID,
			Result:    int32(n),
		})
	}
}

// newWriteOp writes the extra buffer to a table resource and answers
// with the byte count. Minimal codec, rid in the argument slot.
func newWriteOp(l *Local) Handler {
	return func(payload, extra []byte) []byte {
		rec, opErr, err := dispatch.DecodeMinimal(ops.Write, payload)
		if err != nil || opErr != nil {
			return minimalErr(0, errors.OpKindInvalidInput, "bad write header")
		}
		res, ok := l.resources.Get(resource.RID(rec.Arg))
		if !ok {
			return minimalErr(rec.PromiseID, errors.OpKindBadResource, "no resource with id")
		}
		w, ok := res.(io.Writer)
		if !ok {
			return minimalErr(rec.PromiseID, errors.OpKindBadResource, "resource is not writable")
		}
		n, werr := w.Write(extra)
		switch {
		case werr == io.ErrClosedPipe:
			return minimalErr(rec.PromiseID, errors.OpKindBadResource, "resource is closed")
		case werr != nil:
			return minimalErr(rec.PromiseID, errors.OpKindInternal, werr.Error())
		case n == 0 && len(extra) > 0:
			return minimalErr(rec.PromiseID, errors.OpKindWriteZero, "write accepted no bytes")
		}
		return dispatch.EncodeMinimal(dispatch.MinimalRecord{
			PromiseID: rec.PromiseID,
			Result:    int32(n),
		})
	}
}

// echoOp answers with its message argument, with any extra bytes
// appended, proving both buffers crossed the boundary intact. With
// defer set the answer arrives as a completion instead of on the same
// stack, which exercises the full async path without involving time.
type echoOp struct {
	complete CompleteFunc
}

type echoArgs struct {
	PromiseID int32  `json:"promiseId"`
	Message   string `json:"message"`
	Defer     bool   `json:"defer"`
}

type echoReply struct {
	Message string `json:"message"`
}

func (e *echoOp) handle(payload, extra []byte) []byte {
	var req echoArgs
	if err := json.Unmarshal(payload, &req); err != nil {
		return errBuf(errors.OpKindInvalidInput, "bad echo args", 0)
	}
	msg := req.Message
	if len(extra) > 0 {
		msg += string(extra)
	}
	reply := okBuf(echoReply{Message: msg}, dispatch.PromiseID(req.PromiseID))
	if req.Defer && req.PromiseID != 0 {
		e.complete(reply)
		return nil
	}
	return reply
}
