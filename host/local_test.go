package host

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	opruntime "github.com/wippyai/op-runtime"
	"github.com/wippyai/op-runtime/errors"
)

func nopHandler(payload, extra []byte) []byte { return []byte(`{"ok":{}}`) }

func TestRegister_SequentialCodes(t *testing.T) {
	l := NewLocal()

	a, err := l.Register("op_a", nopHandler)
	if err != nil {
		t.Fatalf("Register op_a: %v", err)
	}
	b, err := l.Register("op_b", nopHandler)
	if err != nil {
		t.Fatalf("Register op_b: %v", err)
	}
	if a != 1 || b != 2 {
		t.Errorf("codes = %d, %d, want 1, 2", a, b)
	}

	if _, err := l.Register("op_a", nopHandler); err == nil {
		t.Error("duplicate registration did not fail")
	}

	tbl := l.Ops()
	if tbl["op_a"] != a || tbl["op_b"] != b {
		t.Errorf("Ops() = %v, want op_a=%d op_b=%d", tbl, a, b)
	}

	// The first read freezes the table.
	if _, err := l.Register("op_c", nopHandler); err == nil {
		t.Error("registration after freeze did not fail")
	}
}

func TestRegister_Validation(t *testing.T) {
	l := NewLocal()
	if _, err := l.Register("", nopHandler); err == nil {
		t.Error("empty name did not fail")
	}
	if _, err := l.Register("op_x", nil); err == nil {
		t.Error("nil handler did not fail")
	}
}

func TestCall_RoutesToHandler(t *testing.T) {
	l := NewLocal()
	var gotPayload, gotExtra []byte
	code, err := l.Register("op_probe", func(payload, extra []byte) []byte {
		gotPayload = payload
		gotExtra = extra
		return []byte(`{"ok":1}`)
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	out, err := l.Call(code, []byte(`{"x":1}`), []byte("side"))
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if string(out) != `{"ok":1}` {
		t.Errorf("Call = %q, want handler buffer", out)
	}
	if string(gotPayload) != `{"x":1}` || string(gotExtra) != "side" {
		t.Errorf("handler saw payload %q extra %q", gotPayload, gotExtra)
	}
}

func TestCall_UnknownOp(t *testing.T) {
	l := NewLocal()
	_, err := l.Call(42, nil, nil)
	if err == nil {
		t.Fatal("Call on unknown op did not fail")
	}
	if !stderrors.Is(err, errors.New(errors.PhaseHost, errors.KindOpMissing).Build()) {
		t.Errorf("error = %v, want host op_missing", err)
	}
}

func TestCall_PanicRecovered(t *testing.T) {
	l := NewLocal()
	bad, err := l.Register("op_bad", func(payload, extra []byte) []byte {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	good, err := l.Register("op_good", nopHandler)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	out, err := l.Call(bad, nil, nil)
	if err == nil {
		t.Fatal("panicking handler did not surface an error")
	}
	if out != nil {
		t.Errorf("Call = %q with error, want nil buffer", out)
	}
	if !errors.IsProtocol(err) {
		t.Errorf("error = %v, want protocol error", err)
	}

	// The host survives the panic.
	if _, err := l.Call(good, nil, nil); err != nil {
		t.Errorf("Call after panic: %v", err)
	}
}

func TestCall_AfterClose(t *testing.T) {
	l := NewLocal()
	code, err := l.Register("op_x", nopHandler)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := l.Call(code, nil, nil); !stderrors.Is(err, errors.Closed("")) {
		t.Errorf("Call after close = %v, want closed error", err)
	}
}

func TestCompletions_QueueAndDeliver(t *testing.T) {
	l := NewLocal()
	code, err := l.Register("op_async", nopHandler)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	var received []string
	err = l.SubscribeCompletion(code, func(buf []byte) error {
		received = append(received, string(buf))
		return nil
	})
	if err != nil {
		t.Fatalf("SubscribeCompletion: %v", err)
	}

	complete := l.Completer(code)
	complete([]byte("one"))
	complete([]byte("two"))
	if n := l.QueuedCompletions(); n != 2 {
		t.Fatalf("QueuedCompletions() = %d, want 2", n)
	}

	if err := l.Deliver(); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if len(received) != 2 || received[0] != "one" || received[1] != "two" {
		t.Errorf("received = %v, want [one two] in order", received)
	}
	if n := l.QueuedCompletions(); n != 0 {
		t.Errorf("QueuedCompletions() = %d after Deliver, want 0", n)
	}
}

func TestDeliver_NoSubscriber(t *testing.T) {
	l := NewLocal()
	code, err := l.Register("op_orphan", nopHandler)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	l.Completer(code)([]byte("lost"))
	if err := l.Deliver(); err == nil {
		t.Error("Deliver with no subscriber did not fail")
	}
}

func TestDeliver_SubscriberError(t *testing.T) {
	l := NewLocal()
	code, err := l.Register("op_x", nopHandler)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	want := errors.BadPromise(7, "completion for unknown promise")
	if err := l.SubscribeCompletion(code, func(buf []byte) error {
		return want
	}); err != nil {
		t.Fatalf("SubscribeCompletion: %v", err)
	}
	l.Completer(code)([]byte("x"))
	if err := l.Deliver(); !stderrors.Is(err, want) {
		t.Errorf("Deliver = %v, want subscriber error", err)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	l := NewLocal()
	code, err := l.Register("op_x", nopHandler)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := l.SubscribeCompletion(code, nil); err == nil {
		t.Error("nil completion func did not fail")
	}
	if err := l.SubscribeCompletion(99, func(buf []byte) error { return nil }); err == nil {
		t.Error("subscription for unknown op did not fail")
	}
}

func TestAwait(t *testing.T) {
	l := NewLocal()
	code, err := l.Register("op_x", nopHandler)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Await(ctx); !stderrors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Await with nothing queued = %v, want deadline exceeded", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Completer(code)([]byte("late"))
	}()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	if err := l.Await(ctx2); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if n := l.QueuedCompletions(); n != 1 {
		t.Errorf("QueuedCompletions() = %d, want 1", n)
	}
}

var _ opruntime.HostBridge = (*Local)(nil)
