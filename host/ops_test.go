package host

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	opruntime "github.com/wippyai/op-runtime"
	"github.com/wippyai/op-runtime/dispatch"
	"github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/resource"
)

func newBuiltinStack(t *testing.T) (*Local, *dispatch.Dispatcher, *ops.Table) {
	t.Helper()
	l := NewLocal()
	if err := RegisterBuiltins(l); err != nil {
		t.Fatalf("RegisterBuiltins: %v", err)
	}
	table, err := ops.Resolve(l)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	d, err := dispatch.New(l, table)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	if err := d.MarkMinimal(ops.Read, ops.Write); err != nil {
		t.Fatalf("MarkMinimal: %v", err)
	}
	return l, d, table
}

func mustCode(t *testing.T, table *ops.Table, name string) opruntime.OpCode {
	t.Helper()
	code, ok := table.Lookup(name)
	if !ok {
		t.Fatalf("op %s not in table", name)
	}
	return code
}

// pump waits for a completion and delivers it.
func pump(t *testing.T, l *Local) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if err := l.Deliver(); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
}

func TestNowOp(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	now := mustCode(t, table, ops.Now)

	raw, err := d.CallSync(now, nil, nil)
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	var first int64
	if err := json.Unmarshal(raw, &first); err != nil {
		t.Fatalf("unmarshal clock: %v", err)
	}
	if first < 0 {
		t.Errorf("clock = %d, want >= 0", first)
	}

	raw, err = d.CallSync(now, nil, nil)
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	var second int64
	if err := json.Unmarshal(raw, &second); err != nil {
		t.Fatalf("unmarshal clock: %v", err)
	}
	if second < first {
		t.Errorf("clock went backwards: %d then %d", first, second)
	}
}

func TestEchoOp_Sync(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	echo := mustCode(t, table, ops.Echo)

	raw, err := d.CallSync(echo, map[string]any{"message": "hello"}, nil)
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	var reply struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Message != "hello" {
		t.Errorf("message = %q, want hello", reply.Message)
	}
}

func TestEchoOp_ExtraAppended(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	echo := mustCode(t, table, ops.Echo)

	raw, err := d.CallSync(echo, map[string]any{"message": "ping/"}, []byte("pong"))
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	var reply struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Message != "ping/pong" {
		t.Errorf("message = %q, want ping/pong", reply.Message)
	}
}

func TestEchoOp_Deferred(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	echo := mustCode(t, table, ops.Echo)

	fut, err := d.CallAsync(echo, map[string]any{"message": "later", "defer": true}, nil)
	if err != nil {
		t.Fatalf("CallAsync: %v", err)
	}
	if fut.Resolved() {
		t.Fatal("deferred echo resolved before delivery")
	}
	if n := d.Pending(); n != 1 {
		t.Fatalf("Pending() = %d, want 1", n)
	}

	pump(t, l)

	if !fut.Resolved() {
		t.Fatal("future not resolved after delivery")
	}
	raw, err := fut.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	var reply struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.Message != "later" {
		t.Errorf("message = %q, want later", reply.Message)
	}
	if n := d.Pending(); n != 0 {
		t.Errorf("Pending() = %d after delivery, want 0", n)
	}
}

func TestEchoOp_AsyncImmediate(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	echo := mustCode(t, table, ops.Echo)

	fut, err := d.CallAsync(echo, map[string]any{"message": "right away"}, nil)
	if err != nil {
		t.Fatalf("CallAsync: %v", err)
	}
	if !fut.Resolved() {
		t.Fatal("immediate echo not resolved at the call site")
	}
	if n := d.Pending(); n != 0 {
		t.Errorf("Pending() = %d after immediate answer, want 0", n)
	}
}

func TestReadWriteOps_RoundTrip(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	read := mustCode(t, table, ops.Read)
	write := mustCode(t, table, ops.Write)

	rid := l.Resources().Add(resource.NewBuffer("pipe"))

	n, err := d.CallSyncMinimal(write, int32(rid), []byte("hello"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != 5 {
		t.Errorf("write = %d bytes, want 5", n)
	}

	buf := make([]byte, 16)
	n, err = d.CallSyncMinimal(read, int32(rid), buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if n != 5 || string(buf[:n]) != "hello" {
		t.Errorf("read = %d, %q, want 5, hello", n, buf[:n])
	}

	// A drained stream reads as zero bytes.
	n, err = d.CallSyncMinimal(read, int32(rid), buf)
	if err != nil {
		t.Fatalf("read at end of stream: %v", err)
	}
	if n != 0 {
		t.Errorf("read at end of stream = %d, want 0", n)
	}
}

func TestReadOp_BadResource(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	read := mustCode(t, table, ops.Read)

	_, err := d.CallSyncMinimal(read, 999, make([]byte, 4))
	if err == nil {
		t.Fatal("read on unknown rid did not fail")
	}
	var opErr *errors.OpError
	if !stderrors.As(err, &opErr) {
		t.Fatalf("error = %T %v, want *OpError", err, err)
	}
	if opErr.Kind != errors.OpKindBadResource {
		t.Errorf("kind = %q, want bad_resource", opErr.Kind)
	}
	wantCode, _ := errors.OpCodeForKind(errors.OpKindBadResource)
	if opErr.Code != wantCode {
		t.Errorf("code = %d, want %d", opErr.Code, wantCode)
	}
}

func TestWriteOp_ClosedResource(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	write := mustCode(t, table, ops.Write)

	b := resource.NewBuffer("out")
	rid := l.Resources().Add(b)
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	_, err := d.CallSyncMinimal(write, int32(rid), []byte("x"))
	if !stderrors.Is(err, errors.NewOpError(errors.OpKindBadResource, "")) {
		t.Errorf("write on closed resource = %v, want bad_resource", err)
	}
}

type tagResource struct{ name string }

func (r *tagResource) Name() string { return r.name }

func TestReadOp_NotReadable(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	read := mustCode(t, table, ops.Read)

	rid := l.Resources().Add(&tagResource{name: "opaque"})
	_, err := d.CallSyncMinimal(read, int32(rid), make([]byte, 4))
	if !stderrors.Is(err, errors.NewOpError(errors.OpKindBadResource, "")) {
		t.Errorf("read on opaque resource = %v, want bad_resource", err)
	}
}

func TestGlobalTimerOp_FiresOnce(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	timer := mustCode(t, table, ops.GlobalTimer)

	fut, err := d.CallAsync(timer, map[string]any{"timeout": 5}, nil)
	if err != nil {
		t.Fatalf("CallAsync: %v", err)
	}
	if fut.Resolved() {
		t.Fatal("timer resolved before it could fire")
	}

	pump(t, l)

	if !fut.Resolved() {
		t.Fatal("timer not resolved after delivery")
	}
	if _, err := fut.Result(); err != nil {
		t.Errorf("Result: %v", err)
	}
}

func TestGlobalTimerOp_RearmSupersedes(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	timer := mustCode(t, table, ops.GlobalTimer)

	slow, err := d.CallAsync(timer, map[string]any{"timeout": 60000}, nil)
	if err != nil {
		t.Fatalf("CallAsync slow: %v", err)
	}
	fast, err := d.CallAsync(timer, map[string]any{"timeout": 5}, nil)
	if err != nil {
		t.Fatalf("CallAsync fast: %v", err)
	}

	// The superseded subscription completes immediately, before the live
	// one can possibly fire.
	pump(t, l)
	if !slow.Resolved() {
		t.Fatal("superseded subscription not completed")
	}

	for !fast.Resolved() {
		pump(t, l)
	}
	if _, err := fast.Result(); err != nil {
		t.Errorf("Result: %v", err)
	}
}

func TestGlobalTimerStopOp(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	timer := mustCode(t, table, ops.GlobalTimer)
	stop := mustCode(t, table, ops.GlobalTimerStop)

	fut, err := d.CallAsync(timer, map[string]any{"timeout": 60000}, nil)
	if err != nil {
		t.Fatalf("CallAsync: %v", err)
	}
	if _, err := d.CallSync(stop, nil, nil); err != nil {
		t.Fatalf("stop: %v", err)
	}

	pump(t, l)
	if !fut.Resolved() {
		t.Fatal("stopped subscription not completed")
	}

	// Stopping with nothing armed is harmless.
	if _, err := d.CallSync(stop, nil, nil); err != nil {
		t.Errorf("stop with nothing armed: %v", err)
	}
}

func TestGlobalTimerOp_BadArgs(t *testing.T) {
	l, d, table := newBuiltinStack(t)
	defer l.Close()
	timer := mustCode(t, table, ops.GlobalTimer)

	fut, err := d.CallAsync(timer, map[string]any{"timeout": "soon"}, nil)
	if err != nil {
		t.Fatalf("CallAsync: %v", err)
	}
	if !fut.Resolved() {
		t.Fatal("bad args did not answer immediately")
	}
	_, err = fut.Result()
	if !stderrors.Is(err, errors.NewOpError(errors.OpKindInvalidInput, "")) {
		t.Errorf("Result = %v, want invalid_input", err)
	}

	// A sync call never carries a promise id, and the subscription
	// requires one.
	_, err = d.CallSync(timer, map[string]any{"timeout": 5}, nil)
	if !stderrors.Is(err, errors.NewOpError(errors.OpKindInvalidInput, "")) {
		t.Errorf("sync subscription = %v, want invalid_input", err)
	}
}
