package dispatch

import (
	"context"
	"testing"
	"time"

	opruntime "github.com/wippyai/op-runtime"
	"github.com/wippyai/op-runtime/ops"
)

func TestFuture_ResultBeforeResolution(t *testing.T) {
	fut := newFuture(opruntime.OpCode(1), 1)
	if _, err := fut.Result(); err == nil {
		t.Error("Result before resolution should fail")
	}
}

func TestFuture_OnResolve(t *testing.T) {
	t.Run("deferred hook runs at resolution", func(t *testing.T) {
		fut := newFuture(opruntime.OpCode(1), 1)
		order := make([]string, 0, 3)
		fut.OnResolve(func(*Future) { order = append(order, "a") })
		fut.OnResolve(func(*Future) { order = append(order, "b") })

		fut.resolve([]byte(`1`), nil)
		order = append(order, "after")

		if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "after" {
			t.Errorf("order = %v, want [a b after]", order)
		}
	})

	t.Run("hook on resolved future runs immediately", func(t *testing.T) {
		fut := newFuture(opruntime.OpCode(1), 1)
		fut.resolve([]byte(`1`), nil)

		ran := false
		fut.OnResolve(func(f *Future) {
			ran = true
			if raw, err := f.Result(); err != nil || string(raw) != `1` {
				t.Errorf("Result() inside hook = %s, %v", raw, err)
			}
		})
		if !ran {
			t.Error("hook did not run immediately on resolved future")
		}
	})
}

func TestFuture_Await(t *testing.T) {
	bridge := newFakeBridge(ops.Echo)
	d := newTestDispatcher(t, bridge)

	fut, err := d.CallAsync(bridge.code(ops.Echo), nil, nil)
	if err != nil {
		t.Fatalf("call async: %v", err)
	}

	go func() {
		reply, err := EncodeOK("done", fut.PromiseID())
		if err != nil {
			t.Errorf("encode: %v", err)
			return
		}
		if err := bridge.complete(bridge.code(ops.Echo), reply); err != nil {
			t.Errorf("complete: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, err := fut.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if string(raw) != `"done"` {
		t.Errorf("result = %s, want \"done\"", raw)
	}
}

func TestFuture_AwaitCancelled(t *testing.T) {
	bridge := newFakeBridge(ops.Echo)
	d := newTestDispatcher(t, bridge)

	fut, err := d.CallAsync(bridge.code(ops.Echo), nil, nil)
	if err != nil {
		t.Fatalf("call async: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := fut.Await(ctx); err != context.Canceled {
		t.Errorf("await on cancelled context = %v, want context.Canceled", err)
	}
}

func TestMinimalFuture_OnResolve(t *testing.T) {
	fut := newMinimalFuture(opruntime.OpCode(2), 4)
	got := int32(0)
	fut.OnResolve(func(f *MinimalFuture) {
		n, err := f.Result()
		if err != nil {
			t.Errorf("result in hook: %v", err)
		}
		got = n
	})
	fut.resolve(9, nil)
	if got != 9 {
		t.Errorf("hook saw %d, want 9", got)
	}
}
