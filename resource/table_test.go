package resource

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/wippyai/op-runtime/errors"
)

type fakeStream struct {
	name   string
	closed bool
	fail   error
}

func (f *fakeStream) Name() string { return f.name }
func (f *fakeStream) Close() error {
	f.closed = true
	return f.fail
}

type plainRes struct{ name string }

func (p *plainRes) Name() string { return p.name }

func TestTable_AddGet(t *testing.T) {
	tbl := NewTable()

	a := &fakeStream{name: "a"}
	b := &fakeStream{name: "b"}
	ridA := tbl.Add(a)
	ridB := tbl.Add(b)

	if ridA != 1 || ridB != 2 {
		t.Fatalf("rids = %d, %d, want 1, 2", ridA, ridB)
	}

	got, ok := tbl.Get(ridB)
	if !ok || got != Resource(b) {
		t.Errorf("Get(%d) = %v, %v, want b, true", ridB, got, ok)
	}
	if _, ok := tbl.Get(0); ok {
		t.Error("Get(0) found a resource")
	}
	if _, ok := tbl.Get(99); ok {
		t.Error("Get(99) found a resource")
	}
	if tbl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tbl.Len())
	}
}

func TestTable_Close(t *testing.T) {
	tbl := NewTable()
	s := &fakeStream{name: "s"}
	rid := tbl.Add(s)

	if err := tbl.Close(rid); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !s.closed {
		t.Error("resource teardown did not run")
	}
	if _, ok := tbl.Get(rid); ok {
		t.Error("closed resource still retrievable")
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tbl.Len())
	}

	err := tbl.Close(rid)
	if err == nil {
		t.Fatal("closing an unknown rid did not fail")
	}
	if !stderrors.Is(err, errors.NewOpError(errors.OpKindBadResource, "")) {
		t.Errorf("error = %v, want bad_resource", err)
	}
}

func TestTable_Close_NoTeardown(t *testing.T) {
	tbl := NewTable()
	rid := tbl.Add(&plainRes{name: "p"})
	if err := tbl.Close(rid); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestTable_IDsNeverReused(t *testing.T) {
	tbl := NewTable()
	first := tbl.Add(&plainRes{name: "first"})
	if err := tbl.Close(first); err != nil {
		t.Fatalf("Close: %v", err)
	}
	second := tbl.Add(&plainRes{name: "second"})
	if second == first {
		t.Errorf("rid %d reused after close", first)
	}
}

func TestTable_CloseAll(t *testing.T) {
	tbl := NewTable()
	good := &fakeStream{name: "good"}
	bad := &fakeStream{name: "bad", fail: fmt.Errorf("flush failed")}
	last := &fakeStream{name: "last"}
	tbl.Add(good)
	tbl.Add(bad)
	tbl.Add(last)

	err := tbl.CloseAll()
	if err == nil || err.Error() != "flush failed" {
		t.Errorf("CloseAll() = %v, want first teardown error", err)
	}
	for _, s := range []*fakeStream{good, bad, last} {
		if !s.closed {
			t.Errorf("resource %q teardown did not run", s.name)
		}
	}
	if tbl.Len() != 0 {
		t.Errorf("Len() = %d after CloseAll, want 0", tbl.Len())
	}
}

func TestTable_EachAscending(t *testing.T) {
	tbl := NewTable()
	for _, name := range []string{"one", "two", "three"} {
		tbl.Add(&plainRes{name: name})
	}

	var order []RID
	tbl.Each(func(rid RID, res Resource) bool {
		order = append(order, rid)
		return true
	})
	if len(order) != 3 {
		t.Fatalf("visited %d resources, want 3", len(order))
	}
	for i, rid := range order {
		if rid != RID(i+1) {
			t.Fatalf("visit order = %v, want ascending from 1", order)
		}
	}

	var stopped []RID
	tbl.Each(func(rid RID, res Resource) bool {
		stopped = append(stopped, rid)
		return false
	})
	if len(stopped) != 1 {
		t.Errorf("visited %d resources after stop, want 1", len(stopped))
	}
}

func TestTable_List(t *testing.T) {
	tbl := NewTable()
	ridA := tbl.Add(&plainRes{name: "stdin"})
	ridB := tbl.Add(&plainRes{name: "stdout"})

	list := tbl.List()
	if len(list) != 2 {
		t.Fatalf("List() = %v, want 2 entries", list)
	}
	if list[ridA] != "stdin" || list[ridB] != "stdout" {
		t.Errorf("List() = %v, want stdin and stdout", list)
	}
}
