package ops

import (
	"sort"

	opruntime "github.com/wippyai/op-runtime"
	"github.com/wippyai/op-runtime/errors"
)

// Names of the ops this library's own components call. Names are the
// stable contract with the host; the numeric codes behind them are
// assigned by the host per process and must never be persisted.
const (
	Now             = "op_now"
	GlobalTimer     = "op_global_timer"
	GlobalTimerStop = "op_global_timer_stop"
	Read            = "op_read"
	Write           = "op_write"
	Echo            = "op_echo"
)

// Table is an immutable snapshot of the host's op name->id map, taken
// once at process start. Lookups are by value; a Table is safe for
// concurrent use.
type Table struct {
	byName map[string]opruntime.OpCode
	byCode map[opruntime.OpCode]string
}

// Resolve snapshots the host's op table. It fails if the host exposes no
// ops, assigns the reserved zero code, or assigns one code to two names.
func Resolve(bridge opruntime.HostBridge) (*Table, error) {
	src := bridge.Ops()
	if len(src) == 0 {
		return nil, errors.InvalidInput(errors.PhaseHost, "host exposes no ops")
	}

	t := &Table{
		byName: make(map[string]opruntime.OpCode, len(src)),
		byCode: make(map[opruntime.OpCode]string, len(src)),
	}
	for name, code := range src {
		if code == 0 {
			return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Op(name).
				Detail("op assigned the reserved zero code").
				Build()
		}
		if prev, ok := t.byCode[code]; ok {
			return nil, errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Op(name).
				Detail("op code %d already assigned to %q", code, prev).
				Build()
		}
		t.byName[name] = code
		t.byCode[code] = name
	}
	return t, nil
}

// Lookup resolves an op name to its code.
func (t *Table) Lookup(name string) (opruntime.OpCode, bool) {
	code, ok := t.byName[name]
	return code, ok
}

// Name resolves a code back to its op name, for diagnostics.
func (t *Table) Name(code opruntime.OpCode) (string, bool) {
	name, ok := t.byCode[code]
	return name, ok
}

// Names returns all op names in the table, sorted.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of ops in the table.
func (t *Table) Len() int {
	return len(t.byName)
}
