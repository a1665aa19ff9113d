package timers

import "math"

// TimerID is the guest-visible handle for a timer or interval. Ids are
// allocated monotonically from 1 and never reused within a Scheduler.
type TimerID uint64

// Delays are clamped to the classic script-runtime range: at most
// 2^31-1 ms, with anything beyond the maximum collapsing to 1 ms.
const maxDelayMS = math.MaxInt32

// timer is one scheduled callback. A timer is in exactly one place at a
// time: absent everywhere, in one dueNode's list (scheduled), or in the
// pending-fire queue (scheduled=false, waiting for its drain turn).
type timer struct {
	id        TimerID
	callback  func()
	delay     int64 // ms
	due       int64 // ms on the host clock
	repeat    bool
	scheduled bool
}

// dueNode groups every timer sharing one due instant. A node exists in
// the due tree iff its timer list is non-empty; list order is schedule
// order, which is the order the timers fire in.
type dueNode struct {
	due    int64
	timers []*timer
}

func dueNodeLess(a, b *dueNode) bool {
	return a.due < b.due
}

// globalTimerArgs is the argument record of an op_global_timer call.
type globalTimerArgs struct {
	Timeout int64 `json:"timeout"`
}

// clampDelayMS converts a delay to whole milliseconds within the
// supported range.
func clampDelayMS(ms int64) int64 {
	if ms < 0 {
		return 0
	}
	if ms > maxDelayMS {
		return 1
	}
	return ms
}
