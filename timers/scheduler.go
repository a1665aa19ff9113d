package timers

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/btree"

	opruntime "github.com/wippyai/op-runtime"
	"github.com/wippyai/op-runtime/dispatch"
	operrors "github.com/wippyai/op-runtime/errors"
	"github.com/wippyai/op-runtime/ops"
)

// armedTimer is the single outstanding host-timer subscription. The
// future pointer doubles as its identity: a completion whose future no
// longer matches belongs to a torn-down subscription and is ignored.
type armedTimer struct {
	due int64
	fut *dispatch.Future
}

// hostPlan is the host interaction a structural change requires,
// computed while the lock is held and executed after it is released.
type hostPlan struct {
	stop bool
	arm  bool
	due  int64
}

// Scheduler coalesces guest timers into at most one outstanding host
// timer subscription, always for the globally earliest due instant. It
// is built entirely on dispatch calls: op_now for the clock,
// op_global_timer to arm, op_global_timer_stop to tear down.
type Scheduler struct {
	disp *dispatch.Dispatcher

	opNow       opruntime.OpCode
	opTimer     opruntime.OpCode
	opTimerStop opruntime.OpCode

	mu          sync.Mutex
	lastID      TimerID
	byID        map[TimerID]*timer
	dueTree     *btree.BTreeG[*dueNode]
	pendingFire []*timer
	armed       *armedTimer
	err         error
}

// New builds a Scheduler over a dispatcher whose op table carries the
// three timer ops.
func New(disp *dispatch.Dispatcher, table *ops.Table) (*Scheduler, error) {
	if disp == nil {
		return nil, operrors.InvalidInput(operrors.PhaseScheduler, "nil dispatcher")
	}
	if table == nil {
		return nil, operrors.InvalidInput(operrors.PhaseScheduler, "nil op table")
	}
	s := &Scheduler{
		disp:    disp,
		byID:    make(map[TimerID]*timer),
		dueTree: btree.NewG(2, dueNodeLess),
	}
	for _, bind := range []struct {
		name string
		code *opruntime.OpCode
	}{
		{ops.Now, &s.opNow},
		{ops.GlobalTimer, &s.opTimer},
		{ops.GlobalTimerStop, &s.opTimerStop},
	} {
		code, ok := table.Lookup(bind.name)
		if !ok {
			return nil, operrors.OpMissing(bind.name)
		}
		*bind.code = code
	}
	return s, nil
}

// SetTimeout schedules cb to run once after delay and returns its id.
func (s *Scheduler) SetTimeout(cb func(), delay time.Duration) (TimerID, error) {
	return s.setTimer(cb, delay, false)
}

// SetInterval schedules cb to run every delay until cleared and returns
// its id.
func (s *Scheduler) SetInterval(cb func(), delay time.Duration) (TimerID, error) {
	return s.setTimer(cb, delay, true)
}

func (s *Scheduler) setTimer(cb func(), delay time.Duration, repeat bool) (TimerID, error) {
	if cb == nil {
		return 0, operrors.InvalidInput(operrors.PhaseScheduler, "nil timer callback")
	}
	now, err := s.now()
	if err != nil {
		return 0, err
	}
	ms := clampDelayMS(delay.Milliseconds())

	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return 0, err
	}
	s.lastID++
	tm := &timer{
		id:       s.lastID,
		callback: cb,
		delay:    ms,
		due:      now + ms,
		repeat:   repeat,
	}
	s.byID[tm.id] = tm
	p := s.scheduleLocked(tm, now)
	s.mu.Unlock()

	if err := s.apply(p, now, true); err != nil {
		return tm.id, err
	}
	return tm.id, nil
}

// Clear cancels a timer or interval. Unknown ids are a no-op: the timer
// may simply have fired already. A cancelled timer never runs, even if
// it is already waiting in the pending-fire queue.
func (s *Scheduler) Clear(id TimerID) error {
	s.mu.Lock()
	tm, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	delete(s.byID, id)
	p := s.unscheduleLocked(tm)
	s.mu.Unlock()
	return s.apply(p, 0, false)
}

// FireNext pops one timer from the pending-fire queue and runs its
// callback if the timer is still live; a timer cancelled after its due
// instant fired is skipped. It reports whether pending-fire work
// remains, so the embedding loop drains one timer per turn and lets
// callback-queued microtasks run before the next timer due at the same
// instant. Repeating timers are rescheduled before their callback runs,
// with the next due never in the past.
func (s *Scheduler) FireNext() (bool, error) {
	s.mu.Lock()
	if s.err != nil {
		err := s.err
		s.mu.Unlock()
		return false, err
	}
	if len(s.pendingFire) == 0 {
		s.mu.Unlock()
		return false, nil
	}
	tm := s.pendingFire[0]
	s.pendingFire = s.pendingFire[1:]

	if _, live := s.byID[tm.id]; !live {
		more := len(s.pendingFire) > 0
		s.mu.Unlock()
		return more, nil
	}

	if !tm.repeat {
		delete(s.byID, tm.id)
		s.mu.Unlock()
	} else {
		s.mu.Unlock()
		now, err := s.now()
		if err != nil {
			return s.morePending(), err
		}
		s.mu.Lock()
		next := tm.due + tm.delay
		if next < now {
			next = now
		}
		tm.due = next
		p := s.scheduleLocked(tm, now)
		s.mu.Unlock()
		if err := s.apply(p, now, true); err != nil {
			return s.morePending(), err
		}
	}

	tm.callback()
	return s.morePending(), nil
}

// HasWork reports whether any timers are live or waiting to fire.
func (s *Scheduler) HasWork() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID) > 0 || len(s.pendingFire) > 0
}

// Err returns the sticky fatal error, if the scheduler has hit one.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// scheduleLocked files tm under its due instant and decides whether the
// host subscription must move. Precondition: now <= tm.due and tm is
// not currently scheduled.
func (s *Scheduler) scheduleLocked(tm *timer, now int64) hostPlan {
	node, ok := s.dueTree.Get(&dueNode{due: tm.due})
	if !ok {
		node = &dueNode{due: tm.due}
		s.dueTree.ReplaceOrInsert(node)
	}
	node.timers = append(node.timers, tm)
	tm.scheduled = true

	if s.armed == nil || tm.due < s.armed.due {
		p := hostPlan{stop: s.armed != nil, arm: true, due: tm.due}
		s.armed = nil
		return p
	}
	return hostPlan{}
}

// unscheduleLocked removes tm from whichever structure holds it and
// decides whether the host subscription must move or go away.
func (s *Scheduler) unscheduleLocked(tm *timer) hostPlan {
	if !tm.scheduled {
		// Pending fire: the timer already left its dueNode, so the host
		// subscription is not involved.
		for i, queued := range s.pendingFire {
			if queued == tm {
				s.pendingFire = append(s.pendingFire[:i], s.pendingFire[i+1:]...)
				break
			}
		}
		return hostPlan{}
	}

	node, ok := s.dueTree.Get(&dueNode{due: tm.due})
	if !ok {
		return hostPlan{}
	}
	tm.scheduled = false
	if len(node.timers) > 1 {
		for i, member := range node.timers {
			if member == tm {
				node.timers = append(node.timers[:i], node.timers[i+1:]...)
				break
			}
		}
		return hostPlan{}
	}

	s.dueTree.Delete(node)
	if s.armed == nil || s.armed.due != tm.due {
		return hostPlan{}
	}
	p := hostPlan{stop: true}
	s.armed = nil
	if next, ok := s.dueTree.Min(); ok {
		p.arm = true
		p.due = next.due
	}
	return p
}

// onGlobalTimerResolved handles the completion of the armed host timer.
// It runs inline on the delivery path, between guest executions.
func (s *Scheduler) onGlobalTimerResolved(f *dispatch.Future) {
	s.mu.Lock()
	at := s.armed
	if at == nil || at.fut != f {
		// A superseded subscription resolving late; the ack carries no
		// work.
		s.mu.Unlock()
		return
	}
	s.armed = nil
	due := at.due
	if _, err := f.Result(); err != nil {
		s.err = operrors.Wrap(operrors.PhaseScheduler, operrors.KindInternal, err, "global timer subscription failed")
		s.mu.Unlock()
		return
	}

	// The node may be gone already if every member was cancelled after
	// the subscription was armed.
	if node, ok := s.dueTree.Delete(&dueNode{due: due}); ok {
		for _, tm := range node.timers {
			tm.scheduled = false
			s.pendingFire = append(s.pendingFire, tm)
		}
	}
	next, haveNext := s.dueTree.Min()
	s.mu.Unlock()

	if !haveNext {
		return
	}
	now, err := s.now()
	if err != nil {
		s.setErr(err)
		return
	}
	if err := s.arm(next.due, now); err != nil {
		s.setErr(err)
	}
}

// apply executes a host plan: tear down the old subscription first, then
// arm the new one.
func (s *Scheduler) apply(p hostPlan, now int64, haveNow bool) error {
	if p.stop {
		if err := s.stopGlobalTimer(); err != nil {
			return err
		}
	}
	if !p.arm {
		return nil
	}
	if !haveNow {
		n, err := s.now()
		if err != nil {
			return err
		}
		now = n
	}
	return s.arm(p.due, now)
}

// arm issues the op_global_timer subscription for due.
func (s *Scheduler) arm(due, now int64) error {
	timeout := due - now
	if timeout < 0 {
		timeout = 0
	}
	fut, err := s.disp.CallAsync(s.opTimer, globalTimerArgs{Timeout: timeout}, nil)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.armed = &armedTimer{due: due, fut: fut}
	s.mu.Unlock()
	fut.OnResolve(s.onGlobalTimerResolved)
	return nil
}

// stopGlobalTimer tears down the outstanding host subscription. The
// host may have already fired it, or nothing may be armed at all; both
// are harmless interleavings, so operation errors are discarded while
// protocol errors still surface.
func (s *Scheduler) stopGlobalTimer() error {
	_, err := s.disp.CallSync(s.opTimerStop, nil, nil)
	if err != nil {
		var opErr *operrors.OpError
		if errors.As(err, &opErr) {
			return nil
		}
		return err
	}
	return nil
}

// now reads the host clock in milliseconds.
func (s *Scheduler) now() (int64, error) {
	raw, err := s.disp.CallSync(s.opNow, nil, nil)
	if err != nil {
		return 0, err
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return 0, operrors.New(operrors.PhaseScheduler, operrors.KindInvalidInput).
			Op(ops.Now).
			Cause(err).
			Detail("payload is not integer milliseconds").
			Build()
	}
	return ms, nil
}

func (s *Scheduler) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Scheduler) morePending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pendingFire) > 0
}
