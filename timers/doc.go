// Package timers schedules guest-side timeouts and intervals on top of
// a single host timer.
//
// The host exposes one coarse primitive, op_global_timer, which sleeps
// for a requested number of milliseconds and completes. The scheduler
// multiplexes any number of guest timers onto it by grouping them into
// dueNodes keyed by absolute due time (milliseconds on the host clock,
// read through op_now) and keeping the one host subscription aimed at
// the earliest due instant. Scheduling an earlier timer, or cancelling
// the last timer at the armed instant, tears the subscription down with
// op_global_timer_stop and re-arms it for the new earliest instant.
// Cancelling one of several timers that share an instant touches only
// the in-memory node.
//
// When the armed subscription completes, every timer at its due instant
// moves to a pending-fire queue. The embedding loop then drains it:
//
//	for {
//		more, err := sched.FireNext()
//		if err != nil || !more {
//			break
//		}
//	}
//
// FireNext runs at most one callback and reports whether more remain,
// so work queued by one callback is observed before the next timer at
// the same instant runs. Liveness is re-checked at fire time: a timer
// cancelled while waiting in the queue is skipped. Repeating timers are
// rescheduled before their callback runs, at previous due plus period,
// pulled up to the current clock reading if the loop has fallen behind.
// Clearing an interval from inside its own callback therefore cancels
// all later runs.
//
// Delays are clamped to [0, 2^31-1] milliseconds; a delay above the cap
// collapses to one millisecond, matching the 32-bit wraparound behavior
// scripted timers historically rely on.
//
// A completion for a subscription that was torn down can still arrive
// afterwards. Those stale acks are detected by pointer identity with
// the armed future and dropped. Everything else that fails, a bad clock
// payload or a rejected subscription, parks the scheduler with a sticky
// error returned by Err and by every later scheduling or firing call.
package timers
