// Package host provides Local, the in-process reference host behind the
// opruntime.HostBridge boundary.
//
// A Local host is assembled in three steps: register ops, hand the
// bridge to the dispatch layer, then run the event loop.
//
//	local := host.NewLocal()
//	if err := host.RegisterBuiltins(local); err != nil {
//		...
//	}
//	table, err := ops.Resolve(local)
//	disp, err := dispatch.New(local, table)
//
// Op codes are assigned sequentially from 1 in registration order and
// freeze the first time the table is read, so a connected guest never
// sees codes move.
//
// # Answering calls
//
// A Handler returns the response buffer directly for synchronous ops.
// Returning nil defers the answer: the op must later push exactly one
// completion through the CompleteFunc obtained from Completer. Queued
// completions never interrupt the guest; they sit until the embedding
// loop calls Deliver:
//
//	for sched.HasWork() || local.QueuedCompletions() > 0 {
//		if err := local.Await(ctx); err != nil {
//			break
//		}
//		if err := local.Deliver(); err != nil {
//			break // protocol error, stop the isolate
//		}
//		for {
//			more, err := sched.FireNext()
//			if err != nil || !more {
//				break
//			}
//		}
//	}
//
// # Builtins
//
// RegisterBuiltins installs the standard op set:
//
//	op_now               host clock, ms since start (JSON, sync)
//	op_global_timer      single re-armable timer (JSON, async)
//	op_global_timer_stop cancel the armed timer (JSON, sync)
//	op_read              read a resource into extra (minimal, sync)
//	op_write             write extra to a resource (minimal, sync)
//	op_echo              echo message and extra (JSON, sync or deferred)
//
// op_read and op_write address resources in the host's resource table;
// embedders preopen streams through Resources before starting the
// guest.
package host
