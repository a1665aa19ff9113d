// Package opruntime provides the call-dispatch substrate of a sandboxed
// script runtime: the layer that lets guest code invoke privileged host
// operations ("ops") synchronously or asynchronously across an isolation
// boundary, plus a timer/interval scheduler built entirely on top of that
// dispatch path.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	opruntime/           Root package with the HostBridge boundary interfaces
//	├── ops/             Opcode table resolved from the host's name->id map
//	├── dispatch/        Dispatcher, JSON envelope codec, minimal binary codec
//	├── timers/          Coalescing timer/interval scheduler over dispatch
//	├── host/            In-process reference host with the built-in ops
//	├── resource/        Host-side resource handle table (rid -> resource)
//	└── errors/          Structured protocol and operation error types
//
// # Quick Start
//
// Wire a dispatcher and scheduler to a host and run the event loop:
//
//	local := host.NewLocal()
//	if err := host.RegisterBuiltins(local); err != nil {
//	    log.Fatal(err)
//	}
//
//	table, err := ops.Resolve(local)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	disp, err := dispatch.New(local, table)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sched, err := timers.New(disp, table)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sched.SetTimeout(func() { fmt.Println("fired") }, 50*time.Millisecond)
//	for disp.Pending() > 0 || sched.HasWork() {
//	    if err := local.Await(ctx); err != nil {
//	        break
//	    }
//	    if err := local.Deliver(); err != nil {
//	        log.Fatal(err) // protocol error, isolate is broken
//	    }
//	    for {
//	        more, err := sched.FireNext()
//	        if err != nil || !more {
//	            break
//	        }
//	    }
//	}
//
// # Call Semantics
//
// Synchronous calls pick their codec at the call site and are answered on
// the same stack. Asynchronous calls allocate a correlation id (the wire's
// promiseId), may resolve immediately when the host fast-paths the result,
// and otherwise park in the dispatcher's pending table until the matching
// completion arrives. Completions carry the correlation id, never ordering
// guarantees: callers correlate by id, not submission sequence.
//
// Two wire encodings exist. The JSON envelope {ok, err, promiseId} covers
// general structured ops; the minimal encoding is a fixed 12-byte header of
// three little-endian 32-bit integers for very hot single-integer ops such
// as raw byte read/write.
//
// # Thread Model
//
// The dispatch and timer state machines assume the single-threaded
// cooperative model of a script runtime: completions are delivered by the
// embedding event loop strictly between guest executions, and the scheduler
// fires exactly one timer per loop turn so callback-queued microtasks run
// before the next timer due at the same instant. Internal state is still
// mutex-guarded so host goroutines can enqueue completions safely.
package opruntime
