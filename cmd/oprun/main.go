package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/op-runtime/dispatch"
	"github.com/wippyai/op-runtime/host"
	"github.com/wippyai/op-runtime/ops"
	"github.com/wippyai/op-runtime/resource"
	"github.com/wippyai/op-runtime/timers"
)

func main() {
	var (
		timerList   = flag.String("timers", "", "One-shot delays in ms, comma-separated (50,100,250)")
		intervalMS  = flag.Int64("interval", 0, "Repeating timer period in ms")
		ticks       = flag.Int("ticks", 3, "Interval ticks before it clears itself")
		echoMsg     = flag.String("echo", "", "Message to send through op_echo (deferred)")
		pipeData    = flag.String("pipe", "", "Bytes to push through op_write and read back")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	if *verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		dispatch.SetLogger(logger)
		host.SetLogger(logger)
	}

	if *interactive {
		if err := runInteractive(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if *timerList == "" && *intervalMS == 0 && *echoMsg == "" && *pipeData == "" {
		fmt.Fprintln(os.Stderr, "Usage: oprun -timers 50,100,250 [-interval ms -ticks n] [-echo msg] [-pipe data]")
		fmt.Fprintln(os.Stderr, "       oprun -i  (interactive mode)")
		os.Exit(1)
	}

	if err := run(*timerList, *intervalMS, *ticks, *echoMsg, *pipeData); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(timerList string, intervalMS int64, ticks int, echoMsg, pipeData string) error {
	local := host.NewLocal()
	defer local.Close()
	if err := host.RegisterBuiltins(local); err != nil {
		return fmt.Errorf("register builtins: %w", err)
	}

	table, err := ops.Resolve(local)
	if err != nil {
		return fmt.Errorf("resolve ops: %w", err)
	}
	disp, err := dispatch.New(local, table)
	if err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if err := disp.MarkMinimal(ops.Read, ops.Write); err != nil {
		return fmt.Errorf("mark minimal: %w", err)
	}
	sched, err := timers.New(disp, table)
	if err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}

	fmt.Printf("Host ops: %s\n", strings.Join(table.Names(), ", "))

	start := time.Now()
	elapsed := func() int64 { return time.Since(start).Milliseconds() }

	// One-shot timers
	if timerList != "" {
		for _, field := range strings.Split(timerList, ",") {
			ms, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
			if err != nil {
				return fmt.Errorf("bad delay %q: %w", field, err)
			}
			delay := ms
			id, err := sched.SetTimeout(func() {
				fmt.Printf("[%4dms] timer fired (wanted %dms)\n", elapsed(), delay)
			}, time.Duration(ms)*time.Millisecond)
			if err != nil {
				return fmt.Errorf("set timeout: %w", err)
			}
			fmt.Printf("[%4dms] timer %d armed for %dms\n", elapsed(), id, ms)
		}
	}

	// Repeating timer that clears itself
	if intervalMS > 0 {
		var ran int
		var id timers.TimerID
		id, err := sched.SetInterval(func() {
			ran++
			fmt.Printf("[%4dms] interval tick %d/%d\n", elapsed(), ran, ticks)
			if ran >= ticks {
				if err := sched.Clear(id); err != nil {
					fmt.Printf("[%4dms] clear interval: %v\n", elapsed(), err)
				}
			}
		}, time.Duration(intervalMS)*time.Millisecond)
		if err != nil {
			return fmt.Errorf("set interval: %w", err)
		}
		fmt.Printf("[%4dms] interval %d armed every %dms\n", elapsed(), id, intervalMS)
	}

	// Deferred echo through the async JSON path
	if echoMsg != "" {
		echo, ok := table.Lookup(ops.Echo)
		if !ok {
			return fmt.Errorf("op %s not in table", ops.Echo)
		}
		fut, err := disp.CallAsync(echo, map[string]any{"message": echoMsg, "defer": true}, nil)
		if err != nil {
			return fmt.Errorf("echo: %w", err)
		}
		fut.OnResolve(func(f *dispatch.Future) {
			raw, err := f.Result()
			if err != nil {
				fmt.Printf("[%4dms] echo failed: %v\n", elapsed(), err)
				return
			}
			fmt.Printf("[%4dms] echo completed: %s\n", elapsed(), raw)
		})
		fmt.Printf("[%4dms] echo sent (promise %d)\n", elapsed(), fut.PromiseID())
	}

	// Raw stream round-trip through the minimal codec
	if pipeData != "" {
		read, _ := table.Lookup(ops.Read)
		write, _ := table.Lookup(ops.Write)
		rid := local.Resources().Add(resource.NewBuffer("pipe"))

		n, err := disp.CallSyncMinimal(write, int32(rid), []byte(pipeData))
		if err != nil {
			return fmt.Errorf("write: %w", err)
		}
		buf := make([]byte, len(pipeData))
		m, err := disp.CallSyncMinimal(read, int32(rid), buf)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		fmt.Printf("[%4dms] pipe rid %d: wrote %d, read %d: %q\n", elapsed(), rid, n, m, buf[:m])
	}

	// Event loop: wait for host completions, deliver them, drain timers
	// one per turn.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for sched.HasWork() || disp.Pending() > 0 || local.QueuedCompletions() > 0 {
		if err := local.Await(ctx); err != nil {
			return fmt.Errorf("await: %w", err)
		}
		if err := local.Deliver(); err != nil {
			return fmt.Errorf("deliver: %w", err)
		}
		for {
			more, err := sched.FireNext()
			if err != nil {
				return fmt.Errorf("fire: %w", err)
			}
			if !more {
				break
			}
		}
	}

	fmt.Printf("[%4dms] done\n", elapsed())
	return nil
}
