// Package sched implements the kernel's scheduler: a FIFO run queue of
// threads plus a Processor tracking which one currently holds the CPU,
// mirroring sched/scheduler.rs, sched/proc.rs and sched/switch.rs. A
// bare-metal kernel switches threads by swapping register files in
// place (__switch); hosted here, each Thread runs its body in its own
// goroutine and the "switch" is a channel handoff that guarantees only
// one thread's goroutine ever runs at a time, preserving the original's
// single-hart cooperative-scheduling semantics without borrowing real
// OS-level concurrency.
package sched

import (
	"github.com/Conless/remire/internal/trapctx"
)

// yieldReason says why a thread's goroutine handed control back to the
// scheduler.
type yieldReason int

const (
	yieldSuspend yieldReason = iota
	yieldExit
)

// Body is a thread's cooperative workload. It is handed a Yielder and
// must call Suspend to give up the CPU without exiting, or simply
// return to exit with exitCode 0, mirroring how user code traps back
// into the kernel only at syscalls/interrupts/termination.
type Body func(y *Yielder)

// Yielder is a thread's only way to give control back to the scheduler
// from within its own Body.
type Yielder struct {
	t *Thread
}

// Suspend hands control back to the scheduler and blocks until this
// thread is scheduled again, mirroring suspend_current_and_run_next.
func (y *Yielder) Suspend() {
	y.t.yieldCh <- yieldSuspend
	<-y.t.resumeCh
}

// Exit hands control back to the scheduler permanently with the given
// exit code, mirroring exit_current_and_run_next. Body must return
// immediately after calling Exit.
func (y *Yielder) Exit(exitCode int32) {
	y.t.exitCode = exitCode
	y.t.yieldCh <- yieldExit
}

// Thread is one schedulable unit: a ThreadInfo record (kept for layout
// fidelity with the original's scheduling metadata) plus the channels
// a switch uses to hand control to and from its goroutine.
type Thread struct {
	Info trapctx.ThreadInfo

	body     Body
	started  bool
	resumeCh chan struct{}
	yieldCh  chan yieldReason
	exitCode int32
}

// NewThread creates a thread that will run body once scheduled.
func NewThread(pid int, token uint64, body Body) *Thread {
	return &Thread{
		Info:     trapctx.NewThreadInfo(pid, token, 0, 0),
		body:     body,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan yieldReason, 1),
	}
}

// resume starts the thread's goroutine on first use and hands it the
// CPU, then blocks until the thread yields or exits.
func (t *Thread) resume() yieldReason {
	if !t.started {
		t.started = true
		go func() {
			<-t.resumeCh
			t.body(&Yielder{t: t})
			t.yieldCh <- yieldExit
		}()
	}
	t.resumeCh <- struct{}{}
	return <-t.yieldCh
}
