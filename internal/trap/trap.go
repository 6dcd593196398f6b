// Package trap implements the kernel's trap dispatch: the handler a
// user thread's Body calls into on a (simulated) timer tick, syscall,
// or fault, mirroring trap/mod.rs's trap_handler/trap_return round
// trip. Since this kernel is hosted rather than bare metal, "entering"
// a trap is a direct call rather than an asynchronous CPU exception,
// but the dispatch and the scheduling decisions it makes are the same:
// a timer tick suspends and reschedules, a syscall runs to completion
// and resumes the same thread, and a fault or illegal instruction kills
// the thread.
package trap

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/arch/riscv64/riscv64asm"

	"github.com/Conless/remire/internal/kerr"
	"github.com/Conless/remire/internal/klog"
	"github.com/Conless/remire/internal/sched"
)

// Cause identifies why a trap was taken.
type Cause int

const (
	CauseTimer Cause = iota
	CauseSyscall
	CauseFault
	CauseIllegalInstruction
)

// Syscall is the kernel's syscall table: number to handler. cmd/kernel
// wires concrete handlers in; trap itself just dispatches. Handlers
// receive the calling thread's Yielder so that a handler such as
// sys_yield can itself hand control back to the scheduler instead of only
// recording state for some other caller to act on.
type Syscall func(y *sched.Yielder, args [3]uint64) int64

var syscalls = map[uint64]Syscall{}

// RegisterSyscall installs the handler for syscall number n.
func RegisterSyscall(n uint64, fn Syscall) {
	syscalls[n] = fn
}

// Handle dispatches one trap for the currently scheduled thread. num
// and args carry the syscall register conventions (a7 and a0-a2) for
// CauseSyscall; for CauseIllegalInstruction num carries the faulting
// instruction word. They are ignored otherwise.
func Handle(y *sched.Yielder, cause Cause, num uint64, args [3]uint64) (result int64, fatal bool) {
	switch cause {
	case CauseTimer:
		if sched.CurrentPID() != 0 {
			y.Suspend()
		}
		return 0, false

	case CauseSyscall:
		fn, ok := syscalls[num]
		if !ok {
			klog.Warnf("kernel", "unknown syscall %d", num)
			return int64(kerr.EINVAL), false
		}
		return fn(y, args), false

	case CauseFault:
		klog.Tagf("kernel", "page fault in application, kernel killed it")
		y.Exit(-2)
		return 0, true

	case CauseIllegalInstruction:
		klog.Tagf("kernel", "illegal instruction (%s) in application, kernel killed it", disassemble(num))
		y.Exit(-3)
		return 0, true
	}
	panic("trap: unsupported cause")
}

// disassemble decodes the 32-bit instruction word that faulted so the
// kill log carries a mnemonic instead of a bare hex opcode. raw carries
// the instruction the same way num carries the syscall number for
// CauseSyscall: reused here as the trapped instruction word.
func disassemble(raw uint64) string {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(raw))
	inst, err := riscv64asm.Decode(buf[:])
	if err != nil {
		return fmt.Sprintf("raw %#08x", uint32(raw))
	}
	return inst.String()
}
