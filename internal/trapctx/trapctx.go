// Package trapctx defines TrapContext, the fixed-layout record of a
// user thread's saved registers living at the TRAP_CONTEXT VA in every
// address space, and ThreadInfo, the kernel-stack-resident record a
// cooperative switch saves/restores between threads. Mirrors
// trap/context.rs and sched/thread_info.rs.
package trapctx

// TrapContext holds everything __alltraps/__restore need to leave and
// re-enter user mode: the 32 general-purpose registers, the saved
// status register, the resume PC, and the three values the trampoline
// needs to get back into the kernel (its page table token, its stack
// pointer, and the trap handler's address).
type TrapContext struct {
	Regs        [32]uint64
	Status      uint64
	PC          uint64
	KernelSATP  uint64
	KernelSP    uint64
	TrapHandler uint64
}

// spReg is the RISC-V calling-convention register index for sp (x2).
const spReg = 2

// SetSP installs sp into the saved register file.
func (c *TrapContext) SetSP(sp uint64) {
	c.Regs[spReg] = sp
}

// AppInitContext builds the initial TrapContext a freshly loaded user
// program starts from: every general register zeroed except sp, pc set
// to the ELF entry point, and sstatus marked so a trap return drops to
// user mode (SPP previous-privilege bit cleared).
func AppInitContext(entry, sp, satp, kernelSP, trapHandler uint64) TrapContext {
	const sppUserBit = uint64(1) << 8
	ctx := TrapContext{
		Status:      0 &^ sppUserBit,
		PC:          entry,
		KernelSATP:  satp,
		KernelSP:    kernelSP,
		TrapHandler: trapHandler,
	}
	ctx.SetSP(sp)
	return ctx
}

// ThreadInfo is the per-thread context a cooperative switch saves:
// callee-saved registers s0-s11 plus the return address and stack
// pointer the switch resumes into, alongside scheduling identity.
type ThreadInfo struct {
	RA    uint64
	SP    uint64
	S     [12]uint64
	PID   int
	Token uint64
}

// NewThreadInfo builds a ThreadInfo primed to resume execution at
// trapReturn on kernelSP, the state a freshly scheduled thread starts
// from before it has ever been switched away from.
func NewThreadInfo(pid int, token, kernelSP, trapReturn uint64) ThreadInfo {
	return ThreadInfo{RA: trapReturn, SP: kernelSP, PID: pid, Token: token}
}
