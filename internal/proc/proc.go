// Package proc implements the kernel's process table: a PID pool, the
// Process record (address space, kernel stack slot, state machine,
// parent/children ownership), and the fork/exec/exit plumbing that
// drives internal/sched and internal/pm. Mirrors task/info/task_struct.rs
// and task/proc.rs, adapted from a single monolithic task tree to a
// microkernel split where the PM owns most bookkeeping and the kernel
// keeps only what a trap handler needs on the hot path.
package proc

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/Conless/remire/internal/addrspace"
	"github.com/Conless/remire/internal/config"
	"github.com/Conless/remire/internal/frame"
	"github.com/Conless/remire/internal/kstack"
	"github.com/Conless/remire/internal/trapctx"
)

// Status is a process's lifecycle state.
type Status int

const (
	StatusReady Status = iota
	StatusRunning
	StatusZombie
)

// Process is the kernel's record of a user-mode process: its address
// space, the kernel stack slot backing its trap handling, and its place
// in the parent/children ownership tree.
type Process struct {
	sync.Mutex
	PID       int
	Status    Status
	Space     *addrspace.Space
	StackSlot int
	ExitCode  int32

	// Parent is a non-owning back-reference; Children is the owning
	// forward edge, mirroring TaskStructInner's Weak parent / owned
	// Vec<Arc<TaskStruct>> children split.
	Parent   *Process
	Children []*Process
}

var (
	pidMu  sync.Mutex
	table  = map[int]*Process{}
	nextID = 1
)

func allocPID() int {
	pidMu.Lock()
	defer pidMu.Unlock()
	id := nextID
	nextID++
	if id >= config.MaxProcesses {
		panic("proc: pid pool exhausted")
	}
	return id
}

// New loads elfData as a fresh process with no parent. cmd/kernel uses
// it for every process it loads from an image at boot (init and the PM
// and FS services); forked processes are created by Fork instead.
func New(elfData []byte) (*Process, *trapctx.TrapContext, error) {
	space, layout, err := addrspace.NewApp(elfData)
	if err != nil {
		return nil, nil, fmt.Errorf("proc: load elf: %w", err)
	}

	pid := allocPID()
	slot := kstack.Alloc()
	kernelSP := kstack.Map(kernelSpace(), slot)

	trapCtxPPN, ok := space.Translate(config.TrapContextVA >> config.PageShift)
	if !ok {
		panic("proc: trap context page not mapped")
	}

	p := &Process{PID: pid, Status: StatusReady, Space: space, StackSlot: slot}
	pidMu.Lock()
	table[pid] = p
	pidMu.Unlock()

	ctx := trapctx.AppInitContext(layout.EntryPoint, layout.UserStackTop, kernelSpace().Token(), kernelSP, 0)
	writeTrapCtx(trapCtxPPN, &ctx)

	return p, &ctx, nil
}

// Fork deep-copies parent's address space into a brand-new process,
// registers the child under parent in the ownership tree, and returns
// the child with a freshly laid out kernel stack and trap context.
func Fork(parent *Process) (*Process, error) {
	parent.Lock()
	childSpace := parent.Space.Clone()
	parent.Unlock()

	pid := allocPID()
	slot := kstack.Alloc()
	kernelSP := kstack.Map(kernelSpace(), slot)

	trapCtxPPN, ok := childSpace.Translate(config.TrapContextVA >> config.PageShift)
	if !ok {
		panic("proc: trap context page not mapped in cloned space")
	}
	parentCtxPPN, ok := parent.Space.Translate(config.TrapContextVA >> config.PageShift)
	if !ok {
		panic("proc: trap context page not mapped in parent space")
	}

	child := &Process{PID: pid, Status: StatusReady, Space: childSpace, StackSlot: slot}
	pidMu.Lock()
	table[pid] = child
	pidMu.Unlock()

	ctx := ReadTrapCtx(parentCtxPPN)
	ctx.KernelSP = kernelSP
	ctx.Regs[10] = 0 // a0: fork returns 0 in the child
	writeTrapCtx(trapCtxPPN, &ctx)

	AddChild(parent, child)
	return child, nil
}

// Get looks up a process by pid.
func Get(pid int) (*Process, bool) {
	pidMu.Lock()
	defer pidMu.Unlock()
	p, ok := table[pid]
	return p, ok
}

// AddChild records child as an owned child of parent and sets the
// child's non-owning back-reference.
func AddChild(parent, child *Process) {
	parent.Lock()
	parent.Children = append(parent.Children, child)
	parent.Unlock()
	child.Lock()
	child.Parent = parent
	child.Unlock()
}

// MarkZombie transitions p to Zombie with the given exit code and drops
// its address space's areas (freeing every frame they held) and its
// kernel stack slot, but keeps the Process record and the Space shell
// itself reachable through its parent's Children until the PM reaps it
// (Recycle/Remove), mirroring "drop all areas (frees frames); keep the
// MMStruct shell until a waiter consumes the exit code, then drop it."
func MarkZombie(p *Process, exitCode int32) {
	p.Lock()
	defer p.Unlock()
	p.Status = StatusZombie
	p.ExitCode = exitCode
	p.Space.DropAreas()
	kstack.Unmap(kernelSpace(), p.StackSlot)
	kstack.Free(p.StackSlot)
}

// Reap removes pid from the process table entirely, once the PM has
// confirmed no further reference to it remains.
func Reap(pid int) {
	pidMu.Lock()
	defer pidMu.Unlock()
	delete(table, pid)
}

// PIDForToken finds the pid of whichever table entry owns the address
// space with the given page-table token, for callers (the PM's Remove
// notification) that name a process by its space rather than its pid.
func PIDForToken(token uint64) (int, bool) {
	pidMu.Lock()
	defer pidMu.Unlock()
	for pid, p := range table {
		if p.Space.Token() == token {
			return pid, true
		}
	}
	return 0, false
}

var (
	kernelSpaceOnce sync.Once
	kernelSpace_    *addrspace.Space
)

// SetKernelSpace installs the singleton kernel address space every
// process's kernel stack slot is mapped into, mirroring KERNEL_SPACE.
func SetKernelSpace(s *addrspace.Space) {
	kernelSpaceOnce.Do(func() { kernelSpace_ = s })
}

func kernelSpace() *addrspace.Space {
	if kernelSpace_ == nil {
		panic("proc: kernel space not initialized")
	}
	return kernelSpace_
}

// ResetForTest clears the process table and kernel-space singleton so
// each test starts from a clean slate.
func ResetForTest(kernel *addrspace.Space) {
	pidMu.Lock()
	table = map[int]*Process{}
	nextID = 1
	pidMu.Unlock()
	kernelSpaceOnce = sync.Once{}
	SetKernelSpace(kernel)
}

func writeTrapCtx(ppn uint64, ctx *trapctx.TrapContext) {
	b := frame.BytesOf(frame.PPN(ppn))
	off := 0
	for _, r := range ctx.Regs {
		binary.LittleEndian.PutUint64(b[off:off+8], r)
		off += 8
	}
	for _, v := range []uint64{ctx.Status, ctx.PC, ctx.KernelSATP, ctx.KernelSP, ctx.TrapHandler} {
		binary.LittleEndian.PutUint64(b[off:off+8], v)
		off += 8
	}
}

// ReadTrapCtx reconstructs the TrapContext stored at physical page ppn.
func ReadTrapCtx(ppn uint64) trapctx.TrapContext {
	b := frame.BytesOf(frame.PPN(ppn))
	var ctx trapctx.TrapContext
	off := 0
	for i := range ctx.Regs {
		ctx.Regs[i] = binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
	}
	fields := []*uint64{&ctx.Status, &ctx.PC, &ctx.KernelSATP, &ctx.KernelSP, &ctx.TrapHandler}
	for _, f := range fields {
		*f = binary.LittleEndian.Uint64(b[off : off+8])
		off += 8
	}
	return ctx
}
