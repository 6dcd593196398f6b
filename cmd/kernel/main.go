// Command kernel boots the microkernel: it brings up the frame and heap
// allocators, builds the kernel's own identity-mapped address space,
// loads the init process (and, if given, the PM and FS service images),
// wires the message ports between them, and hands off to the scheduler.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Conless/remire/internal/addrspace"
	"github.com/Conless/remire/internal/config"
	"github.com/Conless/remire/internal/console"
	"github.com/Conless/remire/internal/frame"
	"github.com/Conless/remire/internal/heap"
	"github.com/Conless/remire/internal/kerr"
	"github.com/Conless/remire/internal/kfs"
	"github.com/Conless/remire/internal/klog"
	"github.com/Conless/remire/internal/msgport"
	"github.com/Conless/remire/internal/pm"
	"github.com/Conless/remire/internal/proc"
	"github.com/Conless/remire/internal/sbi"
	"github.com/Conless/remire/internal/sched"
	"github.com/Conless/remire/internal/trap"
)

// bootTime anchors syscall 169 get_time's millisecond clock to the
// instant the kernel binary started, standing in for the virt
// machine's mtime register.
var bootTime = time.Now()

func main() {
	var (
		initPath   = flag.String("init", "", "path to the init process's ELF image")
		pmPath     = flag.String("pm", "", "path to the process manager service's ELF image")
		fsPath     = flag.String("fs", "", "path to the filesystem service's ELF image")
		memoryEnd  = flag.Uint64("memory-end", config.MemoryEnd, "exclusive upper bound of usable physical memory")
		kernelEnd  = flag.Uint64("kernel-end", config.KernelEntry+0x20_0000, "first physical address past the kernel image")
		heapBytes  = flag.Int("heap-bytes", 3<<20, "bytes of kernel heap arena, starting at address 0, to give the buddy allocator on boot")
		tickPeriod = flag.Duration("tick", 10*time.Millisecond, "simulated timer-interrupt period")
	)
	flag.Parse()

	if *initPath == "" {
		klog.Fatalln("kernel", "missing required -init flag")
		os.Exit(1)
	}

	frame.InitFromPhysRange(*kernelEnd, *memoryEnd)
	heap.AddSegment(0, uintptr(*heapBytes))

	trampolineGuard, ok := frame.Alloc()
	if !ok {
		panic("kernel: failed to allocate trampoline frame")
	}
	addrspace.SetTrampolinePage(uint64(trampolineGuard.PPN))

	kernelSpace := addrspace.NewKernel(addrspace.KernelSections{
		TextStart: config.KernelEntry, TextEnd: *kernelEnd,
		RodataStart: *kernelEnd, RodataEnd: *kernelEnd,
		DataStart: *kernelEnd, DataEnd: *kernelEnd,
		BSSStart: *kernelEnd, BSSEnd: *kernelEnd,
		KernelEnd: *kernelEnd,
	}, addrspace.DefaultMMIO)
	proc.SetKernelSpace(kernelSpace)

	registerSyscalls()

	initData, err := os.ReadFile(*initPath)
	if err != nil {
		klog.Fatalln("kernel", "reading init image: ", err)
		os.Exit(1)
	}
	initProc, _, err := proc.New(initData)
	if err != nil {
		klog.Fatalln("kernel", "loading init process: ", err)
		os.Exit(1)
	}

	if *pmPath != "" {
		if err := bootPMService(*pmPath, initProc.Space.Token()); err != nil {
			klog.Warnf("kernel", "continuing without process manager: %v", err)
		}
	}

	if *fsPath != "" {
		if err := bootFSService(*fsPath); err != nil {
			klog.Warnf("kernel", "continuing without filesystem service: %v", err)
		}
	}

	startTicker(*tickPeriod)

	th := sched.NewThread(initProc.PID, kernelSpace.Token(), func(y *sched.Yielder) {
		runInitLoop(y)
	})
	sched.AddThread(th)

	klog.Tagf("kernel", "starting scheduler with init pid=%d", initProc.PID)
	sched.StartSchedule()
}

// runInitLoop is the init thread's cooperative body: it repeatedly
// takes a timer trap and yields, standing in for a real user program's
// instruction stream until it is replaced by syscalls the trap table
// actually dispatches.
func runInitLoop(y *sched.Yielder) {
	for i := 0; i < 3; i++ {
		trap.Handle(y, trap.CauseTimer, 0, [3]uint64{})
	}
}

// startTicker simulates the timer interrupt trap/timer.rs's
// set_next_interrupt arms. It preempts nothing itself: a thread is
// preempted only when its body calls trap.Handle with CauseTimer. Each
// tick writes a NUL byte through the firmware console call and drains
// the PM's pending Remove notifications, since this hosted kernel has
// no real trap-return hook to check for them on.
func startTicker(period time.Duration) {
	go func() {
		for range time.Tick(period) {
			sbi.ConsolePutchar(0) // keep the firmware facade exercised
			drainPMRemovals()
		}
	}()
}

// drainPMRemovals reaps every zombie the PM has told the kernel, via an
// unsolicited, fire-and-forget Remove notification, it may now drop:
// the waiter has already consumed the exit code, so only the Space
// shell and process-table entry remain to be released.
func drainPMRemovals() {
	if pmClient == nil {
		return
	}
	for {
		token, ok := pmClient.PollRemove()
		if !ok {
			return
		}
		if pid, ok := proc.PIDForToken(token); ok {
			proc.Reap(pid)
		}
	}
}

func bootPMService(path string, initToken uint64) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	pmProc, _, err := proc.New(data)
	if err != nil {
		return err
	}

	toPM := msgport.NewQueue[pm.Kernel2PM](32)
	toKernel := msgport.NewQueue[pm.PM2Kernel](32)
	kernelSidePort := msgport.NewPort[pm.PM2Kernel, pm.Kernel2PM](toPM, toKernel, true, nil)
	pmClient = pm.NewClient(kernelSidePort)
	pmClient.Init(initToken)

	serviceThread := sched.NewThread(0, pmProc.Space.Token(), func(y *sched.Yielder) {
		y.Suspend()
	})
	sched.AddService("pm", serviceThread)
	return nil
}

// bootFSService loads the filesystem service image, wires its message
// port the same way bootPMService does for the process manager, and
// registers it as a scheduler service so it never competes with user
// threads for timer-tick preemption.
func bootFSService(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fsProc, _, err := proc.New(data)
	if err != nil {
		return err
	}

	toFS := msgport.NewQueue[kfs.Kernel2FS](32)
	toKernel := msgport.NewQueue[kfs.FS2Kernel](32)
	kernelSidePort := msgport.NewPort[kfs.FS2Kernel, kfs.Kernel2FS](toFS, toKernel, true, nil)
	fsClient = kfs.NewClient(kernelSidePort)

	serviceThread := sched.NewThread(0, fsProc.Space.Token(), func(y *sched.Yielder) {
		y.Suspend()
	})
	sched.AddService("fs", serviceThread)
	return nil
}

// fsClient is the kernel's handle to the filesystem service, set once
// bootFSService succeeds.
var fsClient *kfs.Client

// pmClient is the kernel's handle to the process manager, set once
// bootPMService succeeds. Until a PM image is loaded, waitpid returns
// EINVAL, exit and fork still do their kernel-side work without
// notifying the PM, and exec does nothing and returns 0.
var pmClient *pm.Client

// Syscall numbers follow the subset of the RISC-V Linux ABI the
// original trap/context.rs syscall table implements. The trap
// package's Syscall signature hands each handler the calling thread's
// Yielder; only sysYield needs it (to actually suspend), mirroring how
// CauseTimer already suspends inline rather than through a separate
// teardown path.
const (
	sysRead    = 63
	sysWrite   = 64
	sysExit    = 93
	sysYield   = 124
	sysGetTime = 169
	sysGetPID  = 172
	sysSbrk    = 214
	sysFork    = 220
	sysExec    = 221
	sysWaitPID = 260
)

func registerSyscalls() {
	trap.RegisterSyscall(sysWrite, func(y *sched.Yielder, args [3]uint64) int64 {
		fd, buf, length := int64(args[0]), args[1], int(args[2])
		if fd != 1 && fd != 2 {
			panic(fmt.Sprintf("kernel: write to unsupported fd %d", fd))
		}
		p, ok := proc.Get(sched.CurrentPID())
		if !ok {
			return int64(kerr.EINVAL)
		}
		for _, b := range p.Space.ReadBytes(buf, length) {
			console.PutChar(b)
		}
		return int64(length)
	})

	trap.RegisterSyscall(sysRead, func(y *sched.Yielder, args [3]uint64) int64 {
		fd, buf, length := int64(args[0]), args[1], int(args[2])
		if fd != 0 || length != 1 {
			panic(fmt.Sprintf("kernel: read fd=%d len=%d unsupported", fd, length))
		}
		p, ok := proc.Get(sched.CurrentPID())
		if !ok {
			return int64(kerr.EINVAL)
		}
		c := console.GetChar()
		if c < 0 {
			return 0
		}
		p.Space.WriteBytes(buf, []byte{byte(c)})
		return 1
	})

	trap.RegisterSyscall(sysExit, func(y *sched.Yielder, args [3]uint64) int64 {
		pid := sched.CurrentPID()
		exitCode := int32(args[0])
		p, ok := proc.Get(pid)
		if !ok {
			return int64(kerr.EINVAL)
		}
		proc.MarkZombie(p, exitCode)
		if pmClient != nil {
			pmClient.Exit(pid, exitCode)
		}
		return 0
	})

	trap.RegisterSyscall(sysYield, func(y *sched.Yielder, args [3]uint64) int64 {
		y.Suspend()
		return 0
	})

	trap.RegisterSyscall(sysGetTime, func(y *sched.Yielder, args [3]uint64) int64 {
		return time.Since(bootTime).Milliseconds()
	})

	trap.RegisterSyscall(sysGetPID, func(y *sched.Yielder, args [3]uint64) int64 {
		return int64(sched.CurrentPID())
	})

	trap.RegisterSyscall(sysSbrk, func(y *sched.Yielder, args [3]uint64) int64 {
		p, ok := proc.Get(sched.CurrentPID())
		if !ok {
			return int64(kerr.EINVAL)
		}
		delta := int64(args[0])
		old := p.Space.Brk()
		if delta == 0 {
			return int64(old)
		}
		if _, ok := p.Space.ChangeBrk(delta); !ok {
			return int64(kerr.ENOMEM)
		}
		return int64(old)
	})

	trap.RegisterSyscall(sysFork, func(y *sched.Yielder, args [3]uint64) int64 {
		pid := sched.CurrentPID()
		parent, ok := proc.Get(pid)
		if !ok {
			return int64(kerr.EINVAL)
		}
		child, err := proc.Fork(parent)
		if err != nil {
			klog.Warnf("kernel", "fork failed: %v", err)
			return int64(kerr.ENOMEM)
		}
		if pmClient != nil {
			pmClient.Fork(pid, child.Space.Token())
		}
		return int64(child.PID)
	})

	trap.RegisterSyscall(sysExec, func(y *sched.Yielder, args [3]uint64) int64 {
		pid := sched.CurrentPID()
		if pmClient != nil {
			pmClient.Exec(pid, sched.CurrentToken())
		}
		return 0
	})

	trap.RegisterSyscall(sysWaitPID, func(y *sched.Yielder, args [3]uint64) int64 {
		if pmClient == nil {
			return int64(kerr.EINVAL)
		}
		pid := sched.CurrentPID()
		childPID := int(int64(args[0]))
		codePtr := args[1]
		result, exitCode := pmClient.WaitPID(pid, childPID)
		if result >= 0 && codePtr != 0 {
			if p, ok := proc.Get(pid); ok {
				var buf [4]byte
				binary.LittleEndian.PutUint32(buf[:], uint32(exitCode))
				p.Space.WriteBytes(codePtr, buf[:])
			}
		}
		return int64(result)
	})
}
