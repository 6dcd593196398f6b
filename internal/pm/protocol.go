// Package pm implements the kernel-side client for the process-manager
// service: the Kernel2PM/PM2Kernel message protocol and a façade
// (Fork/Exec/WaitPID/Exit) that turns a syscall into a message sent
// over a msgport.Port and, where a reply is expected, blocks for it.
// Mirrors ksync/src/msg/task.rs and services/pm.rs.
package pm

// Kernel2PM is a request the kernel sends to the process manager.
type Kernel2PM struct {
	Tag   Kernel2PMTag
	Token uint64
	PID   int
	// ChildPID carries a WaitPID target (-1 meaning "any child").
	ChildPID int
	ExitCode int32
}

// Kernel2PMTag discriminates the Kernel2PM variants, standing in for
// the original's enum tag.
type Kernel2PMTag int

const (
	TagInit Kernel2PMTag = iota
	TagFork
	TagExec
	TagWaitPID
	TagExit
)

// PM2Kernel is a reply or notification the process manager sends back.
type PM2Kernel struct {
	Tag      PM2KernelTag
	ChildPID int
	Result   int
	ExitCode int32
	Token    uint64
}

// PM2KernelTag discriminates the PM2Kernel variants.
type PM2KernelTag int

const (
	TagForkReply PM2KernelTag = iota
	TagWaitPIDReply
	// TagRemove is a PM-emitted, fire-and-forget notification (no
	// reply): a zombie's address space and PID may be dropped now that
	// a waiter has consumed its exit code, mirroring
	// ksync/src/msg/task.rs's PM2Kernel::Recycle.
	TagRemove
)
