// Package kfs defines the Kernel2FS/FS2Kernel message protocol for the
// filesystem service's message port. It carries the wire types plus the
// kernel-side Client in client.go; no filesystem logic is implemented, but the protocol
// surface is supplemented here from ksync/src/msg/fs.rs so the port
// wiring (internal/msgport, internal/pm's sibling service) has a real
// second consumer beyond the process manager.
package kfs

// Kernel2FSTag discriminates the Kernel2FS request variants.
type Kernel2FSTag int

const (
	TagOpen Kernel2FSTag = iota
	TagWrite
	TagRead
	TagClose
	TagExit
	TagFork
	TagExec
)

// Kernel2FS is a request the kernel sends to the filesystem service.
// Path/buffer arguments are carried as virtual addresses and lengths
// exactly as the original passes raw pointers across the port, since
// both sides share the requesting process's address space mapping.
type Kernel2FS struct {
	Tag      Kernel2FSTag
	PID      int
	FD       int
	Path     uint64
	PathLen  int
	Buf      uint64
	BufLen   int
	Flags    int
	Mode     int
	ChildPID int
}

// FS2KernelTag discriminates the FS2Kernel reply variants.
type FS2KernelTag int

const (
	TagOpenReply FS2KernelTag = iota
	TagWriteReply
	TagReadReply
	TagCloseReply
	TagExecReply
)

// FS2Kernel is a reply the filesystem service sends back.
type FS2Kernel struct {
	Tag    FS2KernelTag
	Result int64
	Dest   uint64
	Len    int
}
