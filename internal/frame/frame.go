// Package frame implements the kernel's physical frame allocator: a
// bump pointer over the unallocated tail of physical memory backed by a
// LIFO recycle stack, mirroring addr/stack_allocator.rs's
// StackFrameAllocator. Frames are checked out through Alloc, which
// zero-fills the page and returns a Guard that frees the frame on
// Drop, matching mm/frame/guard.rs's FrameGuard.
package frame

import (
	"fmt"
	"sync"

	"github.com/Conless/remire/internal/config"
	"github.com/Conless/remire/internal/klog"
)

// PPN is a physical page number: a physical address with the page
// offset bits shifted out.
type PPN uint64

// Addr returns the physical byte address of the start of the frame.
func (p PPN) Addr() uint64 {
	return uint64(p) << config.PageShift
}

// allocator_t is the stack-based frame allocator, guarded by a mutex in
// place of the original's UPSafeCell single-hart interior mutability.
type allocator_t struct {
	sync.Mutex
	current  PPN
	end      PPN
	recycled []PPN
}

var alloc_ allocator_t

// Init seeds the allocator with the inclusive-exclusive range [start, end)
// of frames available for allocation, in page numbers.
func Init(start, end PPN) {
	alloc_.Lock()
	defer alloc_.Unlock()
	alloc_.current = start
	alloc_.end = end
	alloc_.recycled = nil
	klog.Tagf("memory", "frame allocator covers [%#x, %#x)", start.Addr(), end.Addr())
}

// InitFromPhysRange computes the frame range for [memStart, memEnd) and
// initializes the allocator, rounding memStart up and memEnd down to
// page boundaries as the original's PhysAddr::ceil/floor do.
func InitFromPhysRange(memStart, memEnd uint64) {
	start := PPN((memStart + config.PageSize - 1) >> config.PageShift)
	end := PPN(memEnd >> config.PageShift)
	Init(start, end)
}

// allocRaw returns the next free frame without zeroing it, or false if
// the pool is exhausted.
func allocRaw() (PPN, bool) {
	alloc_.Lock()
	defer alloc_.Unlock()
	if n := len(alloc_.recycled); n > 0 {
		ppn := alloc_.recycled[n-1]
		alloc_.recycled = alloc_.recycled[:n-1]
		return ppn, true
	}
	if alloc_.current == alloc_.end {
		return 0, false
	}
	ppn := alloc_.current
	alloc_.current++
	return ppn, true
}

// dealloc returns ppn to the recycle stack. It panics on double-free or
// on freeing a frame never handed out, matching the original's
// "Frame ppn=... is invalid!" panic.
func dealloc(ppn PPN) {
	alloc_.Lock()
	defer alloc_.Unlock()
	if ppn >= alloc_.current {
		panic(fmt.Sprintf("frame: ppn=%#x was never allocated", ppn.Addr()))
	}
	for _, r := range alloc_.recycled {
		if r == ppn {
			panic(fmt.Sprintf("frame: ppn=%#x double-freed", ppn.Addr()))
		}
	}
	alloc_.recycled = append(alloc_.recycled, ppn)
}

// Guard owns one physical frame and frees it when Drop is called. The
// frame is zero-filled at acquisition time so callers never observe a
// previous tenant's data.
type Guard struct {
	PPN   PPN
	Bytes []byte
	freed bool
}

// bytesBacking maps a PPN to its backing storage. A real kernel would
// derive this from the identity-mapped kernel view of physical memory;
// here each frame owns a plain Go slice, since the allocator tracks
// page numbers rather than a fixed physical address space.
var (
	backingMu sync.Mutex
	backing   = map[PPN][]byte{}
)

func frameBytes(ppn PPN) []byte {
	backingMu.Lock()
	defer backingMu.Unlock()
	b, ok := backing[ppn]
	if !ok {
		b = make([]byte, config.PageSize)
		backing[ppn] = b
	}
	return b
}

// BytesOf returns the backing storage for ppn without allocating or
// freeing it, so page-table and address-space code can read or write a
// frame's contents by physical page number alone.
func BytesOf(ppn PPN) []byte {
	return frameBytes(ppn)
}

// Alloc checks out one frame, zero-fills it, and returns a Guard. The
// second return is false if the pool is exhausted.
func Alloc() (*Guard, bool) {
	ppn, ok := allocRaw()
	if !ok {
		return nil, false
	}
	b := frameBytes(ppn)
	for i := range b {
		b[i] = 0
	}
	return &Guard{PPN: ppn, Bytes: b}, true
}

// Drop releases the frame back to the allocator. Calling Drop more than
// once is a programmer error and panics, since it would double-free.
func (g *Guard) Drop() {
	if g.freed {
		panic("frame: Guard dropped twice")
	}
	g.freed = true
	dealloc(g.PPN)
}
