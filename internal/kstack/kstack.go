// Package kstack manages the kernel's per-process stack slots. Unlike
// the original's legacy stack.rs (a single static KERNEL_STACK array
// reused by every thread in turn), each process here is given its own
// slot at a fixed, id-derived VA below the trampoline, following the
// addressing scheme the original's config module reserves space for but
// stack.rs never actually used. A slot is a Framed vmarea.Area mapped
// into the kernel's own address space for the process's lifetime.
package kstack

import (
	"fmt"
	"sync"

	"github.com/Conless/remire/internal/addrspace"
	"github.com/Conless/remire/internal/config"
	"github.com/Conless/remire/internal/vmarea"
)

// registry_t tracks which slot ids are in use.
type registry_t struct {
	sync.Mutex
	used map[int]bool
}

var reg_ = registry_t{used: map[int]bool{}}

// Alloc reserves the next free slot id.
func Alloc() int {
	reg_.Lock()
	defer reg_.Unlock()
	for id := 0; id < config.MaxProcesses; id++ {
		if !reg_.used[id] {
			reg_.used[id] = true
			return id
		}
	}
	panic("kstack: no free kernel stack slots")
}

// Free releases a slot id back to the pool.
func Free(id int) {
	reg_.Lock()
	defer reg_.Unlock()
	if !reg_.used[id] {
		panic(fmt.Sprintf("kstack: slot %d double-freed", id))
	}
	delete(reg_.used, id)
}

// Map installs the kernel-stack area for slot id into the kernel's own
// address space and returns its top VA (the initial stack pointer a
// freshly scheduled thread starts with).
func Map(kernel *addrspace.Space, id int) uint64 {
	bottom := config.KernelStackBottom(id)
	top := config.KernelStackTop(id)
	kernel.Insert(bottom, top, vmarea.PermR|vmarea.PermW)
	return top
}

// Unmap removes slot id's area from the kernel address space.
func Unmap(kernel *addrspace.Space, id int) {
	kernel.Remove(config.KernelStackBottom(id))
}
