// Package addrspace implements MMStruct, a process's address space:
// its page table plus the VMAreas mapped into it, mirroring
// mm/mm_struct.rs of the original implementation. new_kernel builds the
// identity-mapped kernel space; new_app loads an ELF binary's PT_LOAD
// segments as Framed areas, appends the user stack and heap above the
// highest segment, and maps the trap context area at the fixed VA
// internal/config defines.
package addrspace

import (
	"debug/elf"
	"fmt"

	"github.com/Conless/remire/internal/config"
	"github.com/Conless/remire/internal/frame"
	"github.com/Conless/remire/internal/klog"
	"github.com/Conless/remire/internal/pagetable"
	"github.com/Conless/remire/internal/vmarea"
)

// MMIORange describes one memory-mapped I/O window to identity-map into
// every address space, mirroring the original's MMIO constant table.
type MMIORange struct {
	Base uint64
	Len  uint64
}

// DefaultMMIO lists the virt machine's MMIO windows the kernel needs
// identity-mapped: CLINT and UART.
var DefaultMMIO = []MMIORange{
	{Base: config.CLINTBase, Len: 0x10000},
	{Base: config.UARTBase, Len: 0x1000},
}

// Space is one MMStruct: a page table plus its mapped areas. heapBottom
// and brk track the user heap's [heap_bottom, brk) range the way
// MMStruct's own fields do, so ChangeBrk has somewhere to grow or
// shrink from without re-deriving it from the area list each call.
type Space struct {
	pt         *pagetable.PageTable
	areas      []*vmarea.Area
	heapBottom uint64
	brk        uint64
}

// Empty returns an address space with a fresh, empty page table.
func Empty() *Space {
	return &Space{pt: pagetable.New()}
}

// Token returns the satp-format value for this space's page table.
func (s *Space) Token() uint64 { return s.pt.Token() }

// PageTable exposes the underlying page table for trap/scheduler code
// that needs to translate addresses directly.
func (s *Space) PageTable() *pagetable.PageTable { return s.pt }

func (s *Space) push(area *vmarea.Area, data []byte) {
	area.Map(s.pt)
	if data != nil {
		area.CopyData(s.pt, data)
	}
	s.areas = append(s.areas, area)
}

// Insert maps a fresh Framed area covering [startVA, endVA) with the
// given permission. Callers are responsible for avoiding overlap with
// existing areas, as in the original's insert.
func (s *Space) Insert(startVA, endVA uint64, perm vmarea.Permission) {
	s.push(vmarea.New(startVA, endVA, vmarea.Framed, perm), nil)
}

// Remove unmaps and drops the area starting at the page containing
// startVA, if one exists.
func (s *Space) Remove(startVA uint64) {
	startVPN := startVA >> config.PageShift
	for i, a := range s.areas {
		if a.StartVPN == startVPN {
			a.Unmap(s.pt)
			s.areas = append(s.areas[:i], s.areas[i+1:]...)
			return
		}
	}
}

// trampolinePPN is set once at boot by cmd/kernel to the physical page
// holding the trampoline code, shared identically by every address
// space exactly as strampoline is in the original.
var trampolinePPN uint64

// SetTrampolinePage records the physical page the trampoline trap/
// restore code occupies, so NewKernel and NewApp can map it identically.
func SetTrampolinePage(ppn uint64) {
	trampolinePPN = ppn
}

func (s *Space) mapTrampoline() {
	s.pt.Map(config.Trampoline>>config.PageShift, trampolinePPN, pagetable.FlagR|pagetable.FlagX)
}

// KernelSections describes the kernel image's section boundaries, which
// in a real boot come from linker symbols; cmd/kernel supplies them
// after reading the loaded image layout.
type KernelSections struct {
	TextStart, TextEnd     uint64
	RodataStart, RodataEnd uint64
	DataStart, DataEnd     uint64
	BSSStart, BSSEnd       uint64
	KernelEnd              uint64
}

// NewKernel builds the identity-mapped kernel address space: one area
// per kernel section, physical memory beyond the kernel image, and the
// machine's MMIO windows, all Identical-mapped as in new_kernel.
func NewKernel(sections KernelSections, mmio []MMIORange) *Space {
	s := Empty()
	s.mapTrampoline()

	klog.Tagf("kernel", "mapping .text [%#x, %#x)", sections.TextStart, sections.TextEnd)
	s.push(vmarea.New(sections.TextStart, sections.TextEnd, vmarea.Identical, vmarea.PermR|vmarea.PermX), nil)

	klog.Tagf("kernel", "mapping .rodata [%#x, %#x)", sections.RodataStart, sections.RodataEnd)
	s.push(vmarea.New(sections.RodataStart, sections.RodataEnd, vmarea.Identical, vmarea.PermR), nil)

	klog.Tagf("kernel", "mapping .data [%#x, %#x)", sections.DataStart, sections.DataEnd)
	s.push(vmarea.New(sections.DataStart, sections.DataEnd, vmarea.Identical, vmarea.PermR|vmarea.PermW), nil)

	klog.Tagf("kernel", "mapping .bss [%#x, %#x)", sections.BSSStart, sections.BSSEnd)
	s.push(vmarea.New(sections.BSSStart, sections.BSSEnd, vmarea.Identical, vmarea.PermR|vmarea.PermW), nil)

	klog.Tagf("kernel", "mapping physical memory [%#x, %#x)", sections.KernelEnd, config.MemoryEnd)
	s.push(vmarea.New(sections.KernelEnd, config.MemoryEnd, vmarea.Identical, vmarea.PermR|vmarea.PermW), nil)

	for _, r := range mmio {
		klog.Tagf("kernel", "mapping MMIO [%#x, %#x)", r.Base, r.Base+r.Len)
		s.push(vmarea.New(r.Base, r.Base+r.Len, vmarea.Identical, vmarea.PermR|vmarea.PermW), nil)
	}
	return s
}

// AppLayout reports the values a caller needs after building a user
// address space: the user stack's top VA and the ELF entry point.
type AppLayout struct {
	UserStackTop uint64
	EntryPoint   uint64
}

// NewApp parses appData as an ELF binary, maps each PT_LOAD segment as
// a Framed area with permissions derived from the segment's flags, then
// appends the user stack, an initially empty heap area, and the trap
// context area, mirroring new_app.
func NewApp(appData []byte) (*Space, AppLayout, error) {
	s := Empty()
	s.mapTrampoline()

	f, err := elf.NewFile(byteReaderAt(appData))
	if err != nil {
		return nil, AppLayout{}, fmt.Errorf("addrspace: parse elf: %w", err)
	}
	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return nil, AppLayout{}, fmt.Errorf("addrspace: not a riscv64 elf")
	}

	var lastEnd uint64
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		startVA := prog.Vaddr
		endVA := prog.Vaddr + prog.Memsz

		perm := vmarea.PermU
		if prog.Flags&elf.PF_R != 0 {
			perm |= vmarea.PermR
		}
		if prog.Flags&elf.PF_W != 0 {
			perm |= vmarea.PermW
		}
		if prog.Flags&elf.PF_X != 0 {
			perm |= vmarea.PermX
		}

		area := vmarea.New(startVA, endVA, vmarea.Framed, perm)
		segData := appData[prog.Off : prog.Off+prog.Filesz]
		s.push(area, segData)
		klog.Tagf("kernel", "mapping app section [%#x, %#x)", startVA, endVA)

		if area.EndVPN > lastEnd {
			lastEnd = area.EndVPN
		}
	}

	endVA := lastEnd << config.PageShift
	userStackBottom := endVA + config.PageSize
	userStackTop := userStackBottom + config.PageSize
	klog.Tagf("kernel", "mapping user stack [%#x, %#x)", userStackBottom, userStackTop)
	s.push(vmarea.New(userStackBottom, userStackTop, vmarea.Framed, vmarea.PermR|vmarea.PermW|vmarea.PermU), nil)

	klog.Tagf("kernel", "mapping user heap at %#x", userStackTop)
	s.push(vmarea.New(userStackTop, userStackTop, vmarea.Framed, vmarea.PermR|vmarea.PermW|vmarea.PermU), nil)
	s.heapBottom = userStackTop
	s.brk = userStackTop

	klog.Tagf("kernel", "mapping trap context [%#x, %#x)", config.TrapContextVA, config.Trampoline)
	s.push(vmarea.New(config.TrapContextVA, config.Trampoline, vmarea.Framed, vmarea.PermR|vmarea.PermW), nil)

	return s, AppLayout{UserStackTop: userStackTop, EntryPoint: f.Entry}, nil
}

// Translate resolves vpn to its physical page number, if mapped.
func (s *Space) Translate(vpn uint64) (uint64, bool) {
	pte, ok := s.pt.Translate(vpn)
	if !ok {
		return 0, false
	}
	return pte.PPN(), true
}

// ShrinkTo narrows the area starting at start down to newEnd, returning
// false if no area starts at start.
func (s *Space) ShrinkTo(start, newEnd uint64) bool {
	startVPN := start >> config.PageShift
	endVPN := (newEnd + config.PageSize - 1) >> config.PageShift
	for _, a := range s.areas {
		if a.StartVPN == startVPN {
			a.ShrinkTo(s.pt, endVPN)
			return true
		}
	}
	return false
}

// AppendTo widens the area starting at start up to newEnd, returning
// false if no area starts at start.
func (s *Space) AppendTo(start, newEnd uint64) bool {
	startVPN := start >> config.PageShift
	endVPN := (newEnd + config.PageSize - 1) >> config.PageShift
	for _, a := range s.areas {
		if a.StartVPN == startVPN {
			a.AppendTo(s.pt, endVPN)
			return true
		}
	}
	return false
}

// Brk reports the current top of the heap area, the value sbrk(0)
// returns without changing anything.
func (s *Space) Brk() uint64 { return s.brk }

// ChangeBrk grows or shrinks the heap area by delta bytes, mirroring
// MMStruct::change_brk. It refuses a delta that would push the new
// break below heap_bottom and reports the resulting break either way.
func (s *Space) ChangeBrk(delta int64) (newBrk uint64, ok bool) {
	next := int64(s.brk) + delta
	if next < int64(s.heapBottom) {
		return s.brk, false
	}
	newBrk = uint64(next)
	switch {
	case delta > 0:
		if !s.AppendTo(s.heapBottom, newBrk) {
			return s.brk, false
		}
	case delta < 0:
		if !s.ShrinkTo(s.heapBottom, newBrk) {
			return s.brk, false
		}
	}
	s.brk = newBrk
	return s.brk, true
}

// ReadBytes copies length bytes out of the address space starting at
// virtual address va, walking page boundaries the way CopyData does
// for the inverse direction. It panics if any page in the range is
// unmapped, matching the original's translated_byte_buffer assumption
// that the caller already validated the user pointer.
func (s *Space) ReadBytes(va uint64, length int) []byte {
	out := make([]byte, 0, length)
	for len(out) < length {
		vpn := va >> config.PageShift
		ppn, ok := s.Translate(vpn)
		if !ok {
			panic("addrspace: read from unmapped page")
		}
		offset := va & config.PageOffsetMask
		page := frame.BytesOf(frame.PPN(ppn))
		n := int(config.PageSize - offset)
		if remaining := length - len(out); n > remaining {
			n = remaining
		}
		out = append(out, page[offset:offset+uint64(n)]...)
		va += uint64(n)
	}
	return out
}

// WriteBytes copies data into the address space starting at virtual
// address va, walking page boundaries the same way ReadBytes does. It
// panics if any page in the range is unmapped.
func (s *Space) WriteBytes(va uint64, data []byte) {
	written := 0
	for written < len(data) {
		vpn := va >> config.PageShift
		ppn, ok := s.Translate(vpn)
		if !ok {
			panic("addrspace: write to unmapped page")
		}
		offset := va & config.PageOffsetMask
		page := frame.BytesOf(frame.PPN(ppn))
		n := int(config.PageSize - offset)
		if remaining := len(data) - written; n > remaining {
			n = remaining
		}
		copy(page[offset:offset+uint64(n)], data[written:written+n])
		written += n
		va += uint64(n)
	}
}

// DropAreas unmaps and frees every area's frames, leaving the page
// table (and whatever it still maps, such as the trampoline) as the
// Space's now-area-less shell. This is the "drop all areas (frees
// frames)" half of recycling an exited process; the shell itself, and
// the page table frames backing it, survive until the process record
// is reaped.
func (s *Space) DropAreas() {
	for _, a := range s.areas {
		a.Unmap(s.pt)
	}
	s.areas = nil
}

// Clone deep-copies the address space for fork: every Framed area gets
// freshly allocated frames with byte-for-byte copied contents, while
// Identical areas are remapped to the same physical pages without ever
// physically copying them, since their VPN already equals their PPN in
// every address space.
func (s *Space) Clone() *Space {
	child := &Space{pt: pagetable.New(), heapBottom: s.heapBottom, brk: s.brk}
	child.mapTrampoline()

	for _, a := range s.areas {
		switch a.MapType() {
		case vmarea.Identical:
			clone := a.CloneEmpty()
			clone.Map(child.pt)
			child.areas = append(child.areas, clone)
		case vmarea.Framed:
			clone := a.CloneEmpty()
			clone.Map(child.pt)
			for vpn := a.StartVPN; vpn < a.EndVPN; vpn++ {
				src, ok := a.FrameAt(vpn)
				if !ok {
					continue
				}
				dst, ok := clone.FrameAt(vpn)
				if !ok {
					panic("addrspace: clone did not allocate a frame for a mapped page")
				}
				copy(dst.Bytes, src.Bytes)
			}
			child.areas = append(child.areas, clone)
		}
	}
	return child
}
