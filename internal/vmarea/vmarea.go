// Package vmarea implements VMArea, one contiguous mapped region of an
// address space, mirroring mm/vm_area.rs of the original implementation.
// An area either maps its pages identically (virtual == physical, used
// for the kernel's own view of memory) or maps each page to a freshly
// allocated frame, tracked in data_frames so the frames stay alive for
// the area's lifetime and are freed when the area is torn down.
package vmarea

import (
	"github.com/Conless/remire/internal/config"
	"github.com/Conless/remire/internal/frame"
	"github.com/Conless/remire/internal/pagetable"
)

// MapType selects how an area's pages are backed.
type MapType int

const (
	// Identical maps VPN n to PPN n; used for kernel text/data and MMIO
	// windows, which sit at their physical address.
	Identical MapType = iota
	// Framed allocates a distinct physical frame per virtual page.
	Framed
)

// Permission is the subset of PTE flags meaningful to an area: R/W/X/U.
type Permission uint8

const (
	PermR Permission = 1 << 1
	PermW Permission = 1 << 2
	PermX Permission = 1 << 3
	PermU Permission = 1 << 4
)

func (p Permission) pteFlags() pagetable.Flags {
	return pagetable.Flags(p)
}

// Area is one VMArea: a VPN range plus the frames backing it, if any.
type Area struct {
	StartVPN uint64
	EndVPN   uint64 // exclusive
	mapType  MapType
	perm     Permission

	// dataFrames owns the frames for a Framed area, keyed by VPN, so a
	// clone can start with an empty map the way VMArea's Clone does.
	dataFrames map[uint64]*frame.Guard
}

// New creates an area covering [startVA, endVA), rounding the start
// down and the end up to page boundaries.
func New(startVA, endVA uint64, mapType MapType, perm Permission) *Area {
	startVPN := startVA >> config.PageShift
	endVPN := (endVA + config.PageSize - 1) >> config.PageShift
	return &Area{
		StartVPN:   startVPN,
		EndVPN:     endVPN,
		mapType:    mapType,
		perm:       perm,
		dataFrames: map[uint64]*frame.Guard{},
	}
}

// CloneEmpty returns a new area with the same range/type/permission but
// no backing frames, matching VMArea's Clone semantics: a fork
// reconstructs an Identical area's mapping without copying memory, and
// the caller (addrspace's Clone) then copies a Framed area's contents
// page by page into the frames Map allocates.
func (a *Area) CloneEmpty() *Area {
	return &Area{
		StartVPN:   a.StartVPN,
		EndVPN:     a.EndVPN,
		mapType:    a.mapType,
		perm:       a.perm,
		dataFrames: map[uint64]*frame.Guard{},
	}
}

// MapOne installs the mapping for a single vpn within the area's range.
func (a *Area) MapOne(pt *pagetable.PageTable, vpn uint64) {
	var ppn uint64
	switch a.mapType {
	case Identical:
		ppn = vpn
	case Framed:
		g, ok := frame.Alloc()
		if !ok {
			panic("vmarea: failed to allocate frame")
		}
		ppn = uint64(g.PPN)
		a.dataFrames[vpn] = g
	}
	pt.Map(vpn, ppn, a.perm.pteFlags())
}

// UnmapOne removes the mapping for vpn, releasing its frame if Framed.
func (a *Area) UnmapOne(pt *pagetable.PageTable, vpn uint64) {
	if a.mapType == Framed {
		if g, ok := a.dataFrames[vpn]; ok {
			g.Drop()
			delete(a.dataFrames, vpn)
		}
	}
	pt.Unmap(vpn)
}

// Map installs mappings for every page in the area's range.
func (a *Area) Map(pt *pagetable.PageTable) {
	for vpn := a.StartVPN; vpn < a.EndVPN; vpn++ {
		a.MapOne(pt, vpn)
	}
}

// Unmap removes mappings for every page in the area's range.
func (a *Area) Unmap(pt *pagetable.PageTable) {
	for vpn := a.StartVPN; vpn < a.EndVPN; vpn++ {
		a.UnmapOne(pt, vpn)
	}
}

// CopyData writes data into the area's pages, one page at a time,
// starting at the area's first page. The area must already be mapped.
func (a *Area) CopyData(pt *pagetable.PageTable, data []byte) {
	vpn := a.StartVPN
	start := 0
	for {
		end := start + int(config.PageSize)
		if end > len(data) {
			end = len(data)
		}
		src := data[start:end]

		pte, ok := pt.Translate(vpn)
		if !ok {
			panic("vmarea: destination page not mapped")
		}
		dst := frame.BytesOf(frame.PPN(pte.PPN()))
		copy(dst[:len(src)], src)

		start += int(config.PageSize)
		if start >= len(data) {
			break
		}
		vpn++
	}
}

// ShrinkTo unmaps pages beyond newEnd and narrows the area's range.
func (a *Area) ShrinkTo(pt *pagetable.PageTable, newEnd uint64) {
	for vpn := newEnd; vpn < a.EndVPN; vpn++ {
		a.UnmapOne(pt, vpn)
	}
	a.EndVPN = newEnd
}

// AppendTo maps pages up to newEnd and widens the area's range.
func (a *Area) AppendTo(pt *pagetable.PageTable, newEnd uint64) {
	for vpn := a.EndVPN; vpn < newEnd; vpn++ {
		a.MapOne(pt, vpn)
	}
	a.EndVPN = newEnd
}

// Contains reports whether vpn falls within the area's range.
func (a *Area) Contains(vpn uint64) bool {
	return vpn >= a.StartVPN && vpn < a.EndVPN
}

// MapType reports how the area's pages are backed.
func (a *Area) MapType() MapType { return a.mapType }

// Perm reports the area's mapping permission.
func (a *Area) Perm() Permission { return a.perm }

// FrameAt returns the frame backing vpn in a Framed area, if any.
func (a *Area) FrameAt(vpn uint64) (*frame.Guard, bool) {
	g, ok := a.dataFrames[vpn]
	return g, ok
}
