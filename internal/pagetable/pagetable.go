package pagetable

import (
	"fmt"

	"github.com/Conless/remire/internal/frame"
	"github.com/Conless/remire/internal/klog"
)

// PageTable owns the three-level SV39 tree rooted at rootPPN, and keeps
// every frame it has allocated alive for the table's lifetime, exactly
// as the frames vector does in the original PageTable.
type PageTable struct {
	rootPPN frame.PPN
	frames  []*frame.Guard
}

// New allocates a fresh root page and returns an empty page table.
func New() *PageTable {
	g, ok := frame.Alloc()
	if !ok {
		panic("pagetable: failed to allocate frame")
	}
	return &PageTable{rootPPN: g.PPN, frames: []*frame.Guard{g}}
}

// FromToken reconstructs a non-owning view of a page table given its
// satp token, mirroring the From<usize> conversion. The returned table
// does not own any frames and must not outlive the table that created
// them; it exists so the kernel can translate addresses for whichever
// address space is currently active without re-deriving ownership.
func FromToken(token uint64) *PageTable {
	return &PageTable{rootPPN: frame.PPN(token & ((1 << 44) - 1))}
}

// Token returns the satp-format value identifying this table: SV39 mode
// in the top 4 bits, the root PPN in the low 44.
func (pt *PageTable) Token() uint64 {
	return 8<<60 | uint64(pt.rootPPN)
}

func pageBytes(ppn frame.PPN) []byte {
	return frame.BytesOf(ppn)
}

// findCreate walks to the leaf PTE for vpn, allocating intermediate
// table pages as needed, mirroring find_create_entry.
func (pt *PageTable) findCreate(vpn uint64) (page []byte, idx int) {
	idxs := VPNIndexes(vpn)
	ppn := pt.rootPPN
	for i, ix := range idxs {
		page := pageBytes(ppn)
		if i == 2 {
			return page, ix
		}
		entry := loadPTE(page, ix)
		if !entry.Valid() {
			g, ok := frame.Alloc()
			if !ok {
				panic("pagetable: failed to allocate frame")
			}
			storePTE(page, ix, NewPTE(uint64(g.PPN), FlagV))
			pt.frames = append(pt.frames, g)
			ppn = g.PPN
		} else {
			ppn = frame.PPN(entry.PPN())
		}
	}
	panic("unreachable")
}

// find walks to the leaf PTE for vpn without creating missing
// intermediate tables, returning ok=false if any level is absent.
func (pt *PageTable) find(vpn uint64) (page []byte, idx int, ok bool) {
	idxs := VPNIndexes(vpn)
	ppn := pt.rootPPN
	for i, ix := range idxs {
		p := pageBytes(ppn)
		if i == 2 {
			return p, ix, true
		}
		entry := loadPTE(p, ix)
		if !entry.Valid() {
			return nil, 0, false
		}
		ppn = frame.PPN(entry.PPN())
	}
	panic("unreachable")
}

// Map installs vpn -> ppn with the given permission flags (FlagV is
// added automatically). It panics if vpn is already mapped.
func (pt *PageTable) Map(vpn, ppn uint64, flags Flags) {
	page, idx := pt.findCreate(vpn)
	if loadPTE(page, idx).Valid() {
		panic(fmt.Sprintf("pagetable: virtual page %#x is already mapped", vpn))
	}
	storePTE(page, idx, NewPTE(ppn, flags|FlagV))
	klog.Tagf("memory", "page table %#x mapping %#x to %#x", pt.Token(), vpn, ppn)
}

// Unmap clears the mapping for vpn. It panics if vpn is not mapped.
func (pt *PageTable) Unmap(vpn uint64) {
	page, idx, ok := pt.find(vpn)
	if !ok || !loadPTE(page, idx).Valid() {
		panic(fmt.Sprintf("pagetable: virtual page %#x is not mapped", vpn))
	}
	storePTE(page, idx, PTE(0))
}

// Translate returns the PTE mapping vpn, if any.
func (pt *PageTable) Translate(vpn uint64) (PTE, bool) {
	page, idx, ok := pt.find(vpn)
	if !ok {
		return 0, false
	}
	e := loadPTE(page, idx)
	if !e.Valid() {
		return 0, false
	}
	return e, true
}

// TranslateVA resolves a full virtual address to its physical address,
// carrying the page offset across unchanged.
func (pt *PageTable) TranslateVA(va uint64, pageShift uint) (uint64, bool) {
	vpn := va >> pageShift
	e, ok := pt.Translate(vpn)
	if !ok {
		return 0, false
	}
	offset := va & ((1 << pageShift) - 1)
	return e.PPN()<<pageShift | offset, true
}
