// Package pagetable implements the SV39 three-level page table,
// mirroring mm/page_table.rs of the original implementation: each
// PageTableEntry packs a physical page number and permission flags into
// one 64-bit word, and PageTable walks/creates the three levels on
// demand, backed by frames owned through internal/frame.
package pagetable

import (
	"encoding/binary"

	"github.com/Conless/remire/internal/config"
)

// Flags are the low 8 bits of a page table entry.
type Flags uint8

const (
	FlagV Flags = 1 << 0 // Valid
	FlagR Flags = 1 << 1 // Readable
	FlagW Flags = 1 << 2 // Writable
	FlagX Flags = 1 << 3 // Executable
	FlagU Flags = 1 << 4 // User-accessible
	FlagG Flags = 1 << 5 // Global
	FlagA Flags = 1 << 6 // Accessed
	FlagD Flags = 1 << 7 // Dirty
)

// entriesPerPage is the number of 8-byte PTEs in one SV39 page table page.
const entriesPerPage = int(config.PageSize / 8)

// PTE is a single SV39 page table entry:
//
//	|  63-54   | 53-10 |9-8|7|6|5|4|3|2|1|0|
//	| reserved |  PPN  |RSW|D|A|G|U|X|W|R|V|
type PTE uint64

// NewPTE packs ppn and flags into one entry.
func NewPTE(ppn uint64, flags Flags) PTE {
	return PTE(ppn<<10 | uint64(flags))
}

// PPN extracts the 44-bit physical page number.
func (e PTE) PPN() uint64 {
	return (uint64(e) >> 10) & ((1 << 44) - 1)
}

// Flags extracts the permission/status bits.
func (e PTE) Flags() Flags {
	return Flags(e)
}

func (e PTE) Valid() bool      { return e.Flags()&FlagV != 0 }
func (e PTE) Readable() bool   { return e.Flags()&FlagR != 0 }
func (e PTE) Writable() bool   { return e.Flags()&FlagW != 0 }
func (e PTE) Executable() bool { return e.Flags()&FlagX != 0 }
func (e PTE) User() bool       { return e.Flags()&FlagU != 0 }

func storePTE(bytes []byte, idx int, e PTE) {
	binary.LittleEndian.PutUint64(bytes[idx*8:idx*8+8], uint64(e))
}

func loadPTE(bytes []byte, idx int) PTE {
	return PTE(binary.LittleEndian.Uint64(bytes[idx*8 : idx*8+8]))
}

// VPNIndexes splits a virtual page number into its three 9-bit SV39
// indexes, root level first.
func VPNIndexes(vpn uint64) [3]int {
	return [3]int{
		int((vpn >> 18) & 0x1ff),
		int((vpn >> 9) & 0x1ff),
		int(vpn & 0x1ff),
	}
}
