package kstack

import (
	"testing"

	"github.com/Conless/remire/internal/addrspace"
	"github.com/Conless/remire/internal/config"
	"github.com/Conless/remire/internal/frame"
	"github.com/stretchr/testify/require"
)

func resetRegistry() {
	reg_.Lock()
	reg_.used = map[int]bool{}
	reg_.Unlock()
}

func TestAllocAssignsDistinctIDsAndFreeRecycles(t *testing.T) {
	resetRegistry()

	a := Alloc()
	b := Alloc()
	require.NotEqual(t, a, b)

	Free(a)
	c := Alloc()
	require.Equal(t, a, c, "freed slot should be reused before a fresh one")
}

func TestFreeUnallocatedSlotPanics(t *testing.T) {
	resetRegistry()
	require.Panics(t, func() { Free(5) })
}

func TestDoubleFreePanics(t *testing.T) {
	resetRegistry()
	id := Alloc()
	Free(id)
	require.Panics(t, func() { Free(id) })
}

func TestMapInsertsAreaAtConfiguredVAAndUnmapRemovesIt(t *testing.T) {
	resetRegistry()
	frame.Init(1, 1<<16)
	addrspace.SetTrampolinePage(1)
	kernel := addrspace.Empty()

	id := Alloc()
	top := Map(kernel, id)

	require.Equal(t, config.KernelStackTop(id), top)
	vpn := config.KernelStackBottom(id) >> config.PageShift
	_, ok := kernel.Translate(vpn)
	require.True(t, ok)

	Unmap(kernel, id)
	_, ok = kernel.Translate(vpn)
	require.False(t, ok)
}
