package addrspace

import (
	"testing"

	"github.com/Conless/remire/internal/config"
	"github.com/Conless/remire/internal/frame"
	"github.com/stretchr/testify/require"
)

func resetFrames() {
	frame.Init(1, 1<<16)
	SetTrampolinePage(1)
}

func TestNewKernelMapsEverySection(t *testing.T) {
	resetFrames()
	sections := KernelSections{
		TextStart: 0x1000, TextEnd: 0x2000,
		RodataStart: 0x2000, RodataEnd: 0x3000,
		DataStart: 0x3000, DataEnd: 0x4000,
		BSSStart: 0x4000, BSSEnd: 0x5000,
		KernelEnd: 0x5000,
	}
	s := NewKernel(sections, nil)

	ppn, ok := s.Translate(0x1000 >> config.PageShift)
	require.True(t, ok)
	require.Equal(t, uint64(0x1000>>config.PageShift), ppn, "identity mapping: VPN must equal PPN")

	_, ok = s.Translate(config.Trampoline >> config.PageShift)
	require.True(t, ok, "trampoline must be mapped in every address space")
}

func TestInsertAndRemove(t *testing.T) {
	resetFrames()
	s := Empty()
	s.Insert(0x4000_0000, 0x4000_1000, 3)

	vpn := uint64(0x4000_0000) >> config.PageShift
	_, ok := s.Translate(vpn)
	require.True(t, ok)

	s.Remove(0x4000_0000)
	_, ok = s.Translate(vpn)
	require.False(t, ok)
}

func TestChangeBrkGrowsAndShrinksHeap(t *testing.T) {
	resetFrames()
	s := Empty()
	s.heapBottom = 0x6000_0000
	s.brk = 0x6000_0000
	s.Insert(0x6000_0000, 0x6000_0000, 3)

	newBrk, ok := s.ChangeBrk(0)
	require.True(t, ok)
	require.Equal(t, uint64(0x6000_0000), newBrk)

	newBrk, ok = s.ChangeBrk(int64(config.PageSize))
	require.True(t, ok)
	require.Equal(t, uint64(0x6000_1000), newBrk)
	_, mapped := s.Translate(0x6000_0000 >> config.PageShift)
	require.True(t, mapped, "growing the break must map the new page")

	newBrk, ok = s.ChangeBrk(-int64(config.PageSize))
	require.True(t, ok)
	require.Equal(t, uint64(0x6000_0000), newBrk)
	_, mapped = s.Translate(0x6000_0000 >> config.PageShift)
	require.False(t, mapped, "shrinking the break must unmap the freed page")
}

func TestChangeBrkRefusesToGoBelowHeapBottom(t *testing.T) {
	resetFrames()
	s := Empty()
	s.heapBottom = 0x6000_0000
	s.brk = 0x6000_0000

	newBrk, ok := s.ChangeBrk(-int64(config.PageSize))
	require.False(t, ok)
	require.Equal(t, uint64(0x6000_0000), newBrk)
}

func TestReadBytesAndWriteBytesRoundTripAcrossPages(t *testing.T) {
	resetFrames()
	s := Empty()
	s.Insert(0x7000_0000, 0x7000_2000, 3)

	data := make([]byte, int(config.PageSize)+16)
	for i := range data {
		data[i] = byte(i)
	}
	s.WriteBytes(0x7000_0ff0, data)

	got := s.ReadBytes(0x7000_0ff0, len(data))
	require.Equal(t, data, got)
}

func TestDropAreasUnmapsEveryArea(t *testing.T) {
	resetFrames()
	s := Empty()
	s.Insert(0x4000_0000, 0x4000_2000, 3)

	vpn := uint64(0x4000_0000) >> config.PageShift
	_, ok := s.Translate(vpn)
	require.True(t, ok)

	s.DropAreas()

	_, ok = s.Translate(vpn)
	require.False(t, ok)
	require.Empty(t, s.areas)
}

func TestShrinkAndAppend(t *testing.T) {
	resetFrames()
	s := Empty()
	s.Insert(0x5000_0000, 0x5000_3000, 3)

	ok := s.ShrinkTo(0x5000_0000, 0x5000_1000)
	require.True(t, ok)
	_, mapped := s.Translate(0x5000_2000 >> config.PageShift)
	require.False(t, mapped)

	ok = s.AppendTo(0x5000_0000, 0x5000_2000)
	require.True(t, ok)
	_, mapped = s.Translate(0x5000_1000 >> config.PageShift)
	require.True(t, mapped)
}
