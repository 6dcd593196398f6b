package proc

import (
	"debug/elf"
	"testing"

	"github.com/Conless/remire/internal/addrspace"
	"github.com/Conless/remire/internal/config"
	"github.com/Conless/remire/internal/frame"
	"github.com/Conless/remire/internal/kstack"
	"github.com/stretchr/testify/require"
)

func resetAll(t *testing.T) {
	t.Helper()
	frame.Init(1, 1<<16)
	addrspace.SetTrampolinePage(1)
	ResetForTest(addrspace.Empty())
}

func putLE16(b []byte, v uint16) { b[0] = byte(v); b[1] = byte(v >> 8) }
func putLE32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func putLE64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// minimalRiscv64ELF builds a trivial single-segment ELF64 RISC-V image
// with one PT_LOAD segment, just enough for debug/elf to parse.
func minimalRiscv64ELF() []byte {
	const loadAddr = 0x1000
	text := []byte{0, 0, 0, 0}

	ehsize, phsize := 64, 56
	data := make([]byte, ehsize+phsize+len(text))

	copy(data[0:4], []byte{0x7f, 'E', 'L', 'F'})
	data[4] = 2 // ELFCLASS64
	data[5] = 1 // little endian
	data[6] = 1
	putLE16(data[16:], 2) // e_type = ET_EXEC
	putLE16(data[18:], uint16(elf.EM_RISCV))
	putLE32(data[20:], 1)
	putLE64(data[24:], loadAddr)
	putLE64(data[32:], uint64(ehsize))
	putLE16(data[52:], uint16(ehsize))
	putLE16(data[54:], uint16(phsize))
	putLE16(data[56:], 1)

	ph := data[ehsize:]
	putLE32(ph[0:], uint32(elf.PT_LOAD))
	putLE32(ph[4:], uint32(elf.PF_R|elf.PF_X))
	putLE64(ph[8:], uint64(ehsize+phsize))
	putLE64(ph[16:], loadAddr)
	putLE64(ph[24:], loadAddr)
	putLE64(ph[32:], uint64(len(text)))
	putLE64(ph[40:], uint64(len(text)))
	putLE64(ph[48:], uint64(config.PageSize))

	copy(data[ehsize+phsize:], text)
	return data
}

func TestNewProcessAllocatesDistinctPIDs(t *testing.T) {
	resetAll(t)
	elfData := minimalRiscv64ELF()

	p1, _, err := New(elfData)
	require.NoError(t, err)
	p2, _, err := New(elfData)
	require.NoError(t, err)

	require.NotEqual(t, p1.PID, p2.PID)
}

func TestForkDeepCopiesFramedPages(t *testing.T) {
	resetAll(t)
	elfData := minimalRiscv64ELF()
	parent, _, err := New(elfData)
	require.NoError(t, err)

	child, err := Fork(parent)
	require.NoError(t, err)
	require.NotEqual(t, parent.PID, child.PID)
	require.Len(t, parent.Children, 1)
	require.Equal(t, parent, child.Parent)

	vpn := uint64(0x1000) >> config.PageShift
	cppn, ok := child.Space.Translate(vpn)
	require.True(t, ok)
	pppn, ok := parent.Space.Translate(vpn)
	require.True(t, ok)
	require.NotEqual(t, cppn, pppn, "fork must allocate distinct frames for Framed pages")

	frame.BytesOf(frame.PPN(cppn))[0] = 0xAB
	require.NotEqual(t, byte(0xAB), frame.BytesOf(frame.PPN(pppn))[0])
}

func TestMarkZombieFreesStackSlot(t *testing.T) {
	resetAll(t)
	elfData := minimalRiscv64ELF()
	p, _, err := New(elfData)
	require.NoError(t, err)

	slot := p.StackSlot
	MarkZombie(p, 5)
	require.Equal(t, StatusZombie, p.Status)
	require.Equal(t, int32(5), p.ExitCode)

	newSlot := kstack.Alloc()
	require.Equal(t, slot, newSlot, "freeing a stack slot must make it available for reuse")
}

func TestMarkZombieDropsAddressSpaceAreas(t *testing.T) {
	resetAll(t)
	elfData := minimalRiscv64ELF()
	p, _, err := New(elfData)
	require.NoError(t, err)

	vpn := uint64(0x1000) >> config.PageShift
	_, ok := p.Space.Translate(vpn)
	require.True(t, ok)

	MarkZombie(p, 0)

	_, ok = p.Space.Translate(vpn)
	require.False(t, ok, "MarkZombie must drop the process's mapped areas and free their frames")
}

func TestForkZeroesChildA0(t *testing.T) {
	resetAll(t)
	elfData := minimalRiscv64ELF()
	parent, _, err := New(elfData)
	require.NoError(t, err)

	child, err := Fork(parent)
	require.NoError(t, err)

	trapCtxPPN, ok := child.Space.Translate(config.TrapContextVA >> config.PageShift)
	require.True(t, ok)
	ctx := ReadTrapCtx(trapCtxPPN)
	require.Zero(t, ctx.Regs[10], "the child must observe fork() == 0 in a0")
}
