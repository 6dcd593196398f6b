package frame

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocZeroFillsAndAdvances(t *testing.T) {
	Init(100, 103)

	g1, ok := Alloc()
	require.True(t, ok)
	require.Equal(t, PPN(100), g1.PPN)
	for _, b := range g1.Bytes {
		require.Zero(t, b)
	}
	g1.Bytes[0] = 0xff

	g2, ok := Alloc()
	require.True(t, ok)
	require.Equal(t, PPN(101), g2.PPN)

	g3, ok := Alloc()
	require.True(t, ok)
	require.Equal(t, PPN(102), g3.PPN)

	_, ok = Alloc()
	require.False(t, ok, "pool of 3 frames should be exhausted")
}

func TestDropRecyclesAndZeroesOnNextAlloc(t *testing.T) {
	Init(200, 201)

	g, ok := Alloc()
	require.True(t, ok)
	g.Bytes[5] = 0x42
	g.Drop()

	g2, ok := Alloc()
	require.True(t, ok)
	require.Equal(t, PPN(200), g2.PPN, "the only freed frame should be reused")
	require.Zero(t, g2.Bytes[5], "reallocated frame must be zero-filled")
}

func TestDropTwicePanics(t *testing.T) {
	Init(300, 301)
	g, ok := Alloc()
	require.True(t, ok)
	g.Drop()
	require.Panics(t, func() { g.Drop() })
}

func TestRecycledPreferredOverBump(t *testing.T) {
	Init(400, 403)

	a, _ := Alloc()
	b, _ := Alloc()
	a.Drop()

	c, ok := Alloc()
	require.True(t, ok)
	require.Equal(t, a.PPN, c.PPN, "recycled frame must be handed out before advancing current")

	b.Drop()
	c.Drop()
}
