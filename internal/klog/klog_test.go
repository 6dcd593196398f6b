package klog

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	orig := log.Out
	log.SetOutput(&buf)
	fn()
	log.SetOutput(orig)
	return buf.String()
}

func TestTagfPrefixesSubsystemTag(t *testing.T) {
	out := captureOutput(t, func() { Tagf("memory", "frame allocator covers %d pages", 16) })
	require.Contains(t, out, "[memory] frame allocator covers 16 pages")
}

func TestWarnfPrefixesSubsystemTag(t *testing.T) {
	out := captureOutput(t, func() { Warnf("kernel", "unknown syscall %d", 9999) })
	require.Contains(t, out, "[kernel] unknown syscall 9999")
}

func TestFatallnPrefixesSubsystemTag(t *testing.T) {
	out := captureOutput(t, func() { Fatalln("kernel", "reading init image:", "boom") })
	require.Contains(t, out, "[kernel]")
	require.Contains(t, out, "boom")
}
