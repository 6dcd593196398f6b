// Package sbi is the kernel's firmware interface: console I/O and
// system shutdown, standing in for the SBI calls sbi.rs makes into
// OpenSBI. Hosted here rather than on bare metal, console I/O goes to
// the process's stdio. There is no timer call: no deadline is armed
// through this package, and cmd/kernel runs a software ticker instead.
package sbi

import (
	"bufio"
	"os"

	"github.com/Conless/remire/internal/klog"
)

var stdin = bufio.NewReader(os.Stdin)

// ConsolePutchar writes one byte to the console.
func ConsolePutchar(c byte) {
	os.Stdout.Write([]byte{c})
}

// ConsoleGetchar reads one byte from the console, blocking until one is
// available. It returns -1 on EOF, matching the legacy SBI call's
// "no character" sentinel.
func ConsoleGetchar() int {
	b, err := stdin.ReadByte()
	if err != nil {
		return -1
	}
	return int(b)
}

// Shutdown terminates the process, exiting 1 on failure and 0 otherwise,
// matching system_reset's Shutdown/SystemFailure split.
func Shutdown(failure bool) {
	if failure {
		klog.Tagf("sbi", "system reset: failure shutdown")
		os.Exit(1)
	}
	klog.Tagf("sbi", "system reset: normal shutdown")
	os.Exit(0)
}
