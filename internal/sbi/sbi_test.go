package sbi

import (
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestConsolePutcharWritesToStdout captures os.Stdout around the call,
// since ConsolePutchar writes directly to it rather than through an
// injectable writer.
func TestConsolePutcharWritesToStdout(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	orig := os.Stdout
	os.Stdout = w
	ConsolePutchar('A')
	os.Stdout = orig
	require.NoError(t, w.Close())

	buf := make([]byte, 1)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, byte('A'), buf[0])
}

// TestShutdown runs Shutdown in a subprocess, since it calls os.Exit
// directly, the same pattern the standard library uses to test
// os.Exit-calling code (see os/exec_test.go's "helper process" idiom).
func TestShutdown(t *testing.T) {
	if os.Getenv("SBI_SHUTDOWN_HELPER") == "1" {
		Shutdown(os.Getenv("SBI_SHUTDOWN_FAILURE") == "1")
		return
	}

	t.Run("normal", func(t *testing.T) {
		cmd := exec.Command(os.Args[0], "-test.run=TestShutdown")
		cmd.Env = append(os.Environ(), "SBI_SHUTDOWN_HELPER=1")
		err := cmd.Run()
		require.NoError(t, err)
	})

	t.Run("failure", func(t *testing.T) {
		cmd := exec.Command(os.Args[0], "-test.run=TestShutdown")
		cmd.Env = append(os.Environ(), "SBI_SHUTDOWN_HELPER=1", "SBI_SHUTDOWN_FAILURE=1")
		err := cmd.Run()
		var exitErr *exec.ExitError
		require.ErrorAs(t, err, &exitErr)
		require.Equal(t, 1, exitErr.ExitCode())
	})
}
